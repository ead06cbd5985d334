package main

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/nagyist/bullmq"
	"github.com/nagyist/bullmq/internal/base"
)

var pageTemplates = template.Must(template.New("dashboard").Parse(`
<!DOCTYPE html>
<html>
<head><title>bullmq dashboard</title></head>
<body>
<h1>Queues</h1>
<table border="1" cellpadding="4">
<tr><th>Name</th><th>Counts</th><th>Paused</th></tr>
{{range .Queues}}
<tr>
  <td><a href="/queues/{{.Name}}">{{.Name}}</a></td>
  <td>{{range $state, $n := .Counts}}{{$state}}={{$n}} {{end}}</td>
  <td>{{.Paused}}</td>
</tr>
{{end}}
</table>
<h2>Workers ({{.Stats.ActiveServers}} servers, {{.Stats.ActiveWorkers}} active)</h2>
</body>
</html>
`))

var jobListTemplate = template.Must(template.New("jobs").Parse(`
<!DOCTYPE html>
<html>
<head><title>{{.Queue}} / {{.State}}</title></head>
<body>
<h1>{{.Queue}} ({{.State}})</h1>
<ul>
{{range .Jobs}}<li>{{.ID}} - {{.Name}}</li>{{end}}
</ul>
</body>
</html>
`))

// Handler serves the dashboard's HTTP and websocket endpoints.
type Handler struct {
	inspector *Inspector
	upgrader  websocket.Upgrader
}

// NewHandler creates a new Handler.
func NewHandler(inspector *Inspector) *Handler {
	return &Handler{
		inspector: inspector,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// RegisterRoutes registers HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleDashboard)
	mux.HandleFunc("/queues/", h.handleQueueJobs)
	mux.HandleFunc("/api/stats", h.handleAPIStats)
	mux.HandleFunc("/ws", h.handleEventsWS)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	queues, err := h.inspector.GetQueues(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats, err := h.inspector.GetDashboardStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{"Queues": queues, "Stats": stats}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleQueueJobs(w http.ResponseWriter, r *http.Request) {
	qname := strings.TrimPrefix(r.URL.Path, "/queues/")
	if qname == "" {
		http.NotFound(w, r)
		return
	}

	stateParam := r.URL.Query().Get("state")
	if stateParam == "" {
		stateParam = "waiting"
	}
	state, err := base.JobStateFromString(stateParam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobs, err := h.inspector.GetJobs(r.Context(), qname, state, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{"Queue": qname, "State": stateParam, "Jobs": jobs}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := jobListTemplate.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inspector.GetDashboardStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleEventsWS upgrades to a websocket and streams lifecycle events from
// every watched queue until the client disconnects.
func (h *Handler) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	type wsEvent struct {
		Queue string `json:"queue"`
		Kind  string `json:"kind"`
		JobID string `json:"jobId"`
	}
	msgs := make(chan wsEvent, 64)

	for qname := range h.inspector.queues {
		qname := qname
		go func() {
			ev := bullmq.NewQueueEventsFromRedisClient(qname, h.inspector.client, bullmq.QueueOptions{})
			defer ev.Close()
			ev.Run(ctx, func(e bullmq.Event) {
				select {
				case msgs <- wsEvent{Queue: qname, Kind: e.Kind, JobID: e.JobID}:
				case <-ctx.Done():
				}
			})
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-msgs:
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}
