package bullmq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/log"
	"github.com/nagyist/bullmq/internal/rdb"
)

func TestJanitorZeroIntervalDoesNotStart(t *testing.T) {
	j := newJanitor(janitorParams{logger: log.NewLogger(nil), broker: nil, qname: "q"})
	var wg sync.WaitGroup
	j.start(&wg)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected start() with a zero interval to not register any goroutine on the WaitGroup")
	}

	j.shutdown() // must not panic on a done channel that start() never needed to use
}

func TestJanitorExecCleansTerminalJobs(t *testing.T) {
	client := newTestRedisClient(t)
	qname := "test-janitor-" + uuid.NewString()
	broker := rdb.NewRDB(client)
	defer func() {
		broker.Obliterate(context.Background(), qname, true)
		broker.Close()
	}()
	ctx := context.Background()

	id, _, err := broker.Add(ctx, qname, base.AddOptions{Name: "job"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	token := uuid.NewString()
	res, err := broker.MoveToActive(ctx, qname, token, 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job == nil {
		t.Fatal("expected a job to be dispatched")
	}
	if err := broker.MoveToCompleted(ctx, qname, id, token, []byte(`"ok"`), nil); err != nil {
		t.Fatalf("MoveToCompleted: %v", err)
	}

	j := newJanitor(janitorParams{
		logger:    log.NewLogger(nil),
		broker:    broker,
		qname:     qname,
		interval:  time.Minute,
		grace:     0,
		batchSize: 1000,
	})
	j.exec()

	_, _, err = broker.GetJob(ctx, qname, id)
	if err == nil {
		t.Fatal("expected the completed job to have been cleaned")
	}
}
