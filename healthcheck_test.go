package bullmq

import (
	"sync"
	"testing"
	"time"

	"github.com/nagyist/bullmq/internal/log"
	"github.com/nagyist/bullmq/internal/rdb"
)

func TestHealthCheckerNilCallbackDoesNotStart(t *testing.T) {
	hc := newHealthChecker(healthcheckerParams{logger: log.NewLogger(nil), interval: time.Millisecond})
	var wg sync.WaitGroup
	hc.start(&wg)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected start() with no healthcheckFunc to not register a goroutine")
	}

	hc.shutdown() // must not panic when healthcheckFunc is nil
}

func TestHealthCheckerExecReportsPingResult(t *testing.T) {
	client := newTestRedisClient(t)
	broker := rdb.NewRDB(client)
	defer broker.Close()

	var gotErr error
	called := make(chan struct{}, 1)
	hc := newHealthChecker(healthcheckerParams{
		logger:   log.NewLogger(nil),
		broker:   broker,
		interval: time.Second,
		healthcheckFunc: func(err error) {
			gotErr = err
			called <- struct{}{}
		},
	})
	hc.exec()

	select {
	case <-called:
	default:
	}
	if gotErr != nil {
		t.Errorf("healthcheckFunc called with err = %v, want nil for a reachable redis", gotErr)
	}
}
