// Command worker runs a bullmq Worker against one queue, dispatching every
// job to a handler that logs the payload and succeeds. Intended as a
// runnable reference for wiring a real Processor, not production handler
// logic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/nagyist/bullmq"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis server address")
	queueName := flag.String("queue", "default", "queue name")
	concurrency := flag.Int("concurrency", 10, "maximum number of jobs processed concurrently")
	lockDuration := flag.Duration("lock-duration", 30*time.Second, "how long a claimed job's lock is held before renewal")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opt := bullmq.RedisClientOpt{Addr: *redisAddr}
	if err := bullmq.ConnectWithRetry(ctx, opt); err != nil {
		log.Fatalf("connect to redis at %s: %v", *redisAddr, err)
	}

	worker := bullmq.NewWorker(*queueName, process, opt, bullmq.WorkerOptions{
		Concurrency:  *concurrency,
		LockDuration: *lockDuration,
	})

	log.Printf("worker listening on queue %q (concurrency=%d)", *queueName, *concurrency)
	if err := worker.RunUntilSignal(context.Background()); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker stopped")
}

func process(ctx context.Context, job *bullmq.Job) (interface{}, error) {
	var payload json.RawMessage
	if data := job.RawData(); len(data) > 0 {
		payload = data
	}
	log.Printf("processing job %q (%s) attempt %d: %s", job.ID(), job.Name(), job.AttemptsMade()+1, payload)
	if err := job.Log(ctx, "handled by cmd/worker"); err != nil {
		log.Printf("append job log for %q: %v", job.ID(), err)
	}
	return nil, nil
}
