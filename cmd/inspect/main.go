// Command inspect prints job counts, pause state, and optionally a page of
// job ids for one queue, as a one-shot CLI alternative to cmd/dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nagyist/bullmq"
	"github.com/nagyist/bullmq/internal/base"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis server address")
	queueName := flag.String("queue", "default", "queue name")
	state := flag.String("state", "", "if set, list up to -limit job ids in this state (waiting, active, delayed, completed, failed, prioritized, waiting-children, paused)")
	limit := flag.Int("limit", 20, "maximum number of job ids to list")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opt := bullmq.RedisClientOpt{Addr: *redisAddr}
	if err := bullmq.ConnectWithRetry(ctx, opt); err != nil {
		log.Fatalf("connect to redis at %s: %v", *redisAddr, err)
	}

	queue := bullmq.NewQueue(*queueName, opt, bullmq.QueueOptions{})
	defer queue.Close()

	counts, err := queue.GetJobCounts(ctx)
	if err != nil {
		log.Fatalf("get job counts: %v", err)
	}
	paused, err := queue.IsPaused(ctx)
	if err != nil {
		log.Fatalf("is paused: %v", err)
	}

	fmt.Printf("queue %q (paused=%v)\n", *queueName, paused)
	for _, s := range []string{"waiting", "prioritized", "active", "delayed", "completed", "failed", "waiting-children", "paused"} {
		fmt.Printf("  %-18s %d\n", s, counts[s])
	}

	if *state == "" {
		return
	}
	st, err := base.JobStateFromString(*state)
	if err != nil {
		log.Fatalf("-state: %v", err)
	}
	jobs, err := queue.GetJobs(ctx, st, 0, int64(*limit-1), true)
	if err != nil {
		log.Fatalf("get jobs: %v", err)
	}
	fmt.Printf("\n%d job(s) in state %q:\n", len(jobs), *state)
	for _, j := range jobs {
		fmt.Printf("  %s  %s\n", j.ID(), j.Name())
	}
}
