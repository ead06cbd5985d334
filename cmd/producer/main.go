// Command producer enqueues a single job onto a queue from the command line,
// for smoke-testing a deployment or scripting job submission.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nagyist/bullmq"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis server address")
	queueName := flag.String("queue", "default", "queue name")
	jobName := flag.String("name", "job", "job name")
	payload := flag.String("data", "{}", "job payload, as a JSON object")
	delay := flag.Duration("delay", 0, "delay before the job becomes eligible for dispatch")
	attempts := flag.Int("attempts", 1, "maximum number of attempts")
	priority := flag.Int64("priority", 0, "dispatch priority, 1 is highest, 0 means unset")
	jobID := flag.String("id", "", "explicit job id, for idempotent submission")
	pattern := flag.String("repeat-pattern", "", "cron pattern; if set, the job repeats instead of running once")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var data json.RawMessage
	if err := json.Unmarshal([]byte(*payload), &data); err != nil {
		log.Fatalf("invalid -data (must be JSON): %v", err)
	}

	opt := bullmq.RedisClientOpt{Addr: *redisAddr}
	if err := bullmq.ConnectWithRetry(ctx, opt); err != nil {
		log.Fatalf("connect to redis at %s: %v", *redisAddr, err)
	}

	queue := bullmq.NewQueue(*queueName, opt, bullmq.QueueOptions{})
	defer queue.Close()

	jobOpts := bullmq.JobOptions{
		Delay:    *delay,
		Attempts: *attempts,
		Priority: *priority,
		JobID:    *jobID,
	}
	if *pattern != "" {
		jobOpts.Repeat = &bullmq.RepeatOptions{Pattern: *pattern}
	}

	job, err := queue.Add(ctx, *jobName, data, jobOpts)
	if err != nil {
		log.Fatalf("add job: %v", err)
	}
	if job == nil {
		log.Println("repeatable series already terminated; nothing enqueued")
		os.Exit(0)
	}
	log.Printf("enqueued job %q (%s) on queue %q", job.ID(), *jobName, *queueName)
}
