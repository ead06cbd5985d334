// Command dashboard serves a read-only HTTP+websocket monitor over a fixed
// set of bullmq queues.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nagyist/bullmq"
	"github.com/redis/go-redis/v9"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis server address")
	port := flag.Int("port", 8080, "HTTP server port")
	queueNames := flag.String("queues", "default", "comma-separated list of queue names to watch")
	flag.Parse()

	opt := bullmq.RedisClientOpt{Addr: *redisAddr}
	ctx := context.Background()
	if err := bullmq.ConnectWithRetry(ctx, opt); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", *redisAddr, err)
	}
	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	log.Printf("Connected to Redis at %s", *redisAddr)

	names := strings.Split(*queueNames, ",")
	inspector := NewInspector(client, names)
	handler := NewHandler(inspector)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", *port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("bullmq dashboard starting on http://localhost%s (queues: %s)", addr, *queueNames)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
