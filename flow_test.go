package bullmq

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("no local redis reachable at 127.0.0.1:6379: %v", err)
	}
	return client
}

func TestFlowProducerAddBuildsParentChildTree(t *testing.T) {
	client := newTestRedisClient(t)
	qname := "test-flow-" + uuid.NewString()

	fp := NewFlowProducer(RedisUniversalClientOpt{Client: client}, QueueOptions{})
	defer fp.Close()

	root := FlowJob{
		Queue: qname,
		Name:  "parent",
		Children: []FlowJob{
			{Queue: qname, Name: "child-a"},
			{Queue: qname, Name: "child-b"},
		},
	}

	node, err := fp.Add(context.Background(), root)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	defer fp.queueFor(qname).Obliterate(context.Background(), true)

	if node.Job.Name() != "parent" {
		t.Errorf("root job name = %q, want %q", node.Job.Name(), "parent")
	}
	if len(node.Children) != 2 {
		t.Fatalf("len(Children) = %d, want 2", len(node.Children))
	}
	for _, child := range node.Children {
		if child.Job.ParentID() != node.Job.ID() {
			t.Errorf("child %q ParentID() = %q, want %q", child.Job.Name(), child.Job.ParentID(), node.Job.ID())
		}
	}
}
