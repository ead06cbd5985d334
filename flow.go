// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/redis/go-redis/v9"
)

// FlowJob describes one node of a job tree: a job plus the children it
// depends on.
type FlowJob struct {
	Queue    string
	Name     string
	Data     interface{}
	Opts     JobOptions
	Children []FlowJob
}

// FlowProducer adds trees of jobs spanning one or more queues, wiring up
// parent/child dependency tracking as it goes.
type FlowProducer struct {
	client           redis.UniversalClient
	prefix           string
	sharedConnection bool
	queues           map[string]*Queue
}

// NewFlowProducer returns a FlowProducer over the given redis connection.
func NewFlowProducer(r RedisConnOpt, opts QueueOptions) *FlowProducer {
	client := toUniversalClient(r)
	prefix := opts.Prefix
	if prefix == "" {
		prefix = base.DefaultPrefix
	}
	return &FlowProducer{client: client, prefix: prefix, queues: make(map[string]*Queue)}
}

// Close releases the underlying redis connection, unless it was shared.
func (f *FlowProducer) Close() error {
	if f.sharedConnection {
		return nil
	}
	return f.client.Close()
}

func (f *FlowProducer) queueFor(name string) *Queue {
	if q, ok := f.queues[name]; ok {
		return q
	}
	q := NewQueueFromRedisClient(name, f.client, QueueOptions{Prefix: f.prefix})
	f.queues[name] = q
	return q
}

// FlowNode is the result tree returned by Add, mirroring the shape of the
// input FlowJob tree with each node resolved to its added *Job.
type FlowNode struct {
	Job      *Job
	Children []FlowNode
}

// Add adds the whole tree rooted at root. A node is added before its
// children so each child can carry a Parent pointer back to it, and with
// NumUnresolvedDeps already reflecting the child count it is about to gain.
func (f *FlowProducer) Add(ctx context.Context, root FlowJob) (*FlowNode, error) {
	return f.addNode(ctx, root, nil)
}

func (f *FlowProducer) addNode(ctx context.Context, node FlowJob, parent *base.ParentRef) (*FlowNode, error) {
	q := f.queueFor(node.Queue)

	payload, err := marshalData(node.Data)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	var parentKey string
	if parent != nil {
		parentKey = parent.QueueKey + parent.ID
	}

	id, _, err := q.broker.Add(ctx, node.Queue, base.AddOptions{
		JobID:             node.Opts.JobID,
		Name:              node.Name,
		Data:              payload,
		Opts:              node.Opts.toBaseOpts(now),
		Parent:            parent,
		ParentKey:         parentKey,
		NumUnresolvedDeps: int64(len(node.Children)),
	})
	if err != nil {
		return nil, err
	}

	thisRef := &base.ParentRef{ID: id, QueueKey: base.QueuePrefix(f.prefix, node.Queue)}
	children := make([]FlowNode, 0, len(node.Children))
	for _, child := range node.Children {
		childNode, err := f.addNode(ctx, child, thisRef)
		if err != nil {
			return nil, err
		}
		children = append(children, *childNode)
	}

	record, state, err := q.broker.GetJob(ctx, node.Queue, id)
	if err != nil {
		return nil, err
	}
	return &FlowNode{Job: newJob(node.Queue, record, state, q.broker), Children: children}, nil
}
