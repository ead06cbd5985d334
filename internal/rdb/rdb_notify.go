// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/redis/go-redis/v9"
)

// waitNotifySub forwards a redis pub/sub subscription onto a struct{}
// channel so callers never have to look at redis.Message; multiple
// notifications received before a caller drains C collapse into one.
type waitNotifySub struct {
	ps   *redis.PubSub
	c    chan struct{}
	done chan struct{}
}

// SubscribeWaitNotify subscribes to qname's wait-notify channel. The
// subscription holds its own connection for as long as it is open, kept out
// of the pool used for script calls and other commands, so a long blocking
// wait never starves them.
func (r *RDB) SubscribeWaitNotify(ctx context.Context, qname string) (base.WaitNotifySubscription, error) {
	k := r.keys(qname)
	ps := r.client.Subscribe(ctx, k.WaitNotify())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	s := &waitNotifySub{ps: ps, c: make(chan struct{}, 1), done: make(chan struct{})}
	go s.forward()
	return s, nil
}

func (s *waitNotifySub) forward() {
	for range s.ps.Channel() {
		select {
		case s.c <- struct{}{}:
		default:
		}
	}
	close(s.done)
}

func (s *waitNotifySub) C() <-chan struct{} { return s.c }

func (s *waitNotifySub) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}
