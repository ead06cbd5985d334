// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Pause stops new jobs from being dispatched by redirecting wait to paused.
func (r *RDB) Pause(ctx context.Context, qname string) error {
	k := r.keys(qname)
	keys := []string{k.Meta(), k.Wait(), k.Paused(), k.Events()}
	return scripts.pause.Run(ctx, r.client, keys).Err()
}

// Resume resumes dispatching by redirecting paused back to wait.
func (r *RDB) Resume(ctx context.Context, qname string) error {
	k := r.keys(qname)
	keys := []string{k.Meta(), k.Wait(), k.Paused(), k.Events(), k.WaitNotify()}
	return scripts.resume.Run(ctx, r.client, keys).Err()
}

// IsPaused reports whether the queue is currently paused.
func (r *RDB) IsPaused(ctx context.Context, qname string) (bool, error) {
	k := r.keys(qname)
	v, err := r.client.HGet(ctx, k.Meta(), "paused").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v == "1", nil
}

// Obliterate deletes every key belonging to a queue. force bypasses the
// active-jobs guard.
func (r *RDB) Obliterate(ctx context.Context, qname string, force bool) error {
	k := r.keys(qname)
	forceArg := "0"
	if force {
		forceArg = "1"
	}
	code, err := scripts.obliterate.Run(ctx, r.client, []string{k.Active()},
		r.queuePrefix(qname)+"*", forceArg).Int64()
	if err != nil {
		return err
	}
	return codeToError(code, qname)
}
