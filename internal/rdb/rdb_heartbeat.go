// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"
	"strconv"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/redis/go-redis/v9"
)

// PublishHeartbeat records the given server's liveness and its in-flight
// workers in the cross-queue bull:servers/bull:workers registries, pruning
// any entry whose ttl has already lapsed.
func (r *RDB) PublishHeartbeat(ctx context.Context, server base.ServerInfo, workers []base.WorkerInfo, ttl time.Duration) error {
	serverData, err := base.EncodeServerInfo(&server)
	if err != nil {
		return err
	}
	now := time.Now()
	expireAt := float64(now.Add(ttl).UnixMilli())
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, base.AllServers, "-inf", cutoff)
	pipe.ZAdd(ctx, base.AllServers, redis.Z{Score: expireAt, Member: serverData})
	pipe.ZRemRangeByScore(ctx, base.AllWorkers, "-inf", cutoff)
	for _, w := range workers {
		data, err := base.EncodeWorkerInfo(&w)
		if err != nil {
			continue
		}
		pipe.ZAdd(ctx, base.AllWorkers, redis.Z{Score: expireAt, Member: data})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListServers returns every currently live ServerInfo heartbeat.
func (r *RDB) ListServers(ctx context.Context) ([]base.ServerInfo, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := r.client.ZRangeByScore(ctx, base.AllServers, &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]base.ServerInfo, 0, len(members))
	for _, m := range members {
		info, err := base.DecodeServerInfo([]byte(m))
		if err != nil {
			continue
		}
		out = append(out, *info)
	}
	return out, nil
}

// ListWorkers returns every currently live WorkerInfo heartbeat.
func (r *RDB) ListWorkers(ctx context.Context) ([]base.WorkerInfo, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := r.client.ZRangeByScore(ctx, base.AllWorkers, &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]base.WorkerInfo, 0, len(members))
	for _, m := range members {
		info, err := base.DecodeWorkerInfo([]byte(m))
		if err != nil {
			continue
		}
		out = append(out, *info)
	}
	return out, nil
}
