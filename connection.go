// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisConnOpt is an interface for a connection option to creating a redis
// client used for connecting to a queue's redis store.
type RedisConnOpt interface {
	// MakeRedisClient returns a new redis client instance.
	// The caller is responsible for closing the connection when it is no
	// longer needed.
	MakeRedisClient() interface{}
}

// RedisClientOpt is used to create a redis client that connects to a redis
// server directly.
type RedisClientOpt struct {
	// Redis server address in "host:port" format.
	Addr string

	// Username used to authenticate with the redis server.
	Username string

	// Password used to authenticate with the redis server.
	Password string

	// Redis DB to select after connecting to the server.
	DB int

	// Maximum number of socket connections.
	PoolSize int

	// TLS config (a *tls.Config) used to connect to the server. nil means no TLS.
	TLSConfig interface{}
}

// MakeRedisClient returns a redis.UniversalClient given the options.
func (opt RedisClientOpt) MakeRedisClient() interface{} {
	o := &redis.Options{
		Addr:     opt.Addr,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
		PoolSize: opt.PoolSize,
	}
	if cfg, ok := opt.TLSConfig.(*tls.Config); ok {
		o.TLSConfig = cfg
	}
	return redis.NewClient(o)
}

// RedisClusterClientOpt is used to create a redis client that connects to a
// redis cluster.
type RedisClusterClientOpt struct {
	// List of host:port addresses of cluster nodes.
	Addrs []string

	// Username used to authenticate with the redis cluster.
	Username string

	// Password used to authenticate with the redis cluster.
	Password string
}

// MakeRedisClient returns a redis.UniversalClient given the options.
func (opt RedisClusterClientOpt) MakeRedisClient() interface{} {
	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    opt.Addrs,
		Username: opt.Username,
		Password: opt.Password,
	})
}

// RedisUniversalClientOpt wraps an already-constructed redis.UniversalClient
// for callers that want to manage the connection themselves (e.g. share one
// client across several Queues/Workers).
type RedisUniversalClientOpt struct {
	Client redis.UniversalClient
}

// MakeRedisClient returns the wrapped client as-is.
func (opt RedisUniversalClientOpt) MakeRedisClient() interface{} {
	return opt.Client
}

func toUniversalClient(r RedisConnOpt) redis.UniversalClient {
	c, ok := r.MakeRedisClient().(redis.UniversalClient)
	if !ok {
		panic(fmt.Sprintf("bullmq: unsupported RedisConnOpt type %T", r))
	}
	return c
}

// ConnectWithRetry pings the store described by r using an exponential
// backoff policy, returning once the connection succeeds or ctx is done.
// Callers that want to fail fast on startup rather than on the first queue
// operation should call this before constructing a Queue or Worker.
func ConnectWithRetry(ctx context.Context, r RedisConnOpt) error {
	c := toUniversalClient(r)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	return backoff.Retry(func() error {
		return c.Ping(ctx).Err()
	}, backoff.WithContext(policy, ctx))
}
