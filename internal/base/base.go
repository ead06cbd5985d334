// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package base

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version of the bullmq library.
const Version = "1.0.0"

// Global, cross-queue registry keys used by the worker heartbeat mechanism.
const (
	AllServers = "bull:servers" // ZSET of ServerInfo blobs keyed by heartbeat score
	AllWorkers = "bull:workers" // ZSET of WorkerInfo blobs keyed by heartbeat score
)

// ServerInfo holds the heartbeat snapshot a Worker process publishes
// periodically so operators can see which processes are consuming a queue.
type ServerInfo struct {
	Host              string         `json:"host"`
	PID               int            `json:"pid"`
	ServerID          string         `json:"server_id"`
	Concurrency       int            `json:"concurrency"`
	Queues            map[string]int `json:"queues"`
	Started           time.Time      `json:"started"`
	ActiveWorkerCount int            `json:"active_worker_count"`
}

// EncodeServerInfo marshals the given ServerInfo and returns the encoded bytes.
func EncodeServerInfo(info *ServerInfo) ([]byte, error) {
	if info == nil {
		return nil, fmt.Errorf("cannot encode nil server info")
	}
	return json.Marshal(info)
}

// DecodeServerInfo decodes the given bytes into ServerInfo.
func DecodeServerInfo(b []byte) (*ServerInfo, error) {
	var info ServerInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// WorkerInfo holds information about a single in-flight job being processed
// by a running Worker, published alongside ServerInfo for introspection.
type WorkerInfo struct {
	Host     string    `json:"host"`
	PID      int       `json:"pid"`
	ServerID string    `json:"server_id"`
	JobID    string    `json:"job_id"`
	Name     string    `json:"name"`
	Queue    string    `json:"queue"`
	Started  time.Time `json:"started"`
	Deadline time.Time `json:"deadline"`
}

// EncodeWorkerInfo marshals the given WorkerInfo and returns the encoded bytes.
func EncodeWorkerInfo(info *WorkerInfo) ([]byte, error) {
	if info == nil {
		return nil, fmt.Errorf("cannot encode nil worker info")
	}
	return json.Marshal(info)
}

// DecodeWorkerInfo decodes the given bytes into WorkerInfo.
func DecodeWorkerInfo(b []byte) (*WorkerInfo, error) {
	var info WorkerInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
