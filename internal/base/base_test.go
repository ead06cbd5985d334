package base

import (
	"testing"
	"time"
)

func TestEncodeDecodeServerInfoRoundTrip(t *testing.T) {
	want := &ServerInfo{
		Host:              "host-1",
		PID:               123,
		ServerID:          "server-1",
		Concurrency:       5,
		Queues:            map[string]int{"default": 5},
		Started:           time.Now().Truncate(time.Second),
		ActiveWorkerCount: 2,
	}
	b, err := EncodeServerInfo(want)
	if err != nil {
		t.Fatalf("EncodeServerInfo: %v", err)
	}
	got, err := DecodeServerInfo(b)
	if err != nil {
		t.Fatalf("DecodeServerInfo: %v", err)
	}
	if got.ServerID != want.ServerID || got.Concurrency != want.Concurrency || !got.Started.Equal(want.Started) {
		t.Errorf("DecodeServerInfo roundtrip = %+v, want %+v", got, want)
	}
}

func TestEncodeServerInfoNilIsError(t *testing.T) {
	if _, err := EncodeServerInfo(nil); err == nil {
		t.Fatal("expected an error encoding a nil *ServerInfo")
	}
}

func TestEncodeDecodeWorkerInfoRoundTrip(t *testing.T) {
	want := &WorkerInfo{
		Host:     "host-1",
		PID:      456,
		ServerID: "server-1",
		JobID:    "job-1",
		Name:     "welcome",
		Queue:    "default",
		Started:  time.Now().Truncate(time.Second),
		Deadline: time.Now().Add(time.Minute).Truncate(time.Second),
	}
	b, err := EncodeWorkerInfo(want)
	if err != nil {
		t.Fatalf("EncodeWorkerInfo: %v", err)
	}
	got, err := DecodeWorkerInfo(b)
	if err != nil {
		t.Fatalf("DecodeWorkerInfo: %v", err)
	}
	if got.JobID != want.JobID || got.Name != want.Name || !got.Deadline.Equal(want.Deadline) {
		t.Errorf("DecodeWorkerInfo roundtrip = %+v, want %+v", got, want)
	}
}

func TestEncodeWorkerInfoNilIsError(t *testing.T) {
	if _, err := EncodeWorkerInfo(nil); err == nil {
		t.Fatal("expected an error encoding a nil *WorkerInfo")
	}
}
