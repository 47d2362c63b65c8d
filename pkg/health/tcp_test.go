package health

import (
	"context"
	"net"
	"testing"

	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

func TestNewTCPCheckerForTask(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	task := TaskInfo{ID: "t1", Address: ln.Addr().String()}
	check := snapshot.HealthCheckSpec{TimeoutSeconds: 1}

	result := NewTCPCheckerForTask(task, check).Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got %s", result.Message)
	}
}

func TestNewTCPCheckerForTaskUnreachable(t *testing.T) {
	task := TaskInfo{ID: "t1", Address: "127.0.0.1:1"}
	check := snapshot.HealthCheckSpec{TimeoutSeconds: 1}

	result := NewTCPCheckerForTask(task, check).Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for a closed port")
	}
}
