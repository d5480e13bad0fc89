package db

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestCheckHealth_Healthy(t *testing.T) {
	code, report := checkHealth(context.Background(), fakePinger{}, func() *PoolStats {
		return &PoolStats{TotalConns: 4, MaxConns: 20}
	})

	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if report.Status != "healthy" {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if report.Pool == nil || report.Pool.TotalConns != 4 {
		t.Errorf("expected pool stats to be reported, got %+v", report.Pool)
	}
}

func TestCheckHealth_PingFails(t *testing.T) {
	code, report := checkHealth(context.Background(), fakePinger{err: errors.New("connection refused")}, nil)

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if report.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", report.Status)
	}
	if report.Error != "connection refused" {
		t.Errorf("unexpected error %q", report.Error)
	}
}
