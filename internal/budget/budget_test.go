package budget

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	neg := float64(-1)
	cfg := Config{MaxCost: &neg}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	cost := float64(10)
	cfg = Config{MaxCost: &cost}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestForRun(t *testing.T) {
	cfg := ForRun(90*time.Second, 0)
	if cfg.MaxTimeSeconds == nil || *cfg.MaxTimeSeconds != 90 {
		t.Fatalf("expected 90s time limit, got %v", cfg.MaxTimeSeconds)
	}
	if cfg.MaxCost != nil {
		t.Fatalf("expected no cost limit")
	}
	cfg = ForRun(0, 2.5)
	if cfg.MaxTimeSeconds != nil || cfg.MaxCost == nil || *cfg.MaxCost != 2.5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestMonitorAddAndSpend(t *testing.T) {
	maxCost := 5.0
	maxTokens := int64(1000)
	mon := NewMonitor(Config{MaxCost: &maxCost, MaxTokens: &maxTokens})
	if err := mon.Add(2.5, 400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mon.CheckSpend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := mon.Add(3.0, 100)
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) || exceeded.Kind != "cost" {
		t.Fatalf("expected cost breach, got %v", err)
	}
	if usage := mon.Usage(); usage.Tokens != 500 || usage.Cost != 5.5 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestMonitorCheckTime(t *testing.T) {
	secs := int64(1)
	mon := NewMonitor(Config{MaxTimeSeconds: &secs})
	if err := mon.CheckTime(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mon.startTime = time.Now().Add(-2 * time.Second)
	if err := mon.CheckTime(); err == nil {
		t.Fatalf("expected time budget breach")
	}
}

func TestMonitorContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatalf("expected nil monitor")
	}
	var nilMon *Monitor
	if err := nilMon.Add(1, 1); err != nil {
		t.Fatalf("nil monitor should ignore usage")
	}
	mon := NewMonitor(Config{})
	ctx := WithMonitor(context.Background(), mon)
	FromContext(ctx).Add(0.25, 10)
	if mon.Usage().Cost != 0.25 {
		t.Fatalf("expected usage recorded through context")
	}
}
