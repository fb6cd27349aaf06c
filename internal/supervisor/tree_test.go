// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/losesky/heatlink/internal/logging"
)

// blockingService runs until cancelled and counts its starts.
type blockingService struct {
	starts atomic.Int32
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

// crashingService fails a fixed number of times, then blocks.
type crashingService struct {
	remaining atomic.Int32
	starts    atomic.Int32
}

func (s *crashingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeDefaultsApplied(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})

	def := DefaultTreeConfig()
	if tree.config != def {
		t.Errorf("config = %+v, want defaults %+v", tree.config, def)
	}
	if tree.Root() == nil {
		t.Error("root supervisor is nil")
	}
}

func TestTreeRunsServicesInEveryLayer(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	data := &blockingService{}
	engine := &blockingService{}
	api := &blockingService{}
	tree.AddDataService(data)
	tree.AddEngineService(engine)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for data.starts.Load() == 0 || engine.starts.Load() == 0 || api.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("services not started: data=%d engine=%d api=%d",
				data.starts.Load(), engine.starts.Load(), api.starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestTreeRestartsCrashedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(logging.NewSlogLogger(), cfg)

	svc := &crashingService{}
	svc.remaining.Store(2)
	tree.AddEngineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("service restarted %d times, want 3 starts", svc.starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-errCh
}
