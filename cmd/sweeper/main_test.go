package main

import (
	"context"
	"errors"
	"testing"

	"auth-service/internal/logging"
)

type stubSweeper struct {
	n   int
	err error
}

func (s stubSweeper) SweepExpired(context.Context) (int, error) { return s.n, s.err }

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	if err := sweepOnce(ctx, stubSweeper{n: 3}, nil, logging.Nop()); err != nil {
		t.Errorf("sweepOnce: %v", err)
	}
	boom := errors.New("redis down")
	if err := sweepOnce(ctx, stubSweeper{err: boom}, nil, logging.Nop()); !errors.Is(err, boom) {
		t.Errorf("sweepOnce error = %v, want %v", err, boom)
	}
}
