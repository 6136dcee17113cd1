package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []UsageEvent
	fail   bool
}

func (s *captureSink) Write(_ context.Context, events []UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEmitterDeliversAndStops(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitter(sink, EmitterOptions{QueueSize: 100, BatchSize: 10, FlushInterval: time.Hour}, nil)

	for i := 0; i < 25; i++ {
		ev := NewEvent("", OperationResolve, "prices.equity/AAPL")
		ev.Outcome = OutcomeSuccess
		e.Emit(ev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))

	assert.Equal(t, 25, sink.count())
	stats := e.Stats()
	assert.Equal(t, uint64(25), stats.Emitted)
	assert.Equal(t, uint64(0), stats.Dropped)
}

func TestEmitterDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	e := NewEmitter(sink, EmitterOptions{QueueSize: 2, BatchSize: 1, FlushInterval: time.Hour}, nil)

	// First event occupies the worker; next two fill the queue; the rest drop.
	for i := 0; i < 10; i++ {
		e.Emit(NewEvent("", OperationResolve, "m"))
	}
	stats := e.Stats()
	assert.Greater(t, stats.Dropped, uint64(0))
	assert.Equal(t, uint64(10), stats.Emitted+stats.Dropped)

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Write(_ context.Context, _ []UsageEvent) error {
	<-s.release
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestEmitterCountsSinkErrors(t *testing.T) {
	sink := &captureSink{fail: true}
	e := NewEmitter(sink, EmitterOptions{QueueSize: 10, BatchSize: 1, FlushInterval: time.Hour}, nil)

	e.Emit(NewEvent("", OperationResolve, "m"))

	require.Eventually(t, func() bool {
		return e.Stats().Errors > 0
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = e.Stop(ctx)
}

func TestEmitterStopTwice(t *testing.T) {
	e := NewEmitter(&captureSink{}, EmitterOptions{}, nil)
	ctx := context.Background()
	require.NoError(t, e.Stop(ctx))
	require.NoError(t, e.Stop(ctx))
}

func TestNewEventDefaults(t *testing.T) {
	ev := NewEvent("", OperationDescribe, "rates.sofr")
	assert.NotEmpty(t, ev.RequestID)
	assert.Equal(t, OperationDescribe, ev.Operation)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Minute)

	ev = NewEvent("req-1", OperationRead, "rates.sofr")
	assert.Equal(t, "req-1", ev.RequestID)
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ev := NewEvent("req-1", OperationResolve, "prices.equity/AAPL")
	ev.Outcome = OutcomeSuccess
	ev.Caller = CallerIdentity{AppID: "risk-app", Team: "risk"}
	require.NoError(t, sink.Write(context.Background(), []UsageEvent{ev, ev}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var decoded UsageEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		assert.Equal(t, "req-1", decoded.RequestID)
		assert.Equal(t, "risk-app", decoded.Caller.AppID)
		lines++
	}
	assert.Equal(t, 2, lines)
}
