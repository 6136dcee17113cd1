package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Sink receives batches of usage events. Implementations must tolerate being
// called from a single background goroutine.
type Sink interface {
	Write(ctx context.Context, events []UsageEvent) error
	Close() error
}

// Stats is a point-in-time snapshot of emitter counters.
type Stats struct {
	Emitted    uint64 `json:"emitted"`
	Dropped    uint64 `json:"dropped"`
	Errors     uint64 `json:"errors"`
	QueueDepth int    `json:"queue_depth"`
}

// Emitter fans usage events into a sink through a bounded queue. Emit never
// blocks the request path: when the queue is full the event is dropped and
// counted.
type Emitter struct {
	queue chan UsageEvent
	sink  Sink
	log   *zap.Logger

	batchSize     int
	flushInterval time.Duration

	emitted atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	metricEmitted prometheus.Counter
	metricDropped prometheus.Counter
	metricErrors  prometheus.Counter
	metricDepth   prometheus.GaugeFunc
}

// EmitterOptions configures an Emitter. Zero values take defaults.
type EmitterOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Registerer    prometheus.Registerer
}

// NewEmitter starts the background flush loop immediately.
func NewEmitter(sink Sink, opts EmitterOptions, log *zap.Logger) *Emitter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Emitter{
		queue:         make(chan UsageEvent, opts.QueueSize),
		sink:          sink,
		log:           log,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
	}

	e.metricEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moniker_telemetry_emitted_total",
		Help: "Usage events accepted onto the telemetry queue.",
	})
	e.metricDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moniker_telemetry_dropped_total",
		Help: "Usage events dropped because the telemetry queue was full.",
	})
	e.metricErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moniker_telemetry_sink_errors_total",
		Help: "Batches the telemetry sink failed to write.",
	})
	e.metricDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "moniker_telemetry_queue_depth",
		Help: "Current telemetry queue depth.",
	}, func() float64 { return float64(len(e.queue)) })

	if opts.Registerer != nil {
		opts.Registerer.MustRegister(e.metricEmitted, e.metricDropped, e.metricErrors, e.metricDepth)
	}

	go e.run()
	return e
}

// Emit enqueues an event, dropping it when the queue is full or the emitter
// is stopped.
func (e *Emitter) Emit(ev UsageEvent) {
	select {
	case <-e.stopped:
		e.dropped.Add(1)
		e.metricDropped.Inc()
		return
	default:
	}
	select {
	case e.queue <- ev:
		e.emitted.Add(1)
		e.metricEmitted.Inc()
	default:
		e.dropped.Add(1)
		e.metricDropped.Inc()
	}
}

// Stop drains the queue into the sink, bounded by ctx. Safe to call more
// than once.
func (e *Emitter) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.stopped)
	})
	select {
	case <-e.done:
		return e.sink.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (e *Emitter) Stats() Stats {
	return Stats{
		Emitted:    e.emitted.Load(),
		Dropped:    e.dropped.Load(),
		Errors:     e.errors.Load(),
		QueueDepth: len(e.queue),
	}
}

func (e *Emitter) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	batch := make([]UsageEvent, 0, e.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.sink.Write(ctx, batch)
		cancel()
		if err != nil {
			e.errors.Add(1)
			e.metricErrors.Inc()
			e.log.Warn("telemetry sink write failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-e.queue:
			batch = append(batch, ev)
			if len(batch) >= e.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-e.stopped:
			// Drain whatever is already queued, then final flush.
			for {
				select {
				case ev := <-e.queue:
					batch = append(batch, ev)
					if len(batch) >= e.batchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}
