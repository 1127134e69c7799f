package event

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// writeTimeout bounds a single sink write so a slow sink cannot back up the
// drain goroutine indefinitely.
const writeTimeout = 5 * time.Second

// Sink receives security events. Implementations must be safe for use from a
// single drain goroutine; errors are logged by the Logger, never returned to
// request paths.
type Sink interface {
	Write(ctx context.Context, e *SecurityEvent) error
}

// Logger is the append-only security event log. Log never blocks the calling
// request: events go through a bounded queue drained by a background
// goroutine, and are dropped (with a metric increment) when the queue is full
// or a sink fails. Synchronous mode is available for compliance deployments.
type Logger struct {
	sinks   []Sink
	queue   chan *SecurityEvent
	sync    bool
	dropped metric.Int64Counter
	nowF    func() time.Time

	wg       sync.WaitGroup
	closeOne sync.Once
}

// LoggerOptions configures a Logger.
type LoggerOptions struct {
	// QueueSize is the async queue capacity; <= 0 uses 1024.
	QueueSize int
	// Sync forces synchronous writes: Log returns after all sinks ran.
	// Write failures are still swallowed (logged + counted), per policy.
	Sync bool
}

// NewLogger returns a Logger writing to the given sinks. Call Close on
// shutdown to drain the queue.
func NewLogger(opts LoggerOptions, sinks ...Sink) *Logger {
	size := opts.QueueSize
	if size <= 0 {
		size = 1024
	}
	dropped, _ := otel.Meter("truxe.security.events").Int64Counter(
		"security_events_dropped_total",
		metric.WithDescription("Security events dropped because the queue was full or a sink failed"),
	)
	l := &Logger{
		sinks:   sinks,
		queue:   make(chan *SecurityEvent, size),
		sync:    opts.Sync,
		dropped: dropped,
		nowF:    time.Now().UTC,
	}
	if !l.sync {
		l.wg.Add(1)
		go l.drain()
	}
	return l
}

// Log appends e and returns its assigned event ID. Missing ID/timestamp are
// filled in. Never returns an error and never blocks on sink latency (unless
// the logger was built with Sync).
func (l *Logger) Log(ctx context.Context, e *SecurityEvent) string {
	if e == nil {
		return ""
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.nowF()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	if l.sync {
		l.write(e)
		return e.ID
	}

	select {
	case l.queue <- e:
	default:
		l.dropped.Add(context.Background(), 1)
		log.Printf("event: queue full, dropped %s", e.Action)
	}
	return e.ID
}

// Close stops the drain goroutine after flushing queued events.
func (l *Logger) Close() {
	l.closeOne.Do(func() {
		close(l.queue)
	})
	l.wg.Wait()
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for e := range l.queue {
		l.write(e)
	}
}

func (l *Logger) write(e *SecurityEvent) {
	for _, s := range l.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.Write(ctx, e); err != nil {
			l.dropped.Add(context.Background(), 1)
			log.Printf("event: sink write failed for %s: %v", e.Action, err)
		}
		cancel()
	}
}
