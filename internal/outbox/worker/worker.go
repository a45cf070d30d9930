// Package worker polls the outbox table and relays committed events to Kafka.
package worker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"chronicle/internal/outbox"
	"chronicle/internal/outbox/metrics"
	"chronicle/internal/platform/kafka/producer"
	"chronicle/internal/tracing"
)

// Producer is the publish surface the worker needs; satisfied by both the
// Kafka producer and the noop producer, and stubbed in tests.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Worker polls the outbox table and publishes entries to Kafka.
type Worker struct {
	store        outbox.Store
	producer     Producer
	topic        string
	batchSize    int
	pollInterval time.Duration
	tracer       tracing.Tracer
	metrics      *metrics.Metrics
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithTopic sets the Kafka topic for publishing.
func WithTopic(topic string) Option {
	return func(w *Worker) {
		w.topic = topic
	}
}

// WithBatchSize sets the maximum number of entries to fetch per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		w.batchSize = size
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.pollInterval = interval
	}
}

// WithTracer sets the tracer for publish operations.
func WithTracer(tracer tracing.Tracer) Option {
	return func(w *Worker) {
		w.tracer = tracer
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a new outbox worker.
func New(store outbox.Store, prod Producer, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		store:        store,
		producer:     prod,
		topic:        "chronicle.events",
		batchSize:    100,
		pollInterval: 100 * time.Millisecond,
		tracer:       tracing.NewNoop(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.poll(w.ctx)
		}
	}
}

// poll fetches and publishes one batch of outbox entries.
func (w *Worker) poll(ctx context.Context) {
	start := time.Now()

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logError("failed to fetch outbox entries", err)
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
		}
		return
	}
	if len(entries) == 0 {
		return
	}

	if w.metrics != nil {
		w.metrics.ObserveBatchSize(len(entries))
	}

	for _, entry := range entries {
		if err := w.publishEntry(ctx, entry); err != nil {
			w.logError("failed to publish outbox entry", err, "id", entry.ID, "event_type", entry.EventType)
			if w.metrics != nil {
				w.metrics.IncPublishFailures()
			}
			// Retried on the next poll; order within the aggregate is kept by
			// the version header, consumers dedupe by entry ID.
			continue
		}

		if err := w.store.MarkProcessed(ctx, entry.ID, time.Now()); err != nil {
			w.logError("failed to mark entry as processed", err, "id", entry.ID)
			continue
		}

		if w.metrics != nil {
			w.metrics.IncPublished()
		}
	}

	if w.metrics != nil {
		w.metrics.ObservePollDuration(time.Since(start).Seconds())
	}
}

// publishEntry publishes a single outbox entry.
func (w *Worker) publishEntry(ctx context.Context, entry *outbox.Entry) (err error) {
	start := time.Now()

	ctx, span := w.tracer.Start(ctx, tracing.SpanOutboxPublish,
		tracing.String(tracing.AttrAggregateType, entry.AggregateType),
		tracing.String(tracing.AttrAggregateID, entry.AggregateID.String()),
	)
	defer func() { span.End(err) }()

	msg := &producer.Message{
		Topic: w.topic,
		// Key by aggregate so one aggregate's events land on one partition,
		// preserving version order for consumers.
		Key:   []byte(entry.AggregateID.String()),
		Value: entry.Payload,
		Headers: map[string]string{
			"entry_id":       entry.ID.String(),
			"tenant_id":      entry.TenantID.String(),
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID.String(),
			"event_type":     entry.EventType,
			"version":        formatVersion(entry.Version),
		},
	}

	if err := w.producer.Produce(ctx, msg); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}
	return nil
}

// drain publishes remaining entries during shutdown.
func (w *Worker) drain() {
	if w.logger != nil {
		w.logger.Info("draining outbox worker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
		if err != nil {
			w.logError("failed to fetch entries during drain", err)
			return
		}
		if len(entries) == 0 {
			return
		}

		for _, entry := range entries {
			if err := w.publishEntry(ctx, entry); err != nil {
				w.logError("failed to publish during drain", err, "id", entry.ID)
				continue
			}
			if err := w.store.MarkProcessed(ctx, entry.ID, time.Now()); err != nil {
				w.logError("failed to mark as processed during drain", err, "id", entry.ID)
			}
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateMetrics refreshes the pending depth gauge.
func (w *Worker) UpdateMetrics(ctx context.Context) error {
	if w.metrics == nil {
		return nil
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		return err
	}
	w.metrics.SetPendingDepth(count)
	return nil
}

// Poll runs a single poll cycle synchronously. Exposed for tests and for the
// drain path of callers that manage their own scheduling.
func (w *Worker) Poll(ctx context.Context) {
	w.poll(ctx)
}

func (w *Worker) logError(msg string, err error, args ...any) {
	if w.logger != nil {
		w.logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}

func formatVersion(v int64) string {
	return strconv.FormatInt(v, 10)
}
