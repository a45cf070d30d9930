package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/outbox"
	"chronicle/internal/platform/kafka/producer"
	"chronicle/pkg/testutil"
)

// stubProducer records published messages and can fail the first N calls.
type stubProducer struct {
	mu        sync.Mutex
	messages  []*producer.Message
	failFirst int
	calls     int
}

func (p *stubProducer) Produce(_ context.Context, msg *producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *stubProducer) published() []*producer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*producer.Message(nil), p.messages...)
}

type WorkerSuite struct {
	suite.Suite

	store *outbox.InMemoryStore
	ctx   context.Context
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.store = outbox.NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *WorkerSuite) appendEntries(versions ...int64) []*outbox.Entry {
	base := time.Now()
	entries := make([]*outbox.Entry, 0, len(versions))
	for i, version := range versions {
		entries = append(entries, outbox.NewEntry(
			testutil.TestIDs.TenantID1,
			"account",
			testutil.TestIDs.AggregateID1,
			"account.funds_deposited",
			version,
			json.RawMessage(`{"amount":1}`),
			base.Add(time.Duration(i)*time.Millisecond),
		))
	}
	s.Require().NoError(s.store.AppendTx(s.ctx, nil, entries))
	return entries
}

func (s *WorkerSuite) TestPollPublishesAndMarks() {
	entries := s.appendEntries(1, 2, 3)
	prod := &stubProducer{}
	w := New(s.store, prod, WithTopic("ledger.events"))

	w.Poll(s.ctx)

	published := prod.published()
	s.Require().Len(published, 3)

	msg := published[0]
	s.Equal("ledger.events", msg.Topic)
	s.Equal(entries[0].AggregateID.String(), string(msg.Key), "key must be the aggregate ID for partition ordering")
	s.Equal(entries[0].ID.String(), msg.Headers["entry_id"])
	s.Equal(testutil.TestIDs.TenantID1.String(), msg.Headers["tenant_id"])
	s.Equal("account.funds_deposited", msg.Headers["event_type"])
	s.Equal("1", msg.Headers["version"])
	s.Equal("2", published[1].Headers["version"], "entries must publish in version order")

	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *WorkerSuite) TestFailedPublishIsRetriedNextPoll() {
	s.appendEntries(1)
	prod := &stubProducer{failFirst: 1}
	w := New(s.store, prod)

	w.Poll(s.ctx)

	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), pending, "failed entries stay pending")

	w.Poll(s.ctx)

	s.Len(prod.published(), 1)
	pending, err = s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *WorkerSuite) TestBatchSizeLimitsFetch() {
	s.appendEntries(1, 2, 3, 4, 5)
	prod := &stubProducer{}
	w := New(s.store, prod, WithBatchSize(2))

	w.Poll(s.ctx)
	s.Len(prod.published(), 2)

	w.Poll(s.ctx)
	w.Poll(s.ctx)
	s.Len(prod.published(), 5)
}

func (s *WorkerSuite) TestStopDrainsPending() {
	s.appendEntries(1, 2)
	prod := &stubProducer{}
	w := New(s.store, prod, WithPollInterval(time.Hour)) // never ticks; drain must do the work
	w.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(w.Stop(ctx))

	s.Len(prod.published(), 2)
	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}
