package aggregate

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/eventstore"
	"chronicle/internal/snapshot"
	"chronicle/pkg/domain"
	"chronicle/pkg/testutil"
)

// Test aggregate: a minimal ledger account exercising every engine path,
// including snapshot support.

type accountOpened struct {
	Owner string `json:"owner"`
}

func (accountOpened) EventType() string { return "account.opened" }

type fundsDeposited struct {
	Amount int64 `json:"amount"`
}

func (fundsDeposited) EventType() string { return "account.funds_deposited" }

type fundsWithdrawn struct {
	Amount int64 `json:"amount"`
}

func (fundsWithdrawn) EventType() string { return "account.funds_withdrawn" }

type account struct {
	Root
	owner   string
	balance int64
}

func newAccount(id domain.AggregateID) *account {
	return &account{Root: NewRoot(id)}
}

func (a *account) AggregateType() string { return "account" }

func (a *account) ApplyEvent(event eventstore.Event) error {
	switch e := event.(type) {
	case *accountOpened:
		a.owner = e.Owner
	case *fundsDeposited:
		a.balance += e.Amount
	case *fundsWithdrawn:
		a.balance -= e.Amount
	default:
		return fmt.Errorf("unexpected event type %q", event.EventType())
	}
	return nil
}

type accountState struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func (a *account) SnapshotState() (json.RawMessage, error) {
	return json.Marshal(accountState{Owner: a.owner, Balance: a.balance})
}

func (a *account) RestoreSnapshot(state json.RawMessage) error {
	var restored accountState
	if err := json.Unmarshal(state, &restored); err != nil {
		return err
	}
	a.owner = restored.Owner
	a.balance = restored.Balance
	return nil
}

func newAccountRegistry() *eventstore.Registry {
	r := eventstore.NewRegistry()
	r.Register("account.opened", func() eventstore.Event { return &accountOpened{} })
	r.Register("account.funds_deposited", func() eventstore.Event { return &fundsDeposited{} })
	r.Register("account.funds_withdrawn", func() eventstore.Event { return &fundsWithdrawn{} })
	return r
}

// mustEncode serializes an event or fails the test.
func mustEncode(s *suite.Suite, event eventstore.Event) json.RawMessage {
	payload, err := eventstore.Encode(event)
	s.Require().NoError(err)
	return payload
}

// AggregateSuite tests the live-apply path and the bookkeeping in Root.
type AggregateSuite struct {
	suite.Suite
}

func TestAggregateSuite(t *testing.T) {
	suite.Run(t, new(AggregateSuite))
}

func (s *AggregateSuite) TestApply() {
	acc := newAccount(testutil.TestIDs.AggregateID1)

	s.Require().NoError(Apply(acc, &accountOpened{Owner: "ada"}))
	s.Require().NoError(Apply(acc, &fundsDeposited{Amount: 100}))
	s.Require().NoError(Apply(acc, &fundsWithdrawn{Amount: 30}))

	s.Equal("ada", acc.owner)
	s.Equal(int64(70), acc.balance)
	s.Equal(int64(3), acc.Version(), "version counts applied events")
	s.Len(acc.UncommittedEvents(), 3)
	s.True(acc.HasUncommittedEvents())

	acc.ClearUncommittedEvents()
	s.Empty(acc.UncommittedEvents())
	s.Equal(int64(3), acc.Version(), "clearing the buffer must not touch the version")
}

func (s *AggregateSuite) TestApplyFailureLeavesVersionUntouched() {
	acc := newAccount(testutil.TestIDs.AggregateID1)

	err := Apply(acc, thingUnknown{})
	s.Require().Error(err)
	s.Equal(int64(0), acc.Version())
	s.Empty(acc.UncommittedEvents())
}

type thingUnknown struct{}

func (thingUnknown) EventType() string { return "thing.unknown" }

// ReconstituteSuite tests history replay, snapshot restore, and the
// postcondition checks.
type ReconstituteSuite struct {
	suite.Suite

	registry *eventstore.Registry
}

func TestReconstituteSuite(t *testing.T) {
	suite.Run(t, new(ReconstituteSuite))
}

func (s *ReconstituteSuite) SetupSuite() {
	s.registry = newAccountRegistry()
}

func (s *ReconstituteSuite) storedEvent(version int64, event eventstore.Event) eventstore.StoredEvent {
	return eventstore.StoredEvent{
		AggregateID:   testutil.TestIDs.AggregateID1,
		AggregateType: "account",
		Version:       version,
		EventType:     event.EventType(),
		Payload:       mustEncode(&s.Suite, event),
	}
}

func (s *ReconstituteSuite) TestReplayFromScratch() {
	events := []eventstore.StoredEvent{
		s.storedEvent(1, &accountOpened{Owner: "ada"}),
		s.storedEvent(2, &fundsDeposited{Amount: 100}),
		s.storedEvent(3, &fundsWithdrawn{Amount: 30}),
	}

	acc := newAccount(testutil.TestIDs.AggregateID1)
	s.Require().NoError(Reconstitute(acc, nil, events, s.registry))

	s.Equal("ada", acc.owner)
	s.Equal(int64(70), acc.balance)
	s.Equal(int64(3), acc.Version())
	s.Empty(acc.UncommittedEvents(), "replay must not buffer events for persistence")
}

// TestReplayEquivalence verifies the core event-sourcing property: state
// rebuilt from history equals state built live, and replaying the same
// history twice yields identical results.
func (s *ReconstituteSuite) TestReplayEquivalence() {
	live := newAccount(testutil.TestIDs.AggregateID1)
	s.Require().NoError(Apply(live, &accountOpened{Owner: "ada"}))
	s.Require().NoError(Apply(live, &fundsDeposited{Amount: 250}))
	s.Require().NoError(Apply(live, &fundsWithdrawn{Amount: 50}))

	history := make([]eventstore.StoredEvent, 0, 3)
	for i, event := range live.UncommittedEvents() {
		history = append(history, s.storedEvent(int64(i)+1, event))
	}

	first := newAccount(testutil.TestIDs.AggregateID1)
	s.Require().NoError(Reconstitute(first, nil, history, s.registry))
	second := newAccount(testutil.TestIDs.AggregateID1)
	s.Require().NoError(Reconstitute(second, nil, history, s.registry))

	s.Equal(live.balance, first.balance)
	s.Equal(live.owner, first.owner)
	s.Equal(live.Version(), first.Version())
	s.Equal(first.balance, second.balance)
	s.Equal(first.Version(), second.Version())
}

func (s *ReconstituteSuite) TestSnapshotRestore() {
	state, err := json.Marshal(accountState{Owner: "ada", Balance: 500})
	s.Require().NoError(err)
	snap := &snapshot.Snapshot{
		AggregateID:   testutil.TestIDs.AggregateID1,
		AggregateType: "account",
		Version:       10,
		State:         state,
	}

	s.Run("snapshot plus tail equals full state", func() {
		events := []eventstore.StoredEvent{
			s.storedEvent(11, &fundsDeposited{Amount: 25}),
			s.storedEvent(12, &fundsWithdrawn{Amount: 5}),
		}

		acc := newAccount(testutil.TestIDs.AggregateID1)
		s.Require().NoError(Reconstitute(acc, snap, events, s.registry))

		s.Equal(int64(520), acc.balance)
		s.Equal(int64(12), acc.Version())
	})

	s.Run("snapshot alone restores version", func() {
		acc := newAccount(testutil.TestIDs.AggregateID1)
		s.Require().NoError(Reconstitute(acc, snap, nil, s.registry))
		s.Equal(int64(10), acc.Version())
		s.Equal(int64(500), acc.balance)
	})

	s.Run("corrupt snapshot state is a fatal integrity error", func() {
		bad := &snapshot.Snapshot{Version: 10, State: json.RawMessage(`{"owner":`)}
		acc := newAccount(testutil.TestIDs.AggregateID1)

		err := Reconstitute(acc, bad, nil, s.registry)
		var integrity *eventstore.IntegrityError
		s.Require().ErrorAs(err, &integrity)
	})
}

func (s *ReconstituteSuite) TestSequenceGapIsFatal() {
	events := []eventstore.StoredEvent{
		s.storedEvent(1, &accountOpened{Owner: "ada"}),
		s.storedEvent(3, &fundsDeposited{Amount: 100}),
	}

	acc := newAccount(testutil.TestIDs.AggregateID1)
	err := Reconstitute(acc, nil, events, s.registry)

	var integrity *eventstore.IntegrityError
	s.Require().ErrorAs(err, &integrity)
	s.Equal(int64(3), integrity.Version)
	s.Contains(integrity.Reason, "gap")
}

func (s *ReconstituteSuite) TestUnknownEventTypeIsFatal() {
	events := []eventstore.StoredEvent{
		{
			AggregateID: testutil.TestIDs.AggregateID1,
			Version:     1,
			EventType:   "account.retired",
			Payload:     json.RawMessage(`{}`),
		},
	}

	acc := newAccount(testutil.TestIDs.AggregateID1)
	err := Reconstitute(acc, nil, events, s.registry)

	var integrity *eventstore.IntegrityError
	s.Require().ErrorAs(err, &integrity)
	s.Contains(integrity.Reason, "account.retired")
}

// nonSnapshotter is an aggregate without snapshot support.
type nonSnapshotter struct {
	Root
}

func (n *nonSnapshotter) AggregateType() string { return "plain" }

func (n *nonSnapshotter) ApplyEvent(event eventstore.Event) error { return nil }

func (s *ReconstituteSuite) TestSnapshotWithoutSnapshotterIsFatal() {
	agg := &nonSnapshotter{Root: NewRoot(testutil.TestIDs.AggregateID1)}
	snap := &snapshot.Snapshot{Version: 5, State: json.RawMessage(`{}`)}

	err := Reconstitute(agg, snap, nil, s.registry)
	var integrity *eventstore.IntegrityError
	s.Require().ErrorAs(err, &integrity)
}
