// Package aggregate implements an event-sourced aggregate: state derived
// by folding an append-only history of domain events.
//
// Use it where the history itself is the asset (money movement, order
// lifecycles, anything audited) and "what happened" must survive every
// schema migration of "what is". The aggregate is shown concretely as a
// bank account because the pattern's discipline only makes sense against
// real invariants.
//
// The discipline has two halves. Command methods (Open, Deposit,
// Withdraw, Close) validate against current state and then record an
// event; they are the only place business rules live. The apply step
// folds an event into state with no validation at all, because committed
// history is fact: replaying ten-year-old events must never fail against
// today's rules. Version counts applied events and is the optimistic
// concurrency token an event store checks at append time.
//
// Skill metadata:
//
//	name: event-sourced-aggregate
//	category: eventsourcing
//	tags: events, aggregate, replay, optimistic-concurrency, audit
//	level: advanced
package aggregate

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Event is a fact recorded about an account.
type Event interface {
	EventType() string
}

// AccountOpened starts a stream.
type AccountOpened struct {
	ID    uuid.UUID
	Owner string
}

// MoneyDeposited credits the account.
type MoneyDeposited struct {
	Cents int64
}

// MoneyWithdrawn debits the account.
type MoneyWithdrawn struct {
	Cents int64
}

// AccountClosed ends the account's active life.
type AccountClosed struct{}

func (AccountOpened) EventType() string  { return "account.opened" }
func (MoneyDeposited) EventType() string { return "money.deposited" }
func (MoneyWithdrawn) EventType() string { return "money.withdrawn" }
func (AccountClosed) EventType() string  { return "account.closed" }

var (
	// ErrNotOpen rejects commands against an unopened or closed account.
	ErrNotOpen = errors.New("aggregate: account is not open")

	// ErrAlreadyOpen rejects a second Open.
	ErrAlreadyOpen = errors.New("aggregate: account is already open")

	// ErrInsufficientFunds rejects overdrawing withdrawals.
	ErrInsufficientFunds = errors.New("aggregate: insufficient funds")
)

// Account is the aggregate. The zero value is an account with no history.
type Account struct {
	id      uuid.UUID
	owner   string
	balance int64
	open    bool

	version int
	pending []Event
}

// NewFromHistory folds committed events into an Account. Replay performs
// no validation; the history is the source of truth.
func NewFromHistory(history []Event) *Account {
	a := &Account{}
	for _, e := range history {
		a.apply(e)
		a.version++
	}
	return a
}

// ID returns the account identity, zero before Open.
func (a *Account) ID() uuid.UUID { return a.id }

// Owner returns the account owner.
func (a *Account) Owner() string { return a.owner }

// Balance returns the current balance in cents.
func (a *Account) Balance() int64 { return a.balance }

// IsOpen reports whether the account accepts money movement.
func (a *Account) IsOpen() bool { return a.open }

// Version is the number of applied events, committed and pending. An
// event store compares it against the stream head on append.
func (a *Account) Version() int { return a.version }

// Pending returns the recorded, not-yet-committed events in order.
func (a *Account) Pending() []Event {
	out := make([]Event, len(a.pending))
	copy(out, a.pending)
	return out
}

// MarkCommitted clears the pending events after a successful store
// append.
func (a *Account) MarkCommitted() {
	a.pending = a.pending[:0]
}

// Open starts the account for owner.
func (a *Account) Open(owner string) error {
	if a.open {
		return ErrAlreadyOpen
	}
	if a.version > 0 {
		// A closed account stays closed; reopening is a new stream.
		return ErrNotOpen
	}
	if owner == "" {
		return fmt.Errorf("aggregate: empty owner")
	}
	a.record(AccountOpened{ID: uuid.New(), Owner: owner})
	return nil
}

// Deposit credits cents.
func (a *Account) Deposit(cents int64) error {
	if !a.open {
		return ErrNotOpen
	}
	if cents <= 0 {
		return fmt.Errorf("aggregate: deposit must be positive, got %d", cents)
	}
	a.record(MoneyDeposited{Cents: cents})
	return nil
}

// Withdraw debits cents, never past zero.
func (a *Account) Withdraw(cents int64) error {
	if !a.open {
		return ErrNotOpen
	}
	if cents <= 0 {
		return fmt.Errorf("aggregate: withdrawal must be positive, got %d", cents)
	}
	if cents > a.balance {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, a.balance, cents)
	}
	a.record(MoneyWithdrawn{Cents: cents})
	return nil
}

// Close ends the account. Funds may remain; disbursement is a separate
// concern.
func (a *Account) Close() error {
	if !a.open {
		return ErrNotOpen
	}
	a.record(AccountClosed{})
	return nil
}

// record applies e and queues it for commit.
func (a *Account) record(e Event) {
	a.apply(e)
	a.version++
	a.pending = append(a.pending, e)
}

// apply folds one event into state. No validation here, ever.
func (a *Account) apply(e Event) {
	switch ev := e.(type) {
	case AccountOpened:
		a.id = ev.ID
		a.owner = ev.Owner
		a.open = true
	case MoneyDeposited:
		a.balance += ev.Cents
	case MoneyWithdrawn:
		a.balance -= ev.Cents
	case AccountClosed:
		a.open = false
	}
}
