// Package storage defines persisted records and store contracts for the
// grant engine.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a requested state transition is invalid.
var ErrConflict = errors.New("record conflict")

// PoolRecord stores one pool's immutable strategy configuration.
type PoolRecord struct {
	ID string

	RegistrationGated   bool
	MetadataRequired    bool
	GrantAmountRequired bool

	AllocationOverrideCapped bool
	SelfDistributionAllowed  bool
	ManagerMilestones        bool

	CreatedAt time.Time
}

// RecipientRecord stores one pool member's application and payment state.
type RecipientRecord struct {
	PoolID string
	ID     string

	PayoutAddress string
	GrantAmount   uint64

	MetadataProtocol uint64
	MetadataPointer  string

	Status string

	// MilestonesReviewStatus is empty until a schedule exists.
	MilestonesReviewStatus string

	// PaidAmount accumulates every authorized distribution for this
	// recipient and never exceeds GrantAmount.
	PaidAmount uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecipientPage is a paged set of recipients.
type RecipientPage struct {
	Recipients    []RecipientRecord
	NextPageToken string
}

// MilestoneRecord stores one tranche of a recipient's schedule.
type MilestoneRecord struct {
	PoolID         string
	RecipientID    string
	MilestoneIndex int

	AmountPercentage uint64

	MetadataProtocol uint64
	MetadataPointer  string

	Status    string
	Submitted bool
	Paid      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DistributionRecord stores one authorized payout.
type DistributionRecord struct {
	ID          string
	PoolID      string
	RecipientID string

	PayoutAddress    string
	Amount           uint64
	MilestoneIndexes []int

	CreatedAt time.Time
}

// DistributionPage is a paged set of distributions.
type DistributionPage struct {
	Distributions []DistributionRecord
	NextPageToken string
}

// EventRecord stores one append-only pool event for external indexers.
type EventRecord struct {
	ID     string
	PoolID string

	EventType   string
	RecipientID string
	PayloadJSON string

	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// EventPage is a paged set of pool events.
type EventPage struct {
	Events        []EventRecord
	NextPageToken string
}

// Tx groups the mutating operations that must commit atomically. Every
// engine operation runs its writes through one Tx so a failure leaves the
// store untouched.
type Tx interface {
	PutRecipient(ctx context.Context, record RecipientRecord) error
	ReplaceMilestones(ctx context.Context, poolID string, recipientID string, records []MilestoneRecord) error
	PutMilestone(ctx context.Context, record MilestoneRecord) error
	SetMilestonesReviewStatus(ctx context.Context, poolID string, recipientID string, reviewStatus string, updatedAt time.Time) error
	MarkMilestonesPaid(ctx context.Context, poolID string, recipientID string, indexes []int, updatedAt time.Time) error
	AddPaidAmount(ctx context.Context, poolID string, recipientID string, amount uint64, updatedAt time.Time) error
	PutDistribution(ctx context.Context, record DistributionRecord) error
	AppendEvent(ctx context.Context, record EventRecord) error
}

// PoolStore persists pool configuration records.
type PoolStore interface {
	PutPool(ctx context.Context, record PoolRecord) error
	GetPool(ctx context.Context, poolID string) (PoolRecord, error)
}

// RecipientStore reads persisted recipients.
type RecipientStore interface {
	GetRecipient(ctx context.Context, poolID string, recipientID string) (RecipientRecord, error)
	ListRecipients(ctx context.Context, poolID string, pageSize int, pageToken string) (RecipientPage, error)
}

// MilestoneStore reads persisted milestone schedules.
type MilestoneStore interface {
	ListMilestones(ctx context.Context, poolID string, recipientID string) ([]MilestoneRecord, error)
}

// DistributionStore reads persisted distributions.
type DistributionStore interface {
	ListDistributions(ctx context.Context, poolID string, recipientID string, pageSize int, pageToken string) (DistributionPage, error)
}

// EventStore reads and drains the pool event outbox.
type EventStore interface {
	ListEvents(ctx context.Context, poolID string, pageSize int, pageToken string) (EventPage, error)
	MarkEventsProcessed(ctx context.Context, eventIDs []string, processedAt time.Time) error
}

// Store is the full persistence contract the engine depends on.
type Store interface {
	PoolStore
	RecipientStore
	MilestoneStore
	DistributionStore
	EventStore

	// InTransaction runs fn against one transaction; fn returning an error
	// rolls back every write it made.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
