// Package engine implements the pool strategy operations over storage,
// asset custody, and identity anchors.
//
// Every mutating operation is serialized, re-validates state from storage,
// and commits through a single transaction so a failed call never leaves
// partial writes behind.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openpool/grantgate/internal/anchor"
	"github.com/openpool/grantgate/internal/custody"
	"github.com/openpool/grantgate/internal/metadata"
	"github.com/openpool/grantgate/internal/milestone"
	"github.com/openpool/grantgate/internal/platform/id"
	"github.com/openpool/grantgate/internal/pool"
	"github.com/openpool/grantgate/internal/recipient"
	"github.com/openpool/grantgate/internal/storage"
)

// Config wires an Engine's collaborators.
type Config struct {
	Store   storage.Store
	Custody custody.Ledger
	// Anchors is required only when the pool gates registration.
	Anchors anchor.Resolver
	Roles   RoleChecker

	Pool pool.Config

	Logger *log.Logger

	// Clock and IDGenerator default to time.Now and id.NewID.
	Clock       func() time.Time
	IDGenerator func() (string, error)
}

// Engine executes the strategy operations for one pool.
type Engine struct {
	mu sync.Mutex

	store   storage.Store
	custody custody.Ledger
	anchors anchor.Resolver
	roles   RoleChecker

	cfg pool.Config

	logger *log.Logger
	tracer trace.Tracer

	now   func() time.Time
	newID func() (string, error)
}

// New builds an Engine from wired collaborators.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Custody == nil {
		return nil, fmt.Errorf("custody ledger is required")
	}
	if cfg.Roles == nil {
		return nil, fmt.Errorf("role checker is required")
	}

	poolCfg, err := pool.Normalize(cfg.Pool)
	if err != nil {
		return nil, err
	}
	if poolCfg.RegistrationGated && cfg.Anchors == nil {
		return nil, fmt.Errorf("anchor resolver is required for gated registration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idGenerator := cfg.IDGenerator
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	return &Engine{
		store:   cfg.Store,
		custody: cfg.Custody,
		anchors: cfg.Anchors,
		roles:   cfg.Roles,
		cfg:     poolCfg,
		logger:  logger,
		tracer:  otel.Tracer("grantgate/engine"),
		now:     clock,
		newID:   idGenerator,
	}, nil
}

// Pool returns the engine's pool configuration.
func (e *Engine) Pool() pool.Config {
	return e.cfg
}

// EnsurePool persists the pool configuration record. Existing records are
// left untouched; pool configuration is immutable after creation.
func (e *Engine) EnsurePool(ctx context.Context) error {
	return e.store.PutPool(ctx, storage.PoolRecord{
		ID:                       e.cfg.ID,
		RegistrationGated:        e.cfg.RegistrationGated,
		MetadataRequired:         e.cfg.MetadataRequired,
		GrantAmountRequired:      e.cfg.GrantAmountRequired,
		AllocationOverrideCapped: e.cfg.AllocationOverrideCapped,
		SelfDistributionAllowed:  e.cfg.SelfDistributionAllowed,
		ManagerMilestones:        e.cfg.ManagerMilestones,
		CreatedAt:                e.now().UTC(),
	})
}

func recipientFromRecord(record storage.RecipientRecord) recipient.Recipient {
	return recipient.Recipient{
		PoolID:        record.PoolID,
		ID:            record.ID,
		PayoutAddress: record.PayoutAddress,
		GrantAmount:   record.GrantAmount,
		Metadata: metadata.Metadata{
			Protocol: record.MetadataProtocol,
			Pointer:  record.MetadataPointer,
		},
		Status:    recipient.Status(record.Status),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func recordFromRecipient(r recipient.Recipient, reviewStatus string, paidAmount uint64) storage.RecipientRecord {
	return storage.RecipientRecord{
		PoolID:                 r.PoolID,
		ID:                     r.ID,
		PayoutAddress:          r.PayoutAddress,
		GrantAmount:            r.GrantAmount,
		MetadataProtocol:       r.Metadata.Protocol,
		MetadataPointer:        r.Metadata.Pointer,
		Status:                 string(r.Status),
		MilestonesReviewStatus: reviewStatus,
		PaidAmount:             paidAmount,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func milestonesFromRecords(records []storage.MilestoneRecord) []milestone.Milestone {
	schedule := make([]milestone.Milestone, 0, len(records))
	for _, record := range records {
		schedule = append(schedule, milestone.Milestone{
			Index:            record.MilestoneIndex,
			AmountPercentage: record.AmountPercentage,
			Metadata: metadata.Metadata{
				Protocol: record.MetadataProtocol,
				Pointer:  record.MetadataPointer,
			},
			Status:    milestone.Status(record.Status),
			Submitted: record.Submitted,
			Paid:      record.Paid,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return schedule
}

func recordFromMilestone(poolID string, recipientID string, m milestone.Milestone, createdAt time.Time) storage.MilestoneRecord {
	return storage.MilestoneRecord{
		PoolID:           poolID,
		RecipientID:      recipientID,
		MilestoneIndex:   m.Index,
		AmountPercentage: m.AmountPercentage,
		MetadataProtocol: m.Metadata.Protocol,
		MetadataPointer:  m.Metadata.Pointer,
		Status:           string(m.Status),
		Submitted:        m.Submitted,
		Paid:             m.Paid,
		CreatedAt:        createdAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
