package loyalty

import (
	"context"
	"time"
)

// Option configures Ledger, Directory and Engine instances.
type Option func(*dependencies)

type dependencies struct {
	nowFn  func() time.Time
	logger OperationLogger
	codes  CodeGenerator
}

func newDependencies(options []Option) dependencies {
	resolved := dependencies{
		nowFn: func() time.Time { return time.Now().UTC() },
		codes: RandomCodes{},
	}
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}
	return resolved
}

// OperationLogger records domain-level events emitted by state-changing operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing loyalty operation.
type OperationLog struct {
	Operation      string
	TenantID       TenantID
	RecordedBy     RecordedBy
	AccountID      AccountID
	EntryID        EntryID
	PointDelta     Points
	SpendAmount    Money
	IdempotencyKey IdempotencyKey
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(deps *dependencies) {
		deps.logger = logger
	}
}

// WithClock overrides the wall clock used to stamp accounts and entries.
func WithClock(now func() time.Time) Option {
	return func(deps *dependencies) {
		if now != nil {
			deps.nowFn = now
		}
	}
}

// WithCodeGenerator overrides how card codes are minted for email enrollments.
func WithCodeGenerator(codes CodeGenerator) Option {
	return func(deps *dependencies) {
		if codes != nil {
			deps.codes = codes
		}
	}
}

func (deps dependencies) logOperation(ctx context.Context, entry OperationLog) {
	if deps.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	deps.logger.LogOperation(ctx, entry)
}

func (deps dependencies) now() time.Time {
	return deps.nowFn().UTC()
}
