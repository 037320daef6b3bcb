package loyalty

import (
	"context"
	"fmt"
)

// Engine applies the tenant program to terminal events: accruals, redemptions and adjustments.
type Engine struct {
	ledger   *Ledger
	programs ProgramSource
	deps     dependencies
}

// AccrueRequest records a purchase. A zero Rate uses the tenant program's rate.
type AccrueRequest struct {
	AccountID      AccountID
	SpendAmount    Money
	Rate           Rate
	IdempotencyKey IdempotencyKey
	Description    string
}

// AccrualResult reports the balance and tier after a purchase.
type AccrualResult struct {
	Entry            LedgerEntry
	PointsAwarded    Points
	NewBalance       Points
	NewLifetimeSpend Money
	NewTier          TierName
	PreviousTier     TierName
	TierChanged      bool
	Replayed         bool
}

// RedeemRequest spends points from an account.
type RedeemRequest struct {
	AccountID      AccountID
	Points         PositivePoints
	IdempotencyKey IdempotencyKey
	Description    string
}

// RedemptionResult reports the balance after a redemption.
type RedemptionResult struct {
	Entry      LedgerEntry
	NewBalance Points
	Replayed   bool
}

// AdjustRequest is an administrative correction. The balance may go negative.
type AdjustRequest struct {
	AccountID      AccountID
	PointDelta     Points
	IdempotencyKey IdempotencyKey
	Reason         Reason
}

// AdjustmentResult reports the balance after an adjustment.
type AdjustmentResult struct {
	Entry      LedgerEntry
	NewBalance Points
	Replayed   bool
}

// NewEngine wires an Engine on top of a Ledger.
func NewEngine(ledger *Ledger, options ...Option) (*Engine, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	return &Engine{ledger: ledger, programs: ledger.programs, deps: newDependencies(options)}, nil
}

// Accrue converts spend into points at floor(spend * rate) and updates lifetime spend and tier.
func (engine *Engine) Accrue(ctx context.Context, session Session, request AccrueRequest) (AccrualResult, error) {
	result, operationError := engine.accrue(ctx, session, request)
	engine.deps.logOperation(ctx, OperationLog{
		Operation:      operationAccrue,
		TenantID:       session.TenantID(),
		RecordedBy:     session.RecordedBy(),
		AccountID:      request.AccountID,
		EntryID:        result.Entry.EntryID,
		PointDelta:     result.PointsAwarded,
		SpendAmount:    request.SpendAmount,
		IdempotencyKey: request.IdempotencyKey,
		Status:         replayStatus(result.Replayed, operationError),
		Error:          operationError,
	})
	return result, operationError
}

// Redeem subtracts points. The balance never goes negative.
func (engine *Engine) Redeem(ctx context.Context, session Session, request RedeemRequest) (RedemptionResult, error) {
	result, operationError := engine.redeem(ctx, session, request)
	engine.deps.logOperation(ctx, OperationLog{
		Operation:      operationRedeem,
		TenantID:       session.TenantID(),
		RecordedBy:     session.RecordedBy(),
		AccountID:      request.AccountID,
		EntryID:        result.Entry.EntryID,
		PointDelta:     request.Points.Points().Negated(),
		IdempotencyKey: request.IdempotencyKey,
		Status:         replayStatus(result.Replayed, operationError),
		Error:          operationError,
	})
	return result, operationError
}

// Adjust records a signed administrative correction with a reason.
func (engine *Engine) Adjust(ctx context.Context, session Session, request AdjustRequest) (AdjustmentResult, error) {
	result, operationError := engine.adjust(ctx, session, request)
	engine.deps.logOperation(ctx, OperationLog{
		Operation:      operationAdjust,
		TenantID:       session.TenantID(),
		RecordedBy:     session.RecordedBy(),
		AccountID:      request.AccountID,
		EntryID:        result.Entry.EntryID,
		PointDelta:     request.PointDelta,
		IdempotencyKey: request.IdempotencyKey,
		Status:         replayStatus(result.Replayed, operationError),
		Error:          operationError,
	})
	return result, operationError
}

func (engine *Engine) accrue(ctx context.Context, session Session, request AccrueRequest) (AccrualResult, error) {
	if err := session.validate(); err != nil {
		return AccrualResult{}, err
	}
	if request.SpendAmount.IsZero() {
		return AccrualResult{}, fmt.Errorf("%w: spend must be greater than zero", ErrInvalidAmount)
	}
	rate := request.Rate
	if rate.IsZero() {
		program, err := engine.programs.Program(ctx, session.TenantID())
		if err != nil {
			return AccrualResult{}, err
		}
		rate = program.Rate
	}
	awarded, err := rate.PointsFor(request.SpendAmount)
	if err != nil {
		return AccrualResult{}, err
	}
	appended, err := engine.ledger.append(ctx, session, AppendRequest{
		AccountID:      request.AccountID,
		PointDelta:     awarded,
		SpendAmount:    request.SpendAmount,
		IdempotencyKey: request.IdempotencyKey,
		Kind:           EntryAccrual,
		Description:    request.Description,
		Metadata: MetadataFromMap(map[string]string{
			"rate":         rate.String(),
			"spend_amount": request.SpendAmount.String(),
		}),
	})
	if err != nil {
		return AccrualResult{}, err
	}
	return AccrualResult{
		Entry:            appended.Entry,
		PointsAwarded:    appended.Entry.PointDelta,
		NewBalance:       appended.Account.Balance,
		NewLifetimeSpend: appended.Account.LifetimeSpend,
		NewTier:          appended.Account.Tier,
		PreviousTier:     appended.PreviousTier,
		TierChanged:      appended.PreviousTier != appended.Account.Tier,
		Replayed:         appended.Replayed,
	}, nil
}

func (engine *Engine) redeem(ctx context.Context, session Session, request RedeemRequest) (RedemptionResult, error) {
	if err := session.validate(); err != nil {
		return RedemptionResult{}, err
	}
	if request.Points.Points() <= 0 {
		return RedemptionResult{}, fmt.Errorf("%w: points must be greater than zero", ErrInvalidAmount)
	}
	appended, err := engine.ledger.append(ctx, session, AppendRequest{
		AccountID:      request.AccountID,
		PointDelta:     request.Points.Points().Negated(),
		IdempotencyKey: request.IdempotencyKey,
		Kind:           EntryRedemption,
		Description:    request.Description,
	})
	if err != nil {
		return RedemptionResult{}, err
	}
	return RedemptionResult{Entry: appended.Entry, NewBalance: appended.Account.Balance, Replayed: appended.Replayed}, nil
}

func (engine *Engine) adjust(ctx context.Context, session Session, request AdjustRequest) (AdjustmentResult, error) {
	if err := session.validate(); err != nil {
		return AdjustmentResult{}, err
	}
	if request.PointDelta == 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: adjustment must change the balance", ErrInvalidAmount)
	}
	if request.Reason.String() == "" {
		return AdjustmentResult{}, fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	appended, err := engine.ledger.append(ctx, session, AppendRequest{
		AccountID:      request.AccountID,
		PointDelta:     request.PointDelta,
		IdempotencyKey: request.IdempotencyKey,
		Kind:           EntryAdjustment,
		Description:    request.Reason.String(),
		Metadata:       MetadataFromMap(map[string]string{"reason": request.Reason.String()}),
		AllowNegative:  true,
	})
	if err != nil {
		return AdjustmentResult{}, err
	}
	return AdjustmentResult{Entry: appended.Entry, NewBalance: appended.Account.Balance, Replayed: appended.Replayed}, nil
}
