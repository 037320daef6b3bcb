package loyalty

import (
	"context"
	"errors"
	"fmt"
)

// Ledger is the append-only point ledger. It keeps each account's cached balance,
// lifetime spend and tier in step with the entries it appends.
type Ledger struct {
	store    Store
	programs ProgramSource
	ids      IDGenerator
	deps     dependencies
}

// AppendRequest describes one point-changing event.
type AppendRequest struct {
	AccountID      AccountID
	PointDelta     Points
	SpendAmount    Money
	IdempotencyKey IdempotencyKey
	Kind           EntryKind
	Description    string
	Metadata       MetadataJSON
	// AllowNegative lets administrative adjustments drive the balance below zero.
	AllowNegative bool
}

// AppendResult is the stored entry and the account right after it was applied.
type AppendResult struct {
	Entry        LedgerEntry
	Account      Account
	PreviousTier TierName
	Replayed     bool
}

// HistoryQuery pages through entries most-recent-first.
type HistoryQuery struct {
	Limit  int
	Before EntryID
}

// HistoryPage is one page of history. Next is zero when no older entries remain.
type HistoryPage struct {
	Entries []LedgerEntry
	Next    EntryID
}

// Reconciliation compares the cached account fields with the ledger sums.
type Reconciliation struct {
	AccountID           AccountID
	CachedBalance       Points
	LedgerBalance       Points
	CachedLifetimeSpend Money
	LedgerLifetimeSpend Money
	CachedTier          TierName
	DerivedTier         TierName
	EntryCount          int64
}

// Consistent reports whether the cache matches the ledger.
func (reconciliation Reconciliation) Consistent() bool {
	return reconciliation.CachedBalance == reconciliation.LedgerBalance &&
		reconciliation.CachedLifetimeSpend.Equal(reconciliation.LedgerLifetimeSpend) &&
		reconciliation.CachedTier == reconciliation.DerivedTier
}

// NewLedger wires a Ledger.
func NewLedger(store Store, programs ProgramSource, ids IDGenerator, options ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if programs == nil {
		return nil, fmt.Errorf("%w: program source is nil", ErrInvalidServiceConfig)
	}
	if ids == nil {
		return nil, fmt.Errorf("%w: id generator is nil", ErrInvalidServiceConfig)
	}
	return &Ledger{store: store, programs: programs, ids: ids, deps: newDependencies(options)}, nil
}

// Append records an entry and updates the account's cached totals in one transaction.
// Retrying with the same idempotency key and payload returns the original entry.
func (ledger *Ledger) Append(ctx context.Context, session Session, request AppendRequest) (AppendResult, error) {
	result, operationError := ledger.append(ctx, session, request)
	ledger.deps.logOperation(ctx, OperationLog{
		Operation:      operationAppend,
		TenantID:       session.TenantID(),
		RecordedBy:     session.RecordedBy(),
		AccountID:      request.AccountID,
		EntryID:        result.Entry.EntryID,
		PointDelta:     request.PointDelta,
		SpendAmount:    request.SpendAmount,
		IdempotencyKey: request.IdempotencyKey,
		Status:         replayStatus(result.Replayed, operationError),
		Error:          operationError,
	})
	return result, operationError
}

// BalanceOf returns the account's cached balance.
func (ledger *Ledger) BalanceOf(ctx context.Context, session Session, accountID AccountID) (Points, error) {
	if err := session.validate(); err != nil {
		return 0, err
	}
	account, err := ledger.store.GetAccount(ctx, session.TenantID(), accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// History lists entries most-recent-first, strictly older than query.Before when set.
func (ledger *Ledger) History(ctx context.Context, session Session, accountID AccountID, query HistoryQuery) (HistoryPage, error) {
	if err := session.validate(); err != nil {
		return HistoryPage{}, err
	}
	limit, err := normalizeHistoryLimit(query.Limit)
	if err != nil {
		return HistoryPage{}, err
	}
	if _, err := ledger.store.GetAccount(ctx, session.TenantID(), accountID); err != nil {
		return HistoryPage{}, err
	}
	entries, err := ledger.store.ListEntries(ctx, accountID, query.Before, limit+1)
	if err != nil {
		return HistoryPage{}, err
	}
	page := HistoryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.Next = page.Entries[limit-1].EntryID
	}
	return page, nil
}

// Reconcile recomputes the account totals from its entries and compares them with the cache.
func (ledger *Ledger) Reconcile(ctx context.Context, session Session, accountID AccountID) (Reconciliation, error) {
	if err := session.validate(); err != nil {
		return Reconciliation{}, err
	}
	program, err := ledger.programs.Program(ctx, session.TenantID())
	if err != nil {
		return Reconciliation{}, err
	}
	var reconciliation Reconciliation
	operationError := ledger.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, session.TenantID(), accountID)
		if err != nil {
			return err
		}
		totals, err := transactionStore.SumEntries(ctx, accountID)
		if err != nil {
			return err
		}
		reconciliation = newReconciliation(account, totals, program.Tiers)
		return nil
	})
	status := ""
	if operationError == nil && !reconciliation.Consistent() {
		status = operationStatusDrift
	}
	ledger.deps.logOperation(ctx, OperationLog{
		Operation:  operationReconcile,
		TenantID:   session.TenantID(),
		RecordedBy: session.RecordedBy(),
		AccountID:  accountID,
		Status:     status,
		Error:      operationError,
	})
	return reconciliation, operationError
}

// Repair overwrites the cached totals with the ledger sums. Entries are untouched.
func (ledger *Ledger) Repair(ctx context.Context, session Session, accountID AccountID) (Reconciliation, error) {
	if err := session.validate(); err != nil {
		return Reconciliation{}, err
	}
	program, err := ledger.programs.Program(ctx, session.TenantID())
	if err != nil {
		return Reconciliation{}, err
	}
	var reconciliation Reconciliation
	operationError := ledger.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.LockAccount(ctx, session.TenantID(), accountID); err != nil {
			return err
		}
		totals, err := transactionStore.SumEntries(ctx, accountID)
		if err != nil {
			return err
		}
		repaired, err := transactionStore.OverwriteTotals(ctx, accountID, totals, program.Tiers.TierFor(totals.LifetimeSpend))
		if err != nil {
			return err
		}
		reconciliation = newReconciliation(repaired, totals, program.Tiers)
		return nil
	})
	ledger.deps.logOperation(ctx, OperationLog{
		Operation:  operationRepair,
		TenantID:   session.TenantID(),
		RecordedBy: session.RecordedBy(),
		AccountID:  accountID,
		Error:      operationError,
	})
	return reconciliation, operationError
}

func (ledger *Ledger) append(ctx context.Context, session Session, request AppendRequest) (AppendResult, error) {
	if err := session.validate(); err != nil {
		return AppendResult{}, err
	}
	var result AppendResult
	operationError := ledger.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		appended, err := ledger.appendInTx(ctx, transactionStore, session, request)
		if err != nil {
			return err
		}
		result = appended
		return nil
	})
	if operationError != nil {
		return AppendResult{}, operationError
	}
	return result, nil
}

// appendInTx must run inside a store transaction.
func (ledger *Ledger) appendInTx(ctx context.Context, transactionStore Store, session Session, request AppendRequest) (AppendResult, error) {
	if request.PointDelta == 0 && request.SpendAmount.IsZero() {
		return AppendResult{}, fmt.Errorf("%w: entry changes neither points nor spend", ErrInvalidAmount)
	}
	program, err := ledger.programs.Program(ctx, session.TenantID())
	if err != nil {
		return AppendResult{}, err
	}
	account, err := transactionStore.GetAccount(ctx, session.TenantID(), request.AccountID)
	if err != nil {
		return AppendResult{}, err
	}
	entryID, err := ledger.ids.NewEntryID()
	if err != nil {
		return AppendResult{}, fmt.Errorf("mint entry id: %w", err)
	}
	entryInput, err := NewEntryInput(
		entryID,
		account.AccountID,
		account.TenantID,
		session.RecordedBy(),
		resolveEntryKind(request),
		request.PointDelta,
		request.SpendAmount,
		request.IdempotencyKey,
		request.Description,
		request.Metadata,
		ledger.deps.now(),
	)
	if err != nil {
		return AppendResult{}, err
	}
	if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return replayEntry(ctx, transactionStore, account, request)
		}
		return AppendResult{}, err
	}
	if _, err := account.Balance.Plus(request.PointDelta); err != nil {
		return AppendResult{}, err
	}
	if _, err := account.LifetimeSpend.Add(request.SpendAmount); err != nil {
		return AppendResult{}, err
	}
	updated, err := transactionStore.ApplyDelta(ctx, AccountDelta{
		AccountID:     account.AccountID,
		PointDelta:    request.PointDelta,
		SpendAmount:   request.SpendAmount,
		AllowNegative: request.AllowNegative,
	})
	if err != nil {
		return AppendResult{}, err
	}
	previousSpend := Money{value: updated.LifetimeSpend.Decimal().Sub(request.SpendAmount.Decimal())}
	derivedTier := program.Tiers.TierFor(updated.LifetimeSpend)
	if derivedTier != updated.Tier {
		if err := transactionStore.SetTier(ctx, updated.AccountID, derivedTier); err != nil {
			return AppendResult{}, err
		}
		updated.Tier = derivedTier
	}
	return AppendResult{
		Entry:        entryInput.Entry(),
		Account:      updated,
		PreviousTier: program.Tiers.TierFor(previousSpend),
	}, nil
}

func replayEntry(ctx context.Context, transactionStore Store, account Account, request AppendRequest) (AppendResult, error) {
	original, err := transactionStore.GetEntryByIdempotencyKey(ctx, account.AccountID, request.IdempotencyKey)
	if err != nil {
		return AppendResult{}, err
	}
	if original.PointDelta != request.PointDelta || !original.SpendAmount.Equal(request.SpendAmount) {
		return AppendResult{}, WrapError("ledger", "entry", "key_reused", ErrDuplicateIdempotencyKey)
	}
	current, err := transactionStore.GetAccount(ctx, account.TenantID, account.AccountID)
	if err != nil {
		return AppendResult{}, err
	}
	return AppendResult{
		Entry:        original,
		Account:      current,
		PreviousTier: current.Tier,
		Replayed:     true,
	}, nil
}

func newReconciliation(account Account, totals LedgerTotals, tiers TierTable) Reconciliation {
	return Reconciliation{
		AccountID:           account.AccountID,
		CachedBalance:       account.Balance,
		LedgerBalance:       totals.Balance,
		CachedLifetimeSpend: account.LifetimeSpend,
		LedgerLifetimeSpend: totals.LifetimeSpend,
		CachedTier:          account.Tier,
		DerivedTier:         tiers.TierFor(totals.LifetimeSpend),
		EntryCount:          totals.EntryCount,
	}
}

func resolveEntryKind(request AppendRequest) EntryKind {
	if request.Kind != "" {
		return request.Kind
	}
	switch {
	case !request.SpendAmount.IsZero():
		return EntryAccrual
	case request.PointDelta < 0 && !request.AllowNegative:
		return EntryRedemption
	default:
		return EntryAdjustment
	}
}

func normalizeHistoryLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultHistoryLimit, nil
	}
	if limit < 0 || limit > MaxHistoryLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidHistoryLimit, MaxHistoryLimit)
	}
	return limit, nil
}

func replayStatus(replayed bool, err error) string {
	if err == nil && replayed {
		return operationStatusReplayed
	}
	return ""
}
