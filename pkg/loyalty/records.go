package loyalty

import (
	"context"
	"fmt"
	"time"
)

// Account is an enrolled loyalty participant. Balance, LifetimeSpend and Tier are
// cached projections of the account's ledger entries.
type Account struct {
	AccountID     AccountID
	TenantID      TenantID
	ExternalCode  ExternalCode
	ContactEmail  ContactEmail
	DisplayName   DisplayName
	Balance       Points
	LifetimeSpend Money
	Tier          TierName
	CreatedAt     time.Time
}

// LedgerEntry is a single immutable point-changing event.
type LedgerEntry struct {
	EntryID        EntryID
	AccountID      AccountID
	TenantID       TenantID
	RecordedBy     RecordedBy
	Kind           EntryKind
	PointDelta     Points
	SpendAmount    Money
	IdempotencyKey IdempotencyKey
	Description    string
	Metadata       MetadataJSON
	CreatedAt      time.Time
}

// LedgerTotals are the sums over an account's entries.
type LedgerTotals struct {
	Balance       Points
	LifetimeSpend Money
	EntryCount    int64
}

// AccountInput is a validated account ready to be persisted.
type AccountInput struct {
	account Account
}

// NewAccountInput validates a new account. contactEmail may be the zero value.
func NewAccountInput(accountID AccountID, tenantID TenantID, code ExternalCode, contactEmail ContactEmail, displayName DisplayName, createdAt time.Time) (AccountInput, error) {
	if accountID.IsZero() {
		return AccountInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if tenantID.IsZero() {
		return AccountInput{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	if code.IsZero() {
		return AccountInput{}, fmt.Errorf("%w: external code is required", ErrInvalidIdentifier)
	}
	if displayName.String() == "" {
		return AccountInput{}, fmt.Errorf("%w: empty value", ErrInvalidDisplayName)
	}
	return AccountInput{account: Account{
		AccountID:    accountID,
		TenantID:     tenantID,
		ExternalCode: code,
		ContactEmail: contactEmail,
		DisplayName:  displayName,
		CreatedAt:    createdAt.UTC(),
	}}, nil
}

// Account returns the account as it looks right after creation.
func (input AccountInput) Account() Account {
	return input.account
}

// EntryInput is a validated ledger entry ready to be appended.
type EntryInput struct {
	entry LedgerEntry
}

// NewEntryInput validates an entry before it is appended.
func NewEntryInput(
	entryID EntryID,
	accountID AccountID,
	tenantID TenantID,
	recordedBy RecordedBy,
	kind EntryKind,
	pointDelta Points,
	spendAmount Money,
	idempotencyKey IdempotencyKey,
	description string,
	metadata MetadataJSON,
	createdAt time.Time,
) (EntryInput, error) {
	if entryID.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	if accountID.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if tenantID.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	if recordedBy.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidRecordedBy)
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	if idempotencyKey.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if pointDelta == 0 && spendAmount.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: entry changes neither points nor spend", ErrInvalidAmount)
	}
	return EntryInput{entry: LedgerEntry{
		EntryID:        entryID,
		AccountID:      accountID,
		TenantID:       tenantID,
		RecordedBy:     recordedBy,
		Kind:           kind,
		PointDelta:     pointDelta,
		SpendAmount:    spendAmount,
		IdempotencyKey: idempotencyKey,
		Description:    description,
		Metadata:       metadata,
		CreatedAt:      createdAt.UTC(),
	}}, nil
}

// Entry returns the entry as it will be stored.
func (input EntryInput) Entry() LedgerEntry {
	return input.entry
}

// AccountDelta is a relative change applied to an account's cached totals.
type AccountDelta struct {
	AccountID     AccountID
	PointDelta    Points
	SpendAmount   Money
	AllowNegative bool
}

// IDGenerator mints identifiers for new accounts and entries.
type IDGenerator interface {
	NewAccountID() (AccountID, error)
	NewEntryID() (EntryID, error)
}

// CodeGenerator mints presentable card codes for email enrollments.
type CodeGenerator interface {
	NewExternalCode() (ExternalCode, error)
}

// Store is the persistence contract used by Ledger and Directory.
// (gormstore and pgstore implement it.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, input AccountInput) (Account, error)
	GetAccount(ctx context.Context, tenantID TenantID, accountID AccountID) (Account, error)
	LockAccount(ctx context.Context, tenantID TenantID, accountID AccountID) (Account, error)
	FindAccountByCode(ctx context.Context, tenantID TenantID, code ExternalCode) (Account, error)
	FindAccountByEmail(ctx context.Context, tenantID TenantID, email ContactEmail) (Account, error)
	InsertEntry(ctx context.Context, input EntryInput) error
	GetEntryByIdempotencyKey(ctx context.Context, accountID AccountID, key IdempotencyKey) (LedgerEntry, error)
	ApplyDelta(ctx context.Context, delta AccountDelta) (Account, error)
	SetTier(ctx context.Context, accountID AccountID, tier TierName) error
	OverwriteTotals(ctx context.Context, accountID AccountID, totals LedgerTotals, tier TierName) (Account, error)
	SumEntries(ctx context.Context, accountID AccountID) (LedgerTotals, error)
	ListEntries(ctx context.Context, accountID AccountID, before EntryID, limit int) ([]LedgerEntry, error)
}
