package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = "{}"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorCodeApplyDelta     = "apply_delta"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeMigrate        = "migrate"
	errorCodeOverwrite      = "overwrite"
	errorCodeSetTier        = "set_tier"
	errorCodeSumEntries     = "sum_entries"
	errorCodeInsufficient   = "insufficient"
	columnAccountID         = "account_id"
	columnIdempotencyKey    = "idempotency_key"
	lockStrengthUpdate      = "UPDATE"
	balanceGuardCondition   = "balance_points + ? >= 0"
	balanceIncrementSQL     = "balance_points + ?"
	lifetimeSpendIncrement  = "lifetime_spend_cents + ?"
	accountTenantCondition  = "account_id = ? AND tenant_id = ?"
	entryIdempotencyFilter  = "account_id = ? AND idempotency_key = ?"
	entryBeforeCondition    = "entry_id < ?"
	entryHistoryOrder       = "entry_id DESC"
	entryTotalsSelectClause = "coalesce(sum(point_delta),0) as balance, coalesce(sum(spend_cents),0) as spend_cents, count(*) as entry_count"
)

// Store implements loyalty.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the accounts and ledger_entries tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&Account{}, &LedgerEntry{}); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, input loyalty.AccountInput) (loyalty.Account, error) {
	account := input.Account()
	model := Account{
		AccountID:    account.AccountID.String(),
		TenantID:     account.TenantID.String(),
		ExternalCode: account.ExternalCode.String(),
		ContactEmail: optionalString(account.ContactEmail.String()),
		DisplayName:  account.DisplayName.String(),
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, loyalty.ErrDuplicateIdentifier)
	}
	if err != nil {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return account, nil
}

func (store *Store) GetAccount(ctx context.Context, tenantID loyalty.TenantID, accountID loyalty.AccountID) (loyalty.Account, error) {
	return store.takeAccount(store.db.WithContext(ctx).Where(accountTenantCondition, accountID.String(), tenantID.String()), loyalty.ErrUnknownAccount)
}

func (store *Store) LockAccount(ctx context.Context, tenantID loyalty.TenantID, accountID loyalty.AccountID) (loyalty.Account, error) {
	query := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: lockStrengthUpdate}).
		Where(accountTenantCondition, accountID.String(), tenantID.String())
	return store.takeAccount(query, loyalty.ErrUnknownAccount)
}

func (store *Store) FindAccountByCode(ctx context.Context, tenantID loyalty.TenantID, code loyalty.ExternalCode) (loyalty.Account, error) {
	query := store.db.WithContext(ctx).Where("tenant_id = ? AND external_code = ?", tenantID.String(), code.String())
	return store.takeAccount(query, loyalty.ErrNotFound)
}

func (store *Store) FindAccountByEmail(ctx context.Context, tenantID loyalty.TenantID, email loyalty.ContactEmail) (loyalty.Account, error) {
	query := store.db.WithContext(ctx).Where("tenant_id = ? AND contact_email = ?", tenantID.String(), email.String())
	return store.takeAccount(query, loyalty.ErrNotFound)
}

// InsertEntry appends an entry. A second entry with the same account and key is
// skipped by the database and reported as loyalty.ErrDuplicateIdempotencyKey.
func (store *Store) InsertEntry(ctx context.Context, entryInput loyalty.EntryInput) error {
	entry := entryInput.Entry()
	model := LedgerEntry{
		EntryID:        entry.EntryID.Int64(),
		AccountID:      entry.AccountID.String(),
		TenantID:       entry.TenantID.String(),
		RecordedBy:     entry.RecordedBy.String(),
		Kind:           entry.Kind.String(),
		PointDelta:     entry.PointDelta.Int64(),
		SpendCents:     entry.SpendAmount.MinorUnits(),
		IdempotencyKey: entry.IdempotencyKey.String(),
		Description:    entry.Description,
		Metadata:       datatypesJSON(entry.Metadata.String()),
		CreatedAt:      entry.CreatedAt,
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnAccountID}, {Name: columnIdempotencyKey}},
			DoNothing: true,
		}).
		Create(&model)
	if isUniqueViolation(result.Error) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, loyalty.ErrDuplicateIdempotencyKey)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, loyalty.ErrDuplicateIdempotencyKey)
	}
	return nil
}

func (store *Store) GetEntryByIdempotencyKey(ctx context.Context, accountID loyalty.AccountID, key loyalty.IdempotencyKey) (loyalty.LedgerEntry, error) {
	var row LedgerEntry
	err := store.db.WithContext(ctx).
		Where(entryIdempotencyFilter, accountID.String(), key.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loyalty.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, loyalty.ErrEntryNotFound)
		}
		return loyalty.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return loyalty.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

// ApplyDelta increments the cached totals in a single UPDATE. Only debits are
// guarded against overdrawing; credits always apply.
func (store *Store) ApplyDelta(ctx context.Context, delta loyalty.AccountDelta) (loyalty.Account, error) {
	query := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", delta.AccountID.String())
	if !delta.AllowNegative && delta.PointDelta < 0 {
		query = query.Where(balanceGuardCondition, delta.PointDelta.Int64())
	}
	result := query.Updates(map[string]interface{}{
		"balance_points":       gorm.Expr(balanceIncrementSQL, delta.PointDelta.Int64()),
		"lifetime_spend_cents": gorm.Expr(lifetimeSpendIncrement, delta.SpendAmount.MinorUnits()),
	})
	if result.Error != nil {
		return loyalty.Account{}, wrapStoreError(errorSubjectBalance, errorCodeApplyDelta, result.Error)
	}
	account, err := store.takeAccount(store.db.WithContext(ctx).Where("account_id = ?", delta.AccountID.String()), loyalty.ErrUnknownAccount)
	if err != nil {
		return loyalty.Account{}, err
	}
	if result.RowsAffected == 0 {
		return loyalty.Account{}, wrapStoreError(errorSubjectBalance, errorCodeInsufficient, loyalty.ErrInsufficientBalance)
	}
	return account, nil
}

func (store *Store) SetTier(ctx context.Context, accountID loyalty.AccountID, tier loyalty.TierName) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Update("tier", tier.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSetTier, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSetTier, loyalty.ErrUnknownAccount)
	}
	return nil
}

func (store *Store) OverwriteTotals(ctx context.Context, accountID loyalty.AccountID, totals loyalty.LedgerTotals, tier loyalty.TierName) (loyalty.Account, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]interface{}{
			"balance_points":       totals.Balance.Int64(),
			"lifetime_spend_cents": totals.LifetimeSpend.MinorUnits(),
			"tier":                 tier.String(),
		})
	if result.Error != nil {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeOverwrite, result.Error)
	}
	if result.RowsAffected == 0 {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeOverwrite, loyalty.ErrUnknownAccount)
	}
	return store.takeAccount(store.db.WithContext(ctx).Where("account_id = ?", accountID.String()), loyalty.ErrUnknownAccount)
}

func (store *Store) SumEntries(ctx context.Context, accountID loyalty.AccountID) (loyalty.LedgerTotals, error) {
	var sum sqlTotals
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select(entryTotalsSelectClause).
		Where("account_id = ?", accountID.String()).
		Scan(&sum).Error
	if err != nil {
		return loyalty.LedgerTotals{}, wrapStoreError(errorSubjectBalance, errorCodeSumEntries, err)
	}
	lifetimeSpend, err := loyalty.MoneyFromMinorUnits(sum.SpendCents)
	if err != nil {
		return loyalty.LedgerTotals{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return loyalty.LedgerTotals{
		Balance:       loyalty.Points(sum.Balance),
		LifetimeSpend: lifetimeSpend,
		EntryCount:    sum.EntryCount,
	}, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID loyalty.AccountID, before loyalty.EntryID, limit int) ([]loyalty.LedgerEntry, error) {
	query := store.db.WithContext(ctx).Where("account_id = ?", accountID.String())
	if !before.IsZero() {
		query = query.Where(entryBeforeCondition, before.Int64())
	}
	var rows []LedgerEntry
	err := query.Order(entryHistoryOrder).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]loyalty.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) takeAccount(query *gorm.DB, notFound error) (loyalty.Account, error) {
	var model Account
	if err := query.Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, notFound)
		}
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return loyalty.WrapError(errorOperationStore, subject, code, err)
}

type sqlTotals struct {
	Balance    int64
	SpendCents int64
	EntryCount int64
}

func mapAccount(model Account) (loyalty.Account, error) {
	accountID, err := loyalty.NewAccountID(model.AccountID)
	if err != nil {
		return loyalty.Account{}, err
	}
	tenantID, err := loyalty.NewTenantID(model.TenantID)
	if err != nil {
		return loyalty.Account{}, err
	}
	code, err := loyalty.NewExternalCode(model.ExternalCode)
	if err != nil {
		return loyalty.Account{}, err
	}
	var email loyalty.ContactEmail
	if model.ContactEmail != nil {
		email, err = loyalty.NewContactEmail(*model.ContactEmail)
		if err != nil {
			return loyalty.Account{}, err
		}
	}
	displayName, err := loyalty.NewDisplayName(model.DisplayName)
	if err != nil {
		return loyalty.Account{}, err
	}
	lifetimeSpend, err := loyalty.MoneyFromMinorUnits(model.LifetimeSpendCents)
	if err != nil {
		return loyalty.Account{}, err
	}
	return loyalty.Account{
		AccountID:     accountID,
		TenantID:      tenantID,
		ExternalCode:  code,
		ContactEmail:  email,
		DisplayName:   displayName,
		Balance:       loyalty.Points(model.BalancePoints),
		LifetimeSpend: lifetimeSpend,
		Tier:          loyalty.TierName(model.Tier),
		CreatedAt:     model.CreatedAt.UTC(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (loyalty.LedgerEntry, error) {
	entryID, err := loyalty.NewEntryID(row.EntryID)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	accountID, err := loyalty.NewAccountID(row.AccountID)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	tenantID, err := loyalty.NewTenantID(row.TenantID)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	recordedBy, err := loyalty.NewRecordedBy(row.RecordedBy)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	kind, err := loyalty.ParseEntryKind(row.Kind)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	spend, err := loyalty.MoneyFromMinorUnits(row.SpendCents)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	metadata, err := loyalty.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	input, err := loyalty.NewEntryInput(
		entryID,
		accountID,
		tenantID,
		recordedBy,
		kind,
		loyalty.Points(row.PointDelta),
		spend,
		idempotencyKey,
		row.Description,
		metadata,
		row.CreatedAt,
	)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	return input.Entry(), nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
