package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir           = "migrations"
	migrationsDialect       = "postgres"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeApplyDelta     = "apply_delta"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInsufficient   = "insufficient"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeMigrate        = "migrate"
	errorCodeOverwrite      = "overwrite"
	errorCodeSetTier        = "set_tier"
	errorCodeSumEntries     = "sum_entries"

	accountColumns = `
		account_id, tenant_id, external_code, coalesce(contact_email, ''), display_name,
		balance_points, lifetime_spend_cents, tier, created_at
	`

	entryColumns = `
		entry_id, account_id, tenant_id, recorded_by, kind, point_delta, spend_cents,
		idempotency_key, description, coalesce(metadata::text, '{}'), created_at
	`

	sqlInsertAccount = `
		insert into accounts(account_id, tenant_id, external_code, contact_email, display_name, created_at, updated_at)
		values ($1, $2, $3, nullif($4, ''), $5, $6, $6)
	`

	sqlSelectAccountByID    = `select ` + accountColumns + ` from accounts where account_id = $1 and tenant_id = $2`
	sqlLockAccountByID      = sqlSelectAccountByID + ` for update`
	sqlSelectAccountByCode  = `select ` + accountColumns + ` from accounts where tenant_id = $1 and external_code = $2`
	sqlSelectAccountByEmail = `select ` + accountColumns + ` from accounts where tenant_id = $1 and contact_email = $2`
	sqlAccountExists        = `select exists(select 1 from accounts where account_id = $1)`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, account_id, tenant_id, recorded_by, kind, point_delta, spend_cents,
			idempotency_key, description, metadata, created_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, coalesce(nullif($10, ''), '{}')::jsonb, $11)
		on conflict (account_id, idempotency_key) do nothing
	`

	sqlSelectEntryByKey = `select ` + entryColumns + ` from ledger_entries where account_id = $1 and idempotency_key = $2`

	sqlApplyDelta = `
		update accounts
		set balance_points = balance_points + $2,
			lifetime_spend_cents = lifetime_spend_cents + $3,
			updated_at = now()
		where account_id = $1 and ($4 or $2::bigint >= 0 or balance_points + $2 >= 0)
		returning ` + accountColumns

	sqlSetTier = `update accounts set tier = $2, updated_at = now() where account_id = $1`

	sqlOverwriteTotals = `
		update accounts
		set balance_points = $2, lifetime_spend_cents = $3, tier = $4, updated_at = now()
		where account_id = $1
		returning ` + accountColumns

	sqlSumEntries = `
		select coalesce(sum(point_delta), 0)::bigint, coalesce(sum(spend_cents), 0)::bigint, count(*)
		from ledger_entries
		where account_id = $1
	`

	sqlListEntriesBefore = `
		select ` + entryColumns + `
		from ledger_entries
		where account_id = $1 and ($2::bigint = 0 or entry_id < $2)
		order by entry_id desc
		limit $3
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements loyalty.Store on a pgx pool, or on an open transaction inside WithTx.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(migrationsDialect); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx runs fn in a transaction. Nested calls reuse the open transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateAccount(ctx context.Context, input loyalty.AccountInput) (loyalty.Account, error) {
	account := input.Account()
	_, err := store.db.Exec(ctx, sqlInsertAccount,
		account.AccountID.String(),
		account.TenantID.String(),
		account.ExternalCode.String(),
		account.ContactEmail.String(),
		account.DisplayName.String(),
		account.CreatedAt,
	)
	if isUniqueViolation(err) {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, loyalty.ErrDuplicateIdentifier)
	}
	if err != nil {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return account, nil
}

func (store *Store) GetAccount(ctx context.Context, tenantID loyalty.TenantID, accountID loyalty.AccountID) (loyalty.Account, error) {
	return store.queryAccount(ctx, loyalty.ErrUnknownAccount, sqlSelectAccountByID, accountID.String(), tenantID.String())
}

func (store *Store) LockAccount(ctx context.Context, tenantID loyalty.TenantID, accountID loyalty.AccountID) (loyalty.Account, error) {
	return store.queryAccount(ctx, loyalty.ErrUnknownAccount, sqlLockAccountByID, accountID.String(), tenantID.String())
}

func (store *Store) FindAccountByCode(ctx context.Context, tenantID loyalty.TenantID, code loyalty.ExternalCode) (loyalty.Account, error) {
	return store.queryAccount(ctx, loyalty.ErrNotFound, sqlSelectAccountByCode, tenantID.String(), code.String())
}

func (store *Store) FindAccountByEmail(ctx context.Context, tenantID loyalty.TenantID, email loyalty.ContactEmail) (loyalty.Account, error) {
	return store.queryAccount(ctx, loyalty.ErrNotFound, sqlSelectAccountByEmail, tenantID.String(), email.String())
}

// InsertEntry relies on ON CONFLICT DO NOTHING so a duplicate key leaves the
// surrounding transaction usable for the replay lookup.
func (store *Store) InsertEntry(ctx context.Context, entryInput loyalty.EntryInput) error {
	entry := entryInput.Entry()
	tag, err := store.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID.Int64(),
		entry.AccountID.String(),
		entry.TenantID.String(),
		entry.RecordedBy.String(),
		entry.Kind.String(),
		entry.PointDelta.Int64(),
		entry.SpendAmount.MinorUnits(),
		entry.IdempotencyKey.String(),
		entry.Description,
		entry.Metadata.String(),
		entry.CreatedAt,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, loyalty.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, loyalty.ErrDuplicateIdempotencyKey)
	}
	return nil
}

func (store *Store) GetEntryByIdempotencyKey(ctx context.Context, accountID loyalty.AccountID, key loyalty.IdempotencyKey) (loyalty.LedgerEntry, error) {
	entry, err := scanEntry(store.db.QueryRow(ctx, sqlSelectEntryByKey, accountID.String(), key.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loyalty.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, loyalty.ErrEntryNotFound)
		}
		return loyalty.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, nil
}

func (store *Store) ApplyDelta(ctx context.Context, delta loyalty.AccountDelta) (loyalty.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlApplyDelta,
		delta.AccountID.String(),
		delta.PointDelta.Int64(),
		delta.SpendAmount.MinorUnits(),
		delta.AllowNegative,
	))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return loyalty.Account{}, wrapStoreError(errorSubjectBalance, errorCodeApplyDelta, err)
	}
	var exists bool
	if err := store.db.QueryRow(ctx, sqlAccountExists, delta.AccountID.String()).Scan(&exists); err != nil {
		return loyalty.Account{}, wrapStoreError(errorSubjectBalance, errorCodeApplyDelta, err)
	}
	if !exists {
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, loyalty.ErrUnknownAccount)
	}
	return loyalty.Account{}, wrapStoreError(errorSubjectBalance, errorCodeInsufficient, loyalty.ErrInsufficientBalance)
}

func (store *Store) SetTier(ctx context.Context, accountID loyalty.AccountID, tier loyalty.TierName) error {
	tag, err := store.db.Exec(ctx, sqlSetTier, accountID.String(), tier.String())
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSetTier, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSetTier, loyalty.ErrUnknownAccount)
	}
	return nil
}

func (store *Store) OverwriteTotals(ctx context.Context, accountID loyalty.AccountID, totals loyalty.LedgerTotals, tier loyalty.TierName) (loyalty.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlOverwriteTotals,
		accountID.String(),
		totals.Balance.Int64(),
		totals.LifetimeSpend.MinorUnits(),
		tier.String(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeOverwrite, loyalty.ErrUnknownAccount)
		}
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeOverwrite, err)
	}
	return account, nil
}

func (store *Store) SumEntries(ctx context.Context, accountID loyalty.AccountID) (loyalty.LedgerTotals, error) {
	var (
		balance    int64
		spendCents int64
		entryCount int64
	)
	if err := store.db.QueryRow(ctx, sqlSumEntries, accountID.String()).Scan(&balance, &spendCents, &entryCount); err != nil {
		return loyalty.LedgerTotals{}, wrapStoreError(errorSubjectBalance, errorCodeSumEntries, err)
	}
	lifetimeSpend, err := loyalty.MoneyFromMinorUnits(spendCents)
	if err != nil {
		return loyalty.LedgerTotals{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return loyalty.LedgerTotals{Balance: loyalty.Points(balance), LifetimeSpend: lifetimeSpend, EntryCount: entryCount}, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID loyalty.AccountID, before loyalty.EntryID, limit int) ([]loyalty.LedgerEntry, error) {
	rows, err := store.db.Query(ctx, sqlListEntriesBefore, accountID.String(), before.Int64(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]loyalty.LedgerEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) queryAccount(ctx context.Context, notFound error, sql string, arguments ...any) (loyalty.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sql, arguments...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, notFound)
		}
		return loyalty.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return loyalty.WrapError(errorOperationStore, subject, code, err)
}

func scanAccount(row pgx.Row) (loyalty.Account, error) {
	var (
		accountIDValue   string
		tenantIDValue    string
		codeValue        string
		emailValue       string
		displayNameValue string
		balanceValue     int64
		spendCentsValue  int64
		tierValue        string
		createdAtValue   time.Time
	)
	if err := row.Scan(
		&accountIDValue,
		&tenantIDValue,
		&codeValue,
		&emailValue,
		&displayNameValue,
		&balanceValue,
		&spendCentsValue,
		&tierValue,
		&createdAtValue,
	); err != nil {
		return loyalty.Account{}, err
	}
	accountID, err := loyalty.NewAccountID(accountIDValue)
	if err != nil {
		return loyalty.Account{}, err
	}
	tenantID, err := loyalty.NewTenantID(tenantIDValue)
	if err != nil {
		return loyalty.Account{}, err
	}
	code, err := loyalty.NewExternalCode(codeValue)
	if err != nil {
		return loyalty.Account{}, err
	}
	var email loyalty.ContactEmail
	if emailValue != "" {
		email, err = loyalty.NewContactEmail(emailValue)
		if err != nil {
			return loyalty.Account{}, err
		}
	}
	displayName, err := loyalty.NewDisplayName(displayNameValue)
	if err != nil {
		return loyalty.Account{}, err
	}
	lifetimeSpend, err := loyalty.MoneyFromMinorUnits(spendCentsValue)
	if err != nil {
		return loyalty.Account{}, err
	}
	return loyalty.Account{
		AccountID:     accountID,
		TenantID:      tenantID,
		ExternalCode:  code,
		ContactEmail:  email,
		DisplayName:   displayName,
		Balance:       loyalty.Points(balanceValue),
		LifetimeSpend: lifetimeSpend,
		Tier:          loyalty.TierName(tierValue),
		CreatedAt:     createdAtValue.UTC(),
	}, nil
}

func scanEntry(row pgx.Row) (loyalty.LedgerEntry, error) {
	var (
		entryIDValue     int64
		accountIDValue   string
		tenantIDValue    string
		recordedByValue  string
		kindValue        string
		deltaValue       int64
		spendCentsValue  int64
		idempotencyValue string
		descriptionValue string
		metadataValue    string
		createdAtValue   time.Time
	)
	if err := row.Scan(
		&entryIDValue,
		&accountIDValue,
		&tenantIDValue,
		&recordedByValue,
		&kindValue,
		&deltaValue,
		&spendCentsValue,
		&idempotencyValue,
		&descriptionValue,
		&metadataValue,
		&createdAtValue,
	); err != nil {
		return loyalty.LedgerEntry{}, err
	}
	entryID, err := loyalty.NewEntryID(entryIDValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	accountID, err := loyalty.NewAccountID(accountIDValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	tenantID, err := loyalty.NewTenantID(tenantIDValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	recordedBy, err := loyalty.NewRecordedBy(recordedByValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	kind, err := loyalty.ParseEntryKind(kindValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	spend, err := loyalty.MoneyFromMinorUnits(spendCentsValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey(idempotencyValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	metadata, err := loyalty.NewMetadataJSON(metadataValue)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	input, err := loyalty.NewEntryInput(
		entryID,
		accountID,
		tenantID,
		recordedBy,
		kind,
		loyalty.Points(deltaValue),
		spend,
		idempotencyKey,
		descriptionValue,
		metadata,
		createdAtValue,
	)
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	return input.Entry(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}
