// Package storetest holds the behavior every loyalty.Store implementation must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Each call must yield an isolated dataset.
type Factory func(test *testing.T) loyalty.Store

var errRollback = errors.New("rollback requested")

// Run executes the conformance suite against stores built by factory.
func Run(test *testing.T, factory Factory) {
	test.Run("CreateAndGetAccount", func(test *testing.T) { testCreateAndGetAccount(test, factory(test)) })
	test.Run("DuplicateIdentifiers", func(test *testing.T) { testDuplicateIdentifiers(test, factory(test)) })
	test.Run("FindAccount", func(test *testing.T) { testFindAccount(test, factory(test)) })
	test.Run("InsertEntryIdempotency", func(test *testing.T) { testInsertEntryIdempotency(test, factory(test)) })
	test.Run("ApplyDeltaGuard", func(test *testing.T) { testApplyDeltaGuard(test, factory(test)) })
	test.Run("TierAndOverwrite", func(test *testing.T) { testTierAndOverwrite(test, factory(test)) })
	test.Run("ListEntriesPaging", func(test *testing.T) { testListEntriesPaging(test, factory(test)) })
	test.Run("TransactionRollback", func(test *testing.T) { testTransactionRollback(test, factory(test)) })
	test.Run("LoyaltyFlow", func(test *testing.T) { testLoyaltyFlow(test, factory(test)) })
	test.Run("ConcurrentAccruals", func(test *testing.T) { testConcurrentAccruals(test, factory(test)) })
}

func testCreateAndGetAccount(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	created, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", "ada@example.com"))
	require.NoError(test, err)

	loaded, err := store.GetAccount(ctx, created.TenantID, created.AccountID)
	require.NoError(test, err)
	require.Equal(test, "CARD-0001", loaded.ExternalCode.String())
	require.Equal(test, "ada@example.com", loaded.ContactEmail.String())
	require.Equal(test, loyalty.Points(0), loaded.Balance)
	require.True(test, loaded.LifetimeSpend.IsZero())
	require.Equal(test, loyalty.TierName(""), loaded.Tier)

	locked, err := store.LockAccount(ctx, created.TenantID, created.AccountID)
	require.NoError(test, err)
	require.Equal(test, created.AccountID, locked.AccountID)

	_, err = store.GetAccount(ctx, tenant(test, "tenant-b"), created.AccountID)
	require.ErrorIs(test, err, loyalty.ErrUnknownAccount)
	_, err = store.GetAccount(ctx, created.TenantID, accountID(test, "missing"))
	require.ErrorIs(test, err, loyalty.ErrUnknownAccount)
}

func testDuplicateIdentifiers(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	_, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", "ada@example.com"))
	require.NoError(test, err)

	_, err = store.CreateAccount(ctx, accountInput(test, "acct-2", "tenant-a", "CARD-0001", ""))
	require.ErrorIs(test, err, loyalty.ErrDuplicateIdentifier)
	_, err = store.CreateAccount(ctx, accountInput(test, "acct-3", "tenant-a", "CARD-0003", "ada@example.com"))
	require.ErrorIs(test, err, loyalty.ErrDuplicateIdentifier)

	_, err = store.CreateAccount(ctx, accountInput(test, "acct-4", "tenant-a", "CARD-0004", ""))
	require.NoError(test, err, "accounts without email must not collide")
	_, err = store.CreateAccount(ctx, accountInput(test, "acct-5", "tenant-a", "CARD-0005", ""))
	require.NoError(test, err, "accounts without email must not collide")
	_, err = store.CreateAccount(ctx, accountInput(test, "acct-6", "tenant-b", "CARD-0001", "ada@example.com"))
	require.NoError(test, err, "identifiers are unique per tenant")
}

func testFindAccount(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	created, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", "ada@example.com"))
	require.NoError(test, err)

	byCode, err := store.FindAccountByCode(ctx, created.TenantID, created.ExternalCode)
	require.NoError(test, err)
	require.Equal(test, created.AccountID, byCode.AccountID)

	byEmail, err := store.FindAccountByEmail(ctx, created.TenantID, created.ContactEmail)
	require.NoError(test, err)
	require.Equal(test, created.AccountID, byEmail.AccountID)

	otherCode, err := loyalty.NewExternalCode("CARD-9999")
	require.NoError(test, err)
	_, err = store.FindAccountByCode(ctx, created.TenantID, otherCode)
	require.ErrorIs(test, err, loyalty.ErrNotFound)
	_, err = store.FindAccountByCode(ctx, tenant(test, "tenant-b"), created.ExternalCode)
	require.ErrorIs(test, err, loyalty.ErrNotFound)
}

func testInsertEntryIdempotency(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	created, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", ""))
	require.NoError(test, err)

	first := entryInput(test, created, 101, "receipt-1", 20, "20.00")
	require.NoError(test, store.InsertEntry(ctx, first))
	duplicate := entryInput(test, created, 102, "receipt-1", 30, "30.00")
	require.ErrorIs(test, store.InsertEntry(ctx, duplicate), loyalty.ErrDuplicateIdempotencyKey)

	stored, err := store.GetEntryByIdempotencyKey(ctx, created.AccountID, idempotencyKey(test, "receipt-1"))
	require.NoError(test, err)
	require.Equal(test, int64(101), stored.EntryID.Int64())
	require.Equal(test, loyalty.Points(20), stored.PointDelta)
	require.True(test, stored.SpendAmount.Equal(money(test, "20.00")))
	require.Equal(test, loyalty.EntryAccrual, stored.Kind)
	require.Equal(test, "store:s1/operator:o1", stored.RecordedBy.String())
	require.JSONEq(test, `{"source":"storetest"}`, stored.Metadata.String())

	_, err = store.GetEntryByIdempotencyKey(ctx, created.AccountID, idempotencyKey(test, "missing"))
	require.ErrorIs(test, err, loyalty.ErrEntryNotFound)

	totals, err := store.SumEntries(ctx, created.AccountID)
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(20), totals.Balance)
	require.Equal(test, int64(1), totals.EntryCount)
}

func testApplyDeltaGuard(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	created, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", ""))
	require.NoError(test, err)

	updated, err := store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, PointDelta: 30, SpendAmount: money(test, "12.50")})
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(30), updated.Balance)
	require.True(test, updated.LifetimeSpend.Equal(money(test, "12.50")))

	_, err = store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, PointDelta: -50})
	require.ErrorIs(test, err, loyalty.ErrInsufficientBalance)

	drained, err := store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, PointDelta: -30})
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(0), drained.Balance)

	negative, err := store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, PointDelta: -5, AllowNegative: true})
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(-5), negative.Balance)

	recovering, err := store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, PointDelta: 3, SpendAmount: money(test, "3.00")})
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(-2), recovering.Balance)

	spendOnly, err := store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, SpendAmount: money(test, "0.50")})
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(-2), spendOnly.Balance)
	require.True(test, spendOnly.LifetimeSpend.Equal(money(test, "16.00")))

	_, err = store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, PointDelta: -1})
	require.ErrorIs(test, err, loyalty.ErrInsufficientBalance)

	_, err = store.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: accountID(test, "missing"), PointDelta: 1})
	require.ErrorIs(test, err, loyalty.ErrUnknownAccount)
}

func testTierAndOverwrite(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	created, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", ""))
	require.NoError(test, err)

	require.NoError(test, store.SetTier(ctx, created.AccountID, "Silver"))
	loaded, err := store.GetAccount(ctx, created.TenantID, created.AccountID)
	require.NoError(test, err)
	require.Equal(test, loyalty.TierName("Silver"), loaded.Tier)

	repaired, err := store.OverwriteTotals(ctx, created.AccountID, loyalty.LedgerTotals{Balance: 42, LifetimeSpend: money(test, "600.00")}, "Gold")
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(42), repaired.Balance)
	require.True(test, repaired.LifetimeSpend.Equal(money(test, "600")))
	require.Equal(test, loyalty.TierName("Gold"), repaired.Tier)

	require.ErrorIs(test, store.SetTier(ctx, accountID(test, "missing"), "Gold"), loyalty.ErrUnknownAccount)
}

func testListEntriesPaging(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	created, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", ""))
	require.NoError(test, err)
	for index := int64(1); index <= 5; index++ {
		require.NoError(test, store.InsertEntry(ctx, entryInput(test, created, index*10, fmt.Sprintf("r-%d", index), loyalty.Points(index), "1.00")))
	}

	page, err := store.ListEntries(ctx, created.AccountID, loyalty.EntryID{}, 3)
	require.NoError(test, err)
	require.Len(test, page, 3)
	require.Equal(test, []int64{50, 40, 30}, entryIDs(page))

	cursor, err := loyalty.NewEntryID(30)
	require.NoError(test, err)
	rest, err := store.ListEntries(ctx, created.AccountID, cursor, 3)
	require.NoError(test, err)
	require.Equal(test, []int64{20, 10}, entryIDs(rest))

	totals, err := store.SumEntries(ctx, created.AccountID)
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(15), totals.Balance)
	require.True(test, totals.LifetimeSpend.Equal(money(test, "5.00")))
	require.Equal(test, int64(5), totals.EntryCount)
}

func testTransactionRollback(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	created, err := store.CreateAccount(ctx, accountInput(test, "acct-1", "tenant-a", "CARD-0001", ""))
	require.NoError(test, err)

	err = store.WithTx(ctx, func(ctx context.Context, txStore loyalty.Store) error {
		if err := txStore.InsertEntry(ctx, entryInput(test, created, 7, "rolled-back", 10, "0")); err != nil {
			return err
		}
		if _, err := txStore.ApplyDelta(ctx, loyalty.AccountDelta{AccountID: created.AccountID, PointDelta: 10}); err != nil {
			return err
		}
		return errRollback
	})
	require.ErrorIs(test, err, errRollback)

	loaded, err := store.GetAccount(ctx, created.TenantID, created.AccountID)
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(0), loaded.Balance)
	_, err = store.GetEntryByIdempotencyKey(ctx, created.AccountID, idempotencyKey(test, "rolled-back"))
	require.ErrorIs(test, err, loyalty.ErrEntryNotFound)
}

func testLoyaltyFlow(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	services := newServices(test, store)

	account, err := services.directory.Enroll(ctx, services.session, loyalty.EnrollRequest{
		DisplayName: displayName(test, "Ada"),
		Identifier:  identifier(test, "ada@example.com"),
	})
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(50), account.Balance)
	require.Equal(test, loyalty.TierName("Bronze"), account.Tier)

	_, err = services.directory.Enroll(ctx, services.session, loyalty.EnrollRequest{
		DisplayName: displayName(test, "Ada again"),
		Identifier:  identifier(test, "ada@example.com"),
	})
	require.ErrorIs(test, err, loyalty.ErrDuplicateIdentifier)

	resolved, err := services.directory.Resolve(ctx, services.session, identifier(test, account.ExternalCode.String()))
	require.NoError(test, err)
	require.Equal(test, account.AccountID, resolved.AccountID)

	accrual, err := services.engine.Accrue(ctx, services.session, loyalty.AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    money(test, "90.00"),
		IdempotencyKey: idempotencyKey(test, "receipt-90"),
	})
	require.NoError(test, err)
	require.False(test, accrual.TierChanged)

	accrual, err = services.engine.Accrue(ctx, services.session, loyalty.AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    money(test, "20.00"),
		IdempotencyKey: idempotencyKey(test, "receipt-20"),
	})
	require.NoError(test, err)
	require.True(test, accrual.TierChanged)
	require.Equal(test, loyalty.TierName("Silver"), accrual.NewTier)
	require.Equal(test, loyalty.Points(160), accrual.NewBalance)

	replay, err := services.engine.Accrue(ctx, services.session, loyalty.AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    money(test, "20.00"),
		IdempotencyKey: idempotencyKey(test, "receipt-20"),
	})
	require.NoError(test, err)
	require.True(test, replay.Replayed)
	require.Equal(test, accrual.Entry.EntryID, replay.Entry.EntryID)
	require.Equal(test, loyalty.Points(160), replay.NewBalance)

	_, err = services.engine.Redeem(ctx, services.session, loyalty.RedeemRequest{
		AccountID:      account.AccountID,
		Points:         positivePoints(test, 500),
		IdempotencyKey: idempotencyKey(test, "redeem-500"),
	})
	require.ErrorIs(test, err, loyalty.ErrInsufficientBalance)

	redemption, err := services.engine.Redeem(ctx, services.session, loyalty.RedeemRequest{
		AccountID:      account.AccountID,
		Points:         positivePoints(test, 60),
		IdempotencyKey: idempotencyKey(test, "redeem-60"),
	})
	require.NoError(test, err)
	require.Equal(test, loyalty.Points(100), redemption.NewBalance)

	page, err := services.ledger.History(ctx, services.session, account.AccountID, loyalty.HistoryQuery{})
	require.NoError(test, err)
	require.Len(test, page.Entries, 4)
	require.Equal(test, loyalty.EntryRedemption, page.Entries[0].Kind)
	require.Equal(test, loyalty.EntryWelcome, page.Entries[3].Kind)

	reconciliation, err := services.ledger.Reconcile(ctx, services.session, account.AccountID)
	require.NoError(test, err)
	require.True(test, reconciliation.Consistent(), "%+v", reconciliation)
	require.Equal(test, int64(4), reconciliation.EntryCount)
}

func testConcurrentAccruals(test *testing.T, store loyalty.Store) {
	ctx := context.Background()
	services := newServices(test, store)
	account, err := services.directory.Enroll(ctx, services.session, loyalty.EnrollRequest{
		DisplayName: displayName(test, "Grace"),
		Identifier:  identifier(test, "CARD-7777"),
	})
	require.NoError(test, err)

	const workers = 8
	keys := make([]loyalty.IdempotencyKey, workers)
	for index := range keys {
		// Every second worker reuses the previous key to exercise concurrent replays.
		keys[index] = idempotencyKey(test, fmt.Sprintf("receipt-%d", index/2))
	}
	spend := money(test, "10.00")
	var waitGroup sync.WaitGroup
	errs := make([]error, workers)
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			_, errs[index] = services.engine.Accrue(ctx, services.session, loyalty.AccrueRequest{
				AccountID:      account.AccountID,
				SpendAmount:    spend,
				IdempotencyKey: keys[index],
			})
		}(index)
	}
	waitGroup.Wait()
	for _, err := range errs {
		require.NoError(test, err)
	}

	reconciliation, err := services.ledger.Reconcile(ctx, services.session, account.AccountID)
	require.NoError(test, err)
	require.True(test, reconciliation.Consistent(), "%+v", reconciliation)
	require.Equal(test, loyalty.Points(50+workers/2*10), reconciliation.CachedBalance)
	require.Equal(test, int64(1+workers/2), reconciliation.EntryCount)
}

type services struct {
	ledger    *loyalty.Ledger
	directory *loyalty.Directory
	engine    *loyalty.Engine
	session   loyalty.Session
}

func newServices(test *testing.T, store loyalty.Store) services {
	test.Helper()
	tiers, err := loyalty.NewTierTable([]loyalty.TierThreshold{
		{MinLifetimeSpend: money(test, "0"), Name: "Bronze"},
		{MinLifetimeSpend: money(test, "100"), Name: "Silver"},
	})
	require.NoError(test, err)
	rate, err := loyalty.NewRate(decimal.NewFromInt(1))
	require.NoError(test, err)
	program, err := loyalty.NewProgram(rate, 50, tiers)
	require.NoError(test, err)

	ledger, err := loyalty.NewLedger(store, loyalty.NewStaticPrograms(&program, nil), &counterIDs{})
	require.NoError(test, err)
	directory, err := loyalty.NewDirectory(ledger)
	require.NoError(test, err)
	engine, err := loyalty.NewEngine(ledger)
	require.NoError(test, err)
	recordedBy, err := loyalty.NewRecordedBy("store:s1/operator:o1")
	require.NoError(test, err)
	session, err := loyalty.NewSession(tenant(test, "tenant-a"), recordedBy)
	require.NoError(test, err)
	return services{ledger: ledger, directory: directory, engine: engine, session: session}
}

type counterIDs struct {
	accounts atomic.Int64
	entries  atomic.Int64
}

func (ids *counterIDs) NewAccountID() (loyalty.AccountID, error) {
	return loyalty.NewAccountID(fmt.Sprintf("acct-%d", ids.accounts.Add(1)))
}

func (ids *counterIDs) NewEntryID() (loyalty.EntryID, error) {
	return loyalty.NewEntryID(ids.entries.Add(1))
}

func accountInput(test *testing.T, rawAccountID string, rawTenant string, rawCode string, rawEmail string) loyalty.AccountInput {
	test.Helper()
	code, err := loyalty.NewExternalCode(rawCode)
	require.NoError(test, err)
	var email loyalty.ContactEmail
	if rawEmail != "" {
		email, err = loyalty.NewContactEmail(rawEmail)
		require.NoError(test, err)
	}
	input, err := loyalty.NewAccountInput(accountID(test, rawAccountID), tenant(test, rawTenant), code, email, displayName(test, "Customer"), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(test, err)
	return input
}

func entryInput(test *testing.T, account loyalty.Account, rawEntryID int64, rawKey string, delta loyalty.Points, spend string) loyalty.EntryInput {
	test.Helper()
	entryID, err := loyalty.NewEntryID(rawEntryID)
	require.NoError(test, err)
	recordedBy, err := loyalty.NewRecordedBy("store:s1/operator:o1")
	require.NoError(test, err)
	metadata, err := loyalty.NewMetadataJSON(`{"source":"storetest"}`)
	require.NoError(test, err)
	input, err := loyalty.NewEntryInput(
		entryID,
		account.AccountID,
		account.TenantID,
		recordedBy,
		loyalty.EntryAccrual,
		delta,
		money(test, spend),
		idempotencyKey(test, rawKey),
		"conformance",
		metadata,
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	)
	require.NoError(test, err)
	return input
}

func entryIDs(entries []loyalty.LedgerEntry) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.EntryID.Int64())
	}
	return ids
}

func tenant(test *testing.T, raw string) loyalty.TenantID {
	test.Helper()
	tenantID, err := loyalty.NewTenantID(raw)
	require.NoError(test, err)
	return tenantID
}

func accountID(test *testing.T, raw string) loyalty.AccountID {
	test.Helper()
	parsed, err := loyalty.NewAccountID(raw)
	require.NoError(test, err)
	return parsed
}

func money(test *testing.T, raw string) loyalty.Money {
	test.Helper()
	parsed, err := loyalty.ParseMoney(raw)
	require.NoError(test, err)
	return parsed
}

func idempotencyKey(test *testing.T, raw string) loyalty.IdempotencyKey {
	test.Helper()
	key, err := loyalty.NewIdempotencyKey(raw)
	require.NoError(test, err)
	return key
}

func identifier(test *testing.T, raw string) loyalty.Identifier {
	test.Helper()
	parsed, err := loyalty.ParseIdentifier(raw)
	require.NoError(test, err)
	return parsed
}

func displayName(test *testing.T, raw string) loyalty.DisplayName {
	test.Helper()
	name, err := loyalty.NewDisplayName(raw)
	require.NoError(test, err)
	return name
}

func positivePoints(test *testing.T, raw int64) loyalty.PositivePoints {
	test.Helper()
	points, err := loyalty.NewPositivePoints(raw)
	require.NoError(test, err)
	return points
}
