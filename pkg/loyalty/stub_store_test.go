package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	testTenant     = "tenant-a"
	testRecordedBy = "store:downtown/operator:alice"
)

// stubStore keeps accounts and entries in memory. WithTx serializes callers on a
// mutex and works on a copy of the state that is committed only on success.
type stubStore struct {
	root *stubRoot
	// state is only set on transaction-scoped copies.
	state *stubState
	inTx  bool
}

type stubRoot struct {
	mu    sync.Mutex
	state *stubState
	// failures maps a method name to the error it returns.
	failures map[string]error
}

type stubState struct {
	accounts map[AccountID]Account
	entries  []LedgerEntry
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	root := &stubRoot{
		state:    &stubState{accounts: map[AccountID]Account{}},
		failures: map[string]error{},
	}
	return &stubStore{root: root}
}

func (state *stubState) clone() *stubState {
	accounts := make(map[AccountID]Account, len(state.accounts))
	for id, account := range state.accounts {
		accounts[id] = account
	}
	return &stubState{accounts: accounts, entries: append([]LedgerEntry(nil), state.entries...)}
}

func (store *stubStore) failWith(method string, err error) {
	store.root.mu.Lock()
	defer store.root.mu.Unlock()
	store.root.failures[method] = err
}

func (store *stubStore) with(method string, fn func(state *stubState) error) error {
	state := store.state
	if !store.inTx {
		store.root.mu.Lock()
		defer store.root.mu.Unlock()
		state = store.root.state
	}
	if err := store.root.failures[method]; err != nil {
		return err
	}
	return fn(state)
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.root.mu.Lock()
	defer store.root.mu.Unlock()
	working := store.root.state.clone()
	if err := fn(ctx, &stubStore{root: store.root, state: working, inTx: true}); err != nil {
		return err
	}
	store.root.state = working
	return nil
}

func (store *stubStore) CreateAccount(_ context.Context, input AccountInput) (Account, error) {
	account := input.Account()
	err := store.with("CreateAccount", func(state *stubState) error {
		for _, existing := range state.accounts {
			if existing.TenantID != account.TenantID {
				continue
			}
			if existing.ExternalCode == account.ExternalCode {
				return ErrDuplicateIdentifier
			}
			if !account.ContactEmail.IsZero() && existing.ContactEmail == account.ContactEmail {
				return ErrDuplicateIdentifier
			}
		}
		state.accounts[account.AccountID] = account
		return nil
	})
	return account, err
}

func (store *stubStore) GetAccount(_ context.Context, tenantID TenantID, accountID AccountID) (Account, error) {
	var account Account
	err := store.with("GetAccount", func(state *stubState) error {
		found, ok := state.accounts[accountID]
		if !ok || found.TenantID != tenantID {
			return ErrUnknownAccount
		}
		account = found
		return nil
	})
	return account, err
}

func (store *stubStore) LockAccount(ctx context.Context, tenantID TenantID, accountID AccountID) (Account, error) {
	return store.GetAccount(ctx, tenantID, accountID)
}

func (store *stubStore) FindAccountByCode(_ context.Context, tenantID TenantID, code ExternalCode) (Account, error) {
	return store.findAccount(func(account Account) bool {
		return account.TenantID == tenantID && account.ExternalCode == code
	})
}

func (store *stubStore) FindAccountByEmail(_ context.Context, tenantID TenantID, email ContactEmail) (Account, error) {
	return store.findAccount(func(account Account) bool {
		return account.TenantID == tenantID && account.ContactEmail == email
	})
}

func (store *stubStore) findAccount(match func(Account) bool) (Account, error) {
	var account Account
	err := store.with("FindAccount", func(state *stubState) error {
		for _, candidate := range state.accounts {
			if match(candidate) {
				account = candidate
				return nil
			}
		}
		return ErrNotFound
	})
	return account, err
}

func (store *stubStore) InsertEntry(_ context.Context, input EntryInput) error {
	entry := input.Entry()
	return store.with("InsertEntry", func(state *stubState) error {
		for _, existing := range state.entries {
			if existing.AccountID == entry.AccountID && existing.IdempotencyKey == entry.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
		state.entries = append(state.entries, entry)
		return nil
	})
}

func (store *stubStore) GetEntryByIdempotencyKey(_ context.Context, accountID AccountID, key IdempotencyKey) (LedgerEntry, error) {
	var entry LedgerEntry
	err := store.with("GetEntryByIdempotencyKey", func(state *stubState) error {
		for _, existing := range state.entries {
			if existing.AccountID == accountID && existing.IdempotencyKey == key {
				entry = existing
				return nil
			}
		}
		return ErrEntryNotFound
	})
	return entry, err
}

func (store *stubStore) ApplyDelta(_ context.Context, delta AccountDelta) (Account, error) {
	var account Account
	err := store.with("ApplyDelta", func(state *stubState) error {
		found, ok := state.accounts[delta.AccountID]
		if !ok {
			return ErrUnknownAccount
		}
		if !delta.AllowNegative && delta.PointDelta < 0 && found.Balance+delta.PointDelta < 0 {
			return ErrInsufficientBalance
		}
		spend, err := found.LifetimeSpend.Add(delta.SpendAmount)
		if err != nil {
			return err
		}
		found.Balance += delta.PointDelta
		found.LifetimeSpend = spend
		state.accounts[delta.AccountID] = found
		account = found
		return nil
	})
	return account, err
}

func (store *stubStore) SetTier(_ context.Context, accountID AccountID, tier TierName) error {
	return store.with("SetTier", func(state *stubState) error {
		found, ok := state.accounts[accountID]
		if !ok {
			return ErrUnknownAccount
		}
		found.Tier = tier
		state.accounts[accountID] = found
		return nil
	})
}

func (store *stubStore) OverwriteTotals(_ context.Context, accountID AccountID, totals LedgerTotals, tier TierName) (Account, error) {
	var account Account
	err := store.with("OverwriteTotals", func(state *stubState) error {
		found, ok := state.accounts[accountID]
		if !ok {
			return ErrUnknownAccount
		}
		found.Balance = totals.Balance
		found.LifetimeSpend = totals.LifetimeSpend
		found.Tier = tier
		state.accounts[accountID] = found
		account = found
		return nil
	})
	return account, err
}

func (store *stubStore) SumEntries(_ context.Context, accountID AccountID) (LedgerTotals, error) {
	var totals LedgerTotals
	err := store.with("SumEntries", func(state *stubState) error {
		for _, entry := range state.entries {
			if entry.AccountID != accountID {
				continue
			}
			spend, err := totals.LifetimeSpend.Add(entry.SpendAmount)
			if err != nil {
				return err
			}
			totals.Balance += entry.PointDelta
			totals.LifetimeSpend = spend
			totals.EntryCount++
		}
		return nil
	})
	return totals, err
}

func (store *stubStore) ListEntries(_ context.Context, accountID AccountID, before EntryID, limit int) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := store.with("ListEntries", func(state *stubState) error {
		for _, entry := range state.entries {
			if entry.AccountID != accountID {
				continue
			}
			if !before.IsZero() && entry.EntryID.Int64() >= before.Int64() {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	sort.Slice(entries, func(left, right int) bool {
		return entries[left].EntryID.Int64() > entries[right].EntryID.Int64()
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, err
}

// corrupt overwrites cached totals without touching entries.
func (store *stubStore) corrupt(test *testing.T, accountID AccountID, balance Points) {
	test.Helper()
	store.root.mu.Lock()
	defer store.root.mu.Unlock()
	account := store.root.state.accounts[accountID]
	account.Balance = balance
	store.root.state.accounts[accountID] = account
}

func (store *stubStore) entryCount() int {
	store.root.mu.Lock()
	defer store.root.mu.Unlock()
	return len(store.root.state.entries)
}

type sequentialIDs struct {
	mu       sync.Mutex
	accounts int
	entries  int64
}

func (ids *sequentialIDs) NewAccountID() (AccountID, error) {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	ids.accounts++
	return AccountID{value: fmt.Sprintf("acct-%d", ids.accounts)}, nil
}

func (ids *sequentialIDs) NewEntryID() (EntryID, error) {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	ids.entries++
	return EntryID{value: ids.entries}, nil
}

type queuedCodes struct {
	mu    sync.Mutex
	codes []string
}

func (queue *queuedCodes) NewExternalCode() (ExternalCode, error) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.codes) == 0 {
		return ExternalCode{}, errors.New("code queue drained")
	}
	next := queue.codes[0]
	queue.codes = queue.codes[1:]
	return NewExternalCode(next)
}

type fixedCodes struct {
	code string
}

func (codes fixedCodes) NewExternalCode() (ExternalCode, error) {
	return NewExternalCode(codes.code)
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) operations() []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

type loyaltyFixture struct {
	store     *stubStore
	ledger    *Ledger
	directory *Directory
	engine    *Engine
	session   Session
}

// bronzeSilverGold is 100 welcome points, 1 point per unit, Silver at 100 and Gold at 500.
func bronzeSilverGold(test *testing.T) Program {
	test.Helper()
	tiers, err := NewTierTable([]TierThreshold{
		{MinLifetimeSpend: mustMoney(test, "0"), Name: "Bronze"},
		{MinLifetimeSpend: mustMoney(test, "100"), Name: "Silver"},
		{MinLifetimeSpend: mustMoney(test, "500"), Name: "Gold"},
	})
	if err != nil {
		test.Fatalf("tier table: %v", err)
	}
	program, err := NewProgram(mustRate(test, "1"), 100, tiers)
	if err != nil {
		test.Fatalf("program: %v", err)
	}
	return program
}

func newLoyaltyFixture(test *testing.T, program Program, options ...Option) loyaltyFixture {
	test.Helper()
	store := newStubStore(test)
	programs := NewStaticPrograms(&program, nil)
	options = append([]Option{WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })}, options...)
	ledger, err := NewLedger(store, programs, &sequentialIDs{}, options...)
	if err != nil {
		test.Fatalf("ledger init failed: %v", err)
	}
	directory, err := NewDirectory(ledger, options...)
	if err != nil {
		test.Fatalf("directory init failed: %v", err)
	}
	engine, err := NewEngine(ledger, options...)
	if err != nil {
		test.Fatalf("engine init failed: %v", err)
	}
	return loyaltyFixture{
		store:     store,
		ledger:    ledger,
		directory: directory,
		engine:    engine,
		session:   mustSession(test, testTenant, testRecordedBy),
	}
}

func (fixture loyaltyFixture) mustEnroll(test *testing.T, identifier string) Account {
	test.Helper()
	account, err := fixture.directory.Enroll(context.Background(), fixture.session, EnrollRequest{
		DisplayName: mustDisplayName(test, "Ada Lovelace"),
		Identifier:  mustIdentifier(test, identifier),
	})
	if err != nil {
		test.Fatalf("enroll %s: %v", identifier, err)
	}
	return account
}

func (fixture loyaltyFixture) mustAccrue(test *testing.T, accountID AccountID, spend string, key string) AccrualResult {
	test.Helper()
	result, err := fixture.engine.Accrue(context.Background(), fixture.session, AccrueRequest{
		AccountID:      accountID,
		SpendAmount:    mustMoney(test, spend),
		IdempotencyKey: mustIdempotencyKey(test, key),
	})
	if err != nil {
		test.Fatalf("accrue %s: %v", spend, err)
	}
	return result
}

func (fixture loyaltyFixture) fullHistory(test *testing.T, accountID AccountID) []LedgerEntry {
	test.Helper()
	var entries []LedgerEntry
	query := HistoryQuery{Limit: 2}
	for {
		page, err := fixture.ledger.History(context.Background(), fixture.session, accountID, query)
		if err != nil {
			test.Fatalf("history: %v", err)
		}
		entries = append(entries, page.Entries...)
		if page.Next.IsZero() {
			return entries
		}
		query.Before = page.Next
	}
}

func mustSession(test *testing.T, tenant string, recordedBy string) Session {
	test.Helper()
	tenantID, err := NewTenantID(tenant)
	if err != nil {
		test.Fatalf("tenant id: %v", err)
	}
	provenance, err := NewRecordedBy(recordedBy)
	if err != nil {
		test.Fatalf("recorded by: %v", err)
	}
	session, err := NewSession(tenantID, provenance)
	if err != nil {
		test.Fatalf("session: %v", err)
	}
	return session
}

func mustMoney(test *testing.T, raw string) Money {
	test.Helper()
	money, err := ParseMoney(raw)
	if err != nil {
		test.Fatalf("money %q: %v", raw, err)
	}
	return money
}

func mustRate(test *testing.T, raw string) Rate {
	test.Helper()
	rate, err := NewRate(decimal.RequireFromString(raw))
	if err != nil {
		test.Fatalf("rate %q: %v", raw, err)
	}
	return rate
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key %q: %v", raw, err)
	}
	return key
}

func mustIdentifier(test *testing.T, raw string) Identifier {
	test.Helper()
	identifier, err := ParseIdentifier(raw)
	if err != nil {
		test.Fatalf("identifier %q: %v", raw, err)
	}
	return identifier
}

func mustDisplayName(test *testing.T, raw string) DisplayName {
	test.Helper()
	name, err := NewDisplayName(raw)
	if err != nil {
		test.Fatalf("display name %q: %v", raw, err)
	}
	return name
}

func mustPositivePoints(test *testing.T, raw int64) PositivePoints {
	test.Helper()
	points, err := NewPositivePoints(raw)
	if err != nil {
		test.Fatalf("points %d: %v", raw, err)
	}
	return points
}

func mustReason(test *testing.T, raw string) Reason {
	test.Helper()
	reason, err := NewReason(raw)
	if err != nil {
		test.Fatalf("reason %q: %v", raw, err)
	}
	return reason
}
