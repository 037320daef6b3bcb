package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestEnrollGrantsWelcomePoints(test *testing.T) {
	test.Parallel()
	program := bronzeSilverGold(test)
	program.WelcomeGrant = 50
	fixture := newLoyaltyFixture(test, program)

	account := fixture.mustEnroll(test, "CARD-2000")
	if account.Balance != 50 {
		test.Fatalf("expected balance 50, got %d", account.Balance)
	}
	if account.Tier != "Bronze" {
		test.Fatalf("expected Bronze, got %s", account.Tier)
	}
	history := fixture.fullHistory(test, account.AccountID)
	if len(history) != 1 || history[0].Kind != EntryWelcome || history[0].PointDelta != 50 {
		test.Fatalf("expected single welcome entry, got %+v", history)
	}
	if history[0].IdempotencyKey.String() != "welcome:"+account.AccountID.String() {
		test.Fatalf("unexpected welcome key %s", history[0].IdempotencyKey)
	}
	if history[0].RecordedBy.String() != testRecordedBy {
		test.Fatalf("expected provenance %s, got %s", testRecordedBy, history[0].RecordedBy)
	}
}

func TestEnrollWithoutWelcomeGrant(test *testing.T) {
	test.Parallel()
	program := bronzeSilverGold(test)
	program.WelcomeGrant = 0
	fixture := newLoyaltyFixture(test, program)

	account := fixture.mustEnroll(test, "CARD-2001")
	if account.Balance != 0 || fixture.store.entryCount() != 0 {
		test.Fatalf("expected no welcome entry, got balance %d and %d entries", account.Balance, fixture.store.entryCount())
	}
	if account.Tier != "Bronze" {
		test.Fatalf("expected Bronze at zero spend, got %s", account.Tier)
	}
}

func TestEnrollByEmailGeneratesCode(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test), WithCodeGenerator(fixedCodes{code: "ABCD-EFGH-JKMN"}))

	account := fixture.mustEnroll(test, "Ada@Example.com")
	if account.ExternalCode.String() != "ABCD-EFGH-JKMN" {
		test.Fatalf("expected generated code, got %s", account.ExternalCode)
	}
	if account.ContactEmail.String() != "ada@example.com" {
		test.Fatalf("expected normalized email, got %s", account.ContactEmail)
	}
	resolved, err := fixture.directory.Resolve(context.Background(), fixture.session, mustIdentifier(test, "ada@example.com"))
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if resolved.AccountID != account.AccountID {
		test.Fatalf("expected %s, got %s", account.AccountID, resolved.AccountID)
	}
}

func TestEnrollDuplicateCode(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	fixture.mustEnroll(test, "CARD-2002")

	_, err := fixture.directory.Enroll(context.Background(), fixture.session, EnrollRequest{
		DisplayName: mustDisplayName(test, "Grace Hopper"),
		Identifier:  mustIdentifier(test, "CARD-2002"),
	})
	if !errors.Is(err, ErrDuplicateIdentifier) {
		test.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
}

func TestEnrollRetriesWhenGeneratedCodeIsTaken(test *testing.T) {
	test.Parallel()
	codes := &queuedCodes{codes: []string{"CARD-3000", "ABCD-EFGH-JKMN"}}
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test), WithCodeGenerator(codes))
	fixture.mustEnroll(test, "CARD-3000")

	account := fixture.mustEnroll(test, "grace@example.com")
	if account.ExternalCode.String() != "ABCD-EFGH-JKMN" {
		test.Fatalf("expected regenerated code, got %s", account.ExternalCode)
	}
	if account.Balance != 100 || fixture.store.entryCount() != 2 {
		test.Fatalf("expected one welcome grant per account, got balance %d and %d entries", account.Balance, fixture.store.entryCount())
	}
	resolved, err := fixture.directory.Resolve(context.Background(), fixture.session, mustIdentifier(test, "grace@example.com"))
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if resolved.AccountID != account.AccountID {
		test.Fatalf("expected %s, got %s", account.AccountID, resolved.AccountID)
	}
}

func TestEnrollStopsAfterRepeatedCodeCollisions(test *testing.T) {
	test.Parallel()
	taken := make([]string, maxGeneratedCodeAttempts)
	for index := range taken {
		taken[index] = "CARD-3001"
	}
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test), WithCodeGenerator(&queuedCodes{codes: taken}))
	fixture.mustEnroll(test, "CARD-3001")

	_, err := fixture.directory.Enroll(context.Background(), fixture.session, EnrollRequest{
		DisplayName: mustDisplayName(test, "Grace Hopper"),
		Identifier:  mustIdentifier(test, "grace@example.com"),
	})
	if !errors.Is(err, ErrCodeUnavailable) || errors.Is(err, ErrDuplicateIdentifier) {
		test.Fatalf("expected ErrCodeUnavailable, got %v", err)
	}
	if _, err := fixture.directory.Resolve(context.Background(), fixture.session, mustIdentifier(test, "grace@example.com")); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected no account for the email, got %v", err)
	}
}

func TestEnrollSameCodeInAnotherTenant(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	fixture.mustEnroll(test, "CARD-2003")

	other := mustSession(test, "tenant-b", testRecordedBy)
	account, err := fixture.directory.Enroll(context.Background(), other, EnrollRequest{
		DisplayName: mustDisplayName(test, "Grace Hopper"),
		Identifier:  mustIdentifier(test, "CARD-2003"),
	})
	if err != nil {
		test.Fatalf("enroll: %v", err)
	}
	if account.TenantID.String() != "tenant-b" {
		test.Fatalf("expected tenant-b, got %s", account.TenantID)
	}
}

func TestConcurrentEnrollSameEmailCreatesOneAccount(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))

	const workers = 8
	request := EnrollRequest{
		DisplayName: mustDisplayName(test, "Racer"),
		Identifier:  mustIdentifier(test, "racer@example.com"),
	}
	var waitGroup sync.WaitGroup
	var mutex sync.Mutex
	successes := 0
	duplicates := 0
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			codes := fixedCodes{code: fmt.Sprintf("GEN-%04d", index)}
			directory, err := NewDirectory(fixture.ledger, WithCodeGenerator(codes))
			if err != nil {
				test.Errorf("directory: %v", err)
				return
			}
			_, err = directory.Enroll(context.Background(), fixture.session, request)
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicateIdentifier):
				duplicates++
			default:
				test.Errorf("unexpected enroll error: %v", err)
			}
		}(index)
	}
	waitGroup.Wait()
	if successes != 1 || duplicates != workers-1 {
		test.Fatalf("expected 1 success and %d duplicates, got %d/%d", workers-1, successes, duplicates)
	}
	if fixture.store.entryCount() != 1 {
		test.Fatalf("expected one welcome entry, got %d", fixture.store.entryCount())
	}
}

func TestResolveNotFound(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))

	_, err := fixture.directory.Resolve(context.Background(), fixture.session, mustIdentifier(test, "UNKNOWN-1"))
	if !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveIsTenantScoped(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-2004")

	resolved, err := fixture.directory.Resolve(context.Background(), fixture.session, mustIdentifier(test, "CARD-2004"))
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if resolved.AccountID != account.AccountID {
		test.Fatalf("expected %s, got %s", account.AccountID, resolved.AccountID)
	}
	other := mustSession(test, "tenant-b", testRecordedBy)
	if _, err := fixture.directory.Resolve(context.Background(), other, mustIdentifier(test, "CARD-2004")); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
	if _, err := fixture.directory.Get(context.Background(), other, account.AccountID); !errors.Is(err, ErrUnknownAccount) {
		test.Fatalf("expected ErrUnknownAccount across tenants, got %v", err)
	}
}

func TestEnrollUnknownProgram(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	ledger, err := NewLedger(store, NewStaticPrograms(nil, nil), &sequentialIDs{})
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	directory, err := NewDirectory(ledger)
	if err != nil {
		test.Fatalf("directory: %v", err)
	}
	_, err = directory.Enroll(context.Background(), mustSession(test, testTenant, testRecordedBy), EnrollRequest{
		DisplayName: mustDisplayName(test, "Nobody"),
		Identifier:  mustIdentifier(test, "CARD-2005"),
	})
	if !errors.Is(err, ErrUnknownProgram) {
		test.Fatalf("expected ErrUnknownProgram, got %v", err)
	}
}
