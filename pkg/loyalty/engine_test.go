package loyalty

import (
	"context"
	"errors"
	"testing"
)

func TestAccrueFloorsFractionalPoints(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0001")

	result, err := fixture.engine.Accrue(context.Background(), fixture.session, AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    mustMoney(test, "9.99"),
		Rate:           mustRate(test, "0.5"),
		IdempotencyKey: mustIdempotencyKey(test, "receipt-1"),
	})
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if result.PointsAwarded != 4 {
		test.Fatalf("expected 4 points, got %d", result.PointsAwarded)
	}
	if result.NewBalance != 104 {
		test.Fatalf("expected balance 104, got %d", result.NewBalance)
	}
	if !result.NewLifetimeSpend.Equal(mustMoney(test, "9.99")) {
		test.Fatalf("expected lifetime spend 9.99, got %s", result.NewLifetimeSpend)
	}
}

func TestAccrueUsesProgramRateWhenUnset(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0002")

	result := fixture.mustAccrue(test, account.AccountID, "20.00", "receipt-20")
	if result.PointsAwarded != 20 || result.NewBalance != 120 {
		test.Fatalf("expected 20 points and balance 120, got %+v", result)
	}
	if result.Entry.Kind != EntryAccrual {
		test.Fatalf("expected accrual entry, got %s", result.Entry.Kind)
	}
	if result.Entry.Metadata.String() != `{"rate":"1","spend_amount":"20.00"}` {
		test.Fatalf("unexpected accrual metadata %s", result.Entry.Metadata)
	}
}

func TestAccrueCrossingThresholdChangesTier(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0003")

	first := fixture.mustAccrue(test, account.AccountID, "90.00", "receipt-90")
	if first.TierChanged || first.NewTier != "Bronze" {
		test.Fatalf("expected to stay Bronze, got %+v", first)
	}
	second := fixture.mustAccrue(test, account.AccountID, "20.00", "receipt-110")
	if !second.TierChanged {
		test.Fatalf("expected tier change")
	}
	if second.PreviousTier != "Bronze" || second.NewTier != "Silver" {
		test.Fatalf("expected Bronze -> Silver, got %s -> %s", second.PreviousTier, second.NewTier)
	}
	if !second.NewLifetimeSpend.Equal(mustMoney(test, "110")) {
		test.Fatalf("expected lifetime spend 110, got %s", second.NewLifetimeSpend)
	}
}

func TestAccrueRejectsZeroSpend(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0004")

	_, err := fixture.engine.Accrue(context.Background(), fixture.session, AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    mustMoney(test, "0"),
		IdempotencyKey: mustIdempotencyKey(test, "zero"),
	})
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAccrueBelowOnePointStillTracksSpend(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0005")

	result, err := fixture.engine.Accrue(context.Background(), fixture.session, AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    mustMoney(test, "0.99"),
		Rate:           mustRate(test, "1"),
		IdempotencyKey: mustIdempotencyKey(test, "tiny"),
	})
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if result.PointsAwarded != 0 || result.NewBalance != 100 {
		test.Fatalf("expected no points, got %+v", result)
	}
	if !result.NewLifetimeSpend.Equal(mustMoney(test, "0.99")) {
		test.Fatalf("expected spend to be tracked, got %s", result.NewLifetimeSpend)
	}
}

func TestAccrueReplayReturnsOriginalEntry(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0006")

	first := fixture.mustAccrue(test, account.AccountID, "20.00", "receipt-dup")
	second := fixture.mustAccrue(test, account.AccountID, "20.00", "receipt-dup")
	if !second.Replayed {
		test.Fatalf("expected replay")
	}
	if second.Entry.EntryID != first.Entry.EntryID {
		test.Fatalf("expected original entry %s, got %s", first.Entry.EntryID, second.Entry.EntryID)
	}
	if second.NewBalance != 120 {
		test.Fatalf("expected balance 120 after replay, got %d", second.NewBalance)
	}
	if fixture.store.entryCount() != 2 {
		test.Fatalf("expected welcome and one accrual, got %d entries", fixture.store.entryCount())
	}
}

func TestAccrueKeyReuseWithDifferentSpendFails(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0007")
	fixture.mustAccrue(test, account.AccountID, "20.00", "receipt-reuse")

	_, err := fixture.engine.Accrue(context.Background(), fixture.session, AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    mustMoney(test, "30.00"),
		IdempotencyKey: mustIdempotencyKey(test, "receipt-reuse"),
	})
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	balance, err := fixture.ledger.BalanceOf(context.Background(), fixture.session, account.AccountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 120 {
		test.Fatalf("expected balance unchanged at 120, got %d", balance)
	}
}

func TestRedeemInsufficientBalanceLeavesStateUnchanged(test *testing.T) {
	test.Parallel()
	program := bronzeSilverGold(test)
	program.WelcomeGrant = 30
	fixture := newLoyaltyFixture(test, program)
	account := fixture.mustEnroll(test, "CARD-0008")

	_, err := fixture.engine.Redeem(context.Background(), fixture.session, RedeemRequest{
		AccountID:      account.AccountID,
		Points:         mustPositivePoints(test, 50),
		IdempotencyKey: mustIdempotencyKey(test, "redeem-50"),
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	balance, err := fixture.ledger.BalanceOf(context.Background(), fixture.session, account.AccountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 30 {
		test.Fatalf("expected balance 30, got %d", balance)
	}
	if fixture.store.entryCount() != 1 {
		test.Fatalf("expected only the welcome entry, got %d", fixture.store.entryCount())
	}
}

func TestRedeemExactBalanceReachesZero(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0009")

	result, err := fixture.engine.Redeem(context.Background(), fixture.session, RedeemRequest{
		AccountID:      account.AccountID,
		Points:         mustPositivePoints(test, 100),
		IdempotencyKey: mustIdempotencyKey(test, "redeem-all"),
		Description:    "free coffee",
	})
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if result.NewBalance != 0 {
		test.Fatalf("expected zero balance, got %d", result.NewBalance)
	}
	if result.Entry.Kind != EntryRedemption || result.Entry.PointDelta != -100 {
		test.Fatalf("unexpected redemption entry %+v", result.Entry)
	}
}

func TestRedeemRejectsZeroPoints(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0010")

	_, err := fixture.engine.Redeem(context.Background(), fixture.session, RedeemRequest{
		AccountID:      account.AccountID,
		IdempotencyKey: mustIdempotencyKey(test, "redeem-zero"),
	})
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRedeemDoesNotLowerTier(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0011")
	fixture.mustAccrue(test, account.AccountID, "150.00", "receipt-150")

	if _, err := fixture.engine.Redeem(context.Background(), fixture.session, RedeemRequest{
		AccountID:      account.AccountID,
		Points:         mustPositivePoints(test, 250),
		IdempotencyKey: mustIdempotencyKey(test, "redeem-250"),
	}); err != nil {
		test.Fatalf("redeem: %v", err)
	}
	loaded, err := fixture.directory.Get(context.Background(), fixture.session, account.AccountID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Tier != "Silver" || loaded.Balance != 0 {
		test.Fatalf("expected Silver with zero balance, got %s/%d", loaded.Tier, loaded.Balance)
	}
}

func TestAdjustMayDriveBalanceNegative(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0012")

	result, err := fixture.engine.Adjust(context.Background(), fixture.session, AdjustRequest{
		AccountID:      account.AccountID,
		PointDelta:     -150,
		IdempotencyKey: mustIdempotencyKey(test, "chargeback-1"),
		Reason:         mustReason(test, "chargeback"),
	})
	if err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if result.NewBalance != -50 {
		test.Fatalf("expected -50, got %d", result.NewBalance)
	}
	if result.Entry.Kind != EntryAdjustment || result.Entry.Description != "chargeback" {
		test.Fatalf("unexpected adjustment entry %+v", result.Entry)
	}
}

func TestAccrueAfterChargebackEarnsBackFromNegativeBalance(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0026")

	_, err := fixture.engine.Adjust(context.Background(), fixture.session, AdjustRequest{
		AccountID:      account.AccountID,
		PointDelta:     -250,
		IdempotencyKey: mustIdempotencyKey(test, "chargeback-2"),
		Reason:         mustReason(test, "chargeback"),
	})
	if err != nil {
		test.Fatalf("adjust: %v", err)
	}

	accrual := fixture.mustAccrue(test, account.AccountID, "20.00", "sale-after-chargeback")
	if accrual.NewBalance != -130 {
		test.Fatalf("expected -130, got %d", accrual.NewBalance)
	}
	spendOnly := fixture.mustAccrue(test, account.AccountID, "0.50", "sale-small")
	if spendOnly.NewBalance != -130 || !spendOnly.NewLifetimeSpend.Equal(mustMoney(test, "20.50")) {
		test.Fatalf("expected -130 and 20.50 spend, got %d and %s", spendOnly.NewBalance, spendOnly.NewLifetimeSpend)
	}

	_, err = fixture.engine.Redeem(context.Background(), fixture.session, RedeemRequest{
		AccountID:      account.AccountID,
		Points:         mustPositivePoints(test, 1),
		IdempotencyKey: mustIdempotencyKey(test, "redeem-while-negative"),
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance while negative, got %v", err)
	}
	reconciliation, err := fixture.ledger.Reconcile(context.Background(), fixture.session, account.AccountID)
	if err != nil || !reconciliation.Consistent() {
		test.Fatalf("expected consistent ledger, got %+v (%v)", reconciliation, err)
	}
}

func TestAccrueRejectsAmountsBeyondStoredRange(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0027")

	_, err := fixture.engine.Accrue(context.Background(), fixture.session, AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    mustMoney(test, "92233720368547758.07"),
		Rate:           mustRate(test, "101"),
		IdempotencyKey: mustIdempotencyKey(test, "sale-huge-rate"),
	})
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for point overflow, got %v", err)
	}

	fixture.mustAccrue(test, account.AccountID, "92233720368547758.07", "sale-max")
	_, err = fixture.engine.Accrue(context.Background(), fixture.session, AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    mustMoney(test, "0.01"),
		IdempotencyKey: mustIdempotencyKey(test, "sale-past-max"),
	})
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for lifetime spend overflow, got %v", err)
	}
	if fixture.store.entryCount() != 2 {
		test.Fatalf("expected welcome and one accrual entry, got %d", fixture.store.entryCount())
	}
}

func TestAdjustValidatesInput(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0013")

	testCases := []struct {
		name     string
		request  AdjustRequest
		expected error
	}{
		{
			name:     "zero delta",
			request:  AdjustRequest{AccountID: account.AccountID, IdempotencyKey: mustIdempotencyKey(test, "adj-0"), Reason: mustReason(test, "noop")},
			expected: ErrInvalidAmount,
		},
		{
			name:     "missing reason",
			request:  AdjustRequest{AccountID: account.AccountID, PointDelta: 5, IdempotencyKey: mustIdempotencyKey(test, "adj-1")},
			expected: ErrInvalidReason,
		},
		{
			name:     "missing key",
			request:  AdjustRequest{AccountID: account.AccountID, PointDelta: 5, Reason: mustReason(test, "goodwill")},
			expected: ErrInvalidIdempotencyKey,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			_, err := fixture.engine.Adjust(context.Background(), fixture.session, testCase.request)
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestEngineRejectsForeignTenantAccount(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0014")
	foreign := mustSession(test, "tenant-b", testRecordedBy)

	_, err := fixture.engine.Accrue(context.Background(), foreign, AccrueRequest{
		AccountID:      account.AccountID,
		SpendAmount:    mustMoney(test, "10"),
		IdempotencyKey: mustIdempotencyKey(test, "foreign"),
	})
	if !errors.Is(err, ErrUnknownAccount) {
		test.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestEngineRejectsUnverifiedSession(test *testing.T) {
	test.Parallel()
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test))
	account := fixture.mustEnroll(test, "CARD-0015")

	_, err := fixture.engine.Redeem(context.Background(), Session{}, RedeemRequest{
		AccountID:      account.AccountID,
		Points:         mustPositivePoints(test, 1),
		IdempotencyKey: mustIdempotencyKey(test, "anon"),
	})
	if !errors.Is(err, ErrInvalidSession) {
		test.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestEngineLogsReplayedStatus(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	fixture := newLoyaltyFixture(test, bronzeSilverGold(test), WithOperationLogger(logger))
	account := fixture.mustEnroll(test, "CARD-0016")
	fixture.mustAccrue(test, account.AccountID, "5.00", "receipt-log")
	fixture.mustAccrue(test, account.AccountID, "5.00", "receipt-log")

	operations := logger.operations()
	if len(operations) != 3 {
		test.Fatalf("expected enroll and two accrue logs, got %d", len(operations))
	}
	if operations[0].Operation != operationEnroll || operations[0].Status != operationStatusOK {
		test.Fatalf("unexpected enroll log %+v", operations[0])
	}
	if operations[1].Operation != operationAccrue || operations[1].Status != operationStatusOK || operations[1].PointDelta != 5 {
		test.Fatalf("unexpected accrue log %+v", operations[1])
	}
	if operations[2].Status != operationStatusReplayed {
		test.Fatalf("expected replayed status, got %+v", operations[2])
	}
}
