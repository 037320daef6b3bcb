package grpcserver

import (
	"context"
	"errors"

	loyaltyv1 "github.com/MarkoPoloResearchLab/loyalty/api/loyalty/v1"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorNotFound                = "not_found"
	errorUnknownAccount          = "unknown_account"
	errorUnknownProgram          = "unknown_program"
	errorDuplicateIdentifier     = "duplicate_identifier"
	errorDuplicateIdempotencyKey = "duplicate_idempotency_key"
	errorInsufficientBalance     = "insufficient_balance"
	errorInvalidAccountID        = "invalid_account_id"
	errorInvalidEntryID          = "invalid_entry_id"
	errorInvalidIdentifier       = "invalid_identifier"
	errorInvalidDisplayName      = "invalid_display_name"
	errorInvalidIdempotencyKey   = "invalid_idempotency_key"
	errorInvalidReason           = "invalid_reason"
	errorInvalidRate             = "invalid_rate"
	errorInvalidAmount           = "invalid_amount"
	errorInvalidHistoryLimit     = "invalid_history_limit"
	errorInvalidMetadata         = "invalid_metadata_json"
	errorInvalidSession          = "invalid_session"
	errorCodeUnavailable         = "code_unavailable"
	errorInternal                = "internal"
)

// LoyaltyServiceServer exposes the loyalty core over gRPC.
type LoyaltyServiceServer struct {
	loyaltyv1.UnimplementedLoyaltyServiceServer
	ledger    *loyalty.Ledger
	directory *loyalty.Directory
	engine    *loyalty.Engine
}

// NewLoyaltyServiceServer constructs a gRPC server for the loyalty services.
func NewLoyaltyServiceServer(ledger *loyalty.Ledger, directory *loyalty.Directory, engine *loyalty.Engine) *LoyaltyServiceServer {
	return &LoyaltyServiceServer{ledger: ledger, directory: directory, engine: engine}
}

func (service *LoyaltyServiceServer) Resolve(ctx context.Context, request *loyaltyv1.ResolveRequest) (*loyaltyv1.AccountResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	identifier, err := loyalty.ParseIdentifier(request.Identifier)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := service.directory.Resolve(ctx, session, identifier)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.AccountResponse{Account: toAccount(account)}, nil
}

func (service *LoyaltyServiceServer) Enroll(ctx context.Context, request *loyaltyv1.EnrollRequest) (*loyaltyv1.AccountResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	displayName, err := loyalty.NewDisplayName(request.DisplayName)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	identifier, err := loyalty.ParseIdentifier(request.Identifier)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := service.directory.Enroll(ctx, session, loyalty.EnrollRequest{DisplayName: displayName, Identifier: identifier})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.AccountResponse{Account: toAccount(account)}, nil
}

func (service *LoyaltyServiceServer) GetAccount(ctx context.Context, request *loyaltyv1.GetAccountRequest) (*loyaltyv1.AccountResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := loyalty.NewAccountID(request.AccountId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := service.directory.Get(ctx, session, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.AccountResponse{Account: toAccount(account)}, nil
}

func (service *LoyaltyServiceServer) Accrue(ctx context.Context, request *loyaltyv1.AccrueRequest) (*loyaltyv1.AccrueResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := loyalty.NewAccountID(request.AccountId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	spend, err := loyalty.ParseMoney(request.SpendAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	rate, err := loyalty.ParseRate(request.Rate)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idem, err := loyalty.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.engine.Accrue(ctx, session, loyalty.AccrueRequest{
		AccountID:      accountID,
		SpendAmount:    spend,
		Rate:           rate,
		IdempotencyKey: idem,
		Description:    request.Description,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.AccrueResponse{
		Entry:            toEntry(result.Entry),
		PointsAwarded:    result.PointsAwarded.Int64(),
		NewBalance:       result.NewBalance.Int64(),
		NewLifetimeSpend: result.NewLifetimeSpend.String(),
		NewTier:          result.NewTier.String(),
		PreviousTier:     result.PreviousTier.String(),
		TierChanged:      result.TierChanged,
		Replayed:         result.Replayed,
	}, nil
}

func (service *LoyaltyServiceServer) Redeem(ctx context.Context, request *loyaltyv1.RedeemRequest) (*loyaltyv1.MutationResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := loyalty.NewAccountID(request.AccountId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	points, err := loyalty.NewPositivePoints(request.Points)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idem, err := loyalty.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.engine.Redeem(ctx, session, loyalty.RedeemRequest{
		AccountID:      accountID,
		Points:         points,
		IdempotencyKey: idem,
		Description:    request.Description,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.MutationResponse{Entry: toEntry(result.Entry), NewBalance: result.NewBalance.Int64(), Replayed: result.Replayed}, nil
}

func (service *LoyaltyServiceServer) Adjust(ctx context.Context, request *loyaltyv1.AdjustRequest) (*loyaltyv1.MutationResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := loyalty.NewAccountID(request.AccountId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idem, err := loyalty.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reason, err := loyalty.NewReason(request.Reason)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.engine.Adjust(ctx, session, loyalty.AdjustRequest{
		AccountID:      accountID,
		PointDelta:     loyalty.Points(request.PointDelta),
		IdempotencyKey: idem,
		Reason:         reason,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.MutationResponse{Entry: toEntry(result.Entry), NewBalance: result.NewBalance.Int64(), Replayed: result.Replayed}, nil
}

func (service *LoyaltyServiceServer) GetBalance(ctx context.Context, request *loyaltyv1.BalanceRequest) (*loyaltyv1.BalanceResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := loyalty.NewAccountID(request.AccountId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, operationError := service.ledger.BalanceOf(ctx, session, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.BalanceResponse{BalancePoints: balance.Int64()}, nil
}

func (service *LoyaltyServiceServer) ListHistory(ctx context.Context, request *loyaltyv1.ListHistoryRequest) (*loyaltyv1.ListHistoryResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := loyalty.NewAccountID(request.AccountId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	query := loyalty.HistoryQuery{Limit: int(request.Limit)}
	if request.BeforeEntryId != "" {
		query.Before, err = loyalty.ParseEntryID(request.BeforeEntryId)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	page, operationError := service.ledger.History(ctx, session, accountID, query)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &loyaltyv1.ListHistoryResponse{Entries: make([]*loyaltyv1.Entry, 0, len(page.Entries))}
	for _, entry := range page.Entries {
		response.Entries = append(response.Entries, toEntry(entry))
	}
	if !page.Next.IsZero() {
		response.NextEntryId = page.Next.String()
	}
	return response, nil
}

func (service *LoyaltyServiceServer) Reconcile(ctx context.Context, request *loyaltyv1.ReconcileRequest) (*loyaltyv1.ReconcileResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := loyalty.NewAccountID(request.AccountId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var (
		reconciliation loyalty.Reconciliation
		operationError error
	)
	if request.Repair {
		reconciliation, operationError = service.ledger.Repair(ctx, session, accountID)
	} else {
		reconciliation, operationError = service.ledger.Reconcile(ctx, session, accountID)
	}
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &loyaltyv1.ReconcileResponse{
		AccountId:           reconciliation.AccountID.String(),
		CachedBalance:       reconciliation.CachedBalance.Int64(),
		LedgerBalance:       reconciliation.LedgerBalance.Int64(),
		CachedLifetimeSpend: reconciliation.CachedLifetimeSpend.String(),
		LedgerLifetimeSpend: reconciliation.LedgerLifetimeSpend.String(),
		CachedTier:          reconciliation.CachedTier.String(),
		DerivedTier:         reconciliation.DerivedTier.String(),
		EntryCount:          reconciliation.EntryCount,
		Consistent:          reconciliation.Consistent(),
		Repaired:            request.Repair,
	}, nil
}

func toAccount(account loyalty.Account) *loyaltyv1.Account {
	return &loyaltyv1.Account{
		AccountId:      account.AccountID.String(),
		ExternalCode:   account.ExternalCode.String(),
		ContactEmail:   account.ContactEmail.String(),
		DisplayName:    account.DisplayName.String(),
		BalancePoints:  account.Balance.Int64(),
		LifetimeSpend:  account.LifetimeSpend.String(),
		Tier:           account.Tier.String(),
		CreatedUnixUtc: account.CreatedAt.Unix(),
	}
}

func toEntry(entry loyalty.LedgerEntry) *loyaltyv1.Entry {
	return &loyaltyv1.Entry{
		EntryId:        entry.EntryID.String(),
		AccountId:      entry.AccountID.String(),
		RecordedBy:     entry.RecordedBy.String(),
		Kind:           entry.Kind.String(),
		PointDelta:     entry.PointDelta.Int64(),
		SpendAmount:    entry.SpendAmount.String(),
		IdempotencyKey: entry.IdempotencyKey.String(),
		Description:    entry.Description,
		MetadataJson:   entry.Metadata.String(),
		CreatedUnixUtc: entry.CreatedAt.Unix(),
	}
}

func mapToGRPCError(source error) error {
	switch {
	case errors.Is(source, loyalty.ErrInvalidSession):
		return status.Error(codes.Unauthenticated, errorInvalidSession)
	case errors.Is(source, loyalty.ErrInvalidAccountID):
		return status.Error(codes.InvalidArgument, errorInvalidAccountID)
	case errors.Is(source, loyalty.ErrInvalidEntryID):
		return status.Error(codes.InvalidArgument, errorInvalidEntryID)
	case errors.Is(source, loyalty.ErrInvalidIdentifier):
		return status.Error(codes.InvalidArgument, errorInvalidIdentifier)
	case errors.Is(source, loyalty.ErrInvalidDisplayName):
		return status.Error(codes.InvalidArgument, errorInvalidDisplayName)
	case errors.Is(source, loyalty.ErrInvalidIdempotencyKey):
		return status.Error(codes.InvalidArgument, errorInvalidIdempotencyKey)
	case errors.Is(source, loyalty.ErrInvalidReason):
		return status.Error(codes.InvalidArgument, errorInvalidReason)
	case errors.Is(source, loyalty.ErrInvalidRate):
		return status.Error(codes.InvalidArgument, errorInvalidRate)
	case errors.Is(source, loyalty.ErrInvalidAmount):
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	case errors.Is(source, loyalty.ErrInvalidHistoryLimit):
		return status.Error(codes.InvalidArgument, errorInvalidHistoryLimit)
	case errors.Is(source, loyalty.ErrInvalidMetadataJSON):
		return status.Error(codes.InvalidArgument, errorInvalidMetadata)
	case errors.Is(source, loyalty.ErrNotFound):
		return status.Error(codes.NotFound, errorNotFound)
	case errors.Is(source, loyalty.ErrUnknownAccount):
		return status.Error(codes.NotFound, errorUnknownAccount)
	case errors.Is(source, loyalty.ErrDuplicateIdentifier):
		return status.Error(codes.AlreadyExists, errorDuplicateIdentifier)
	case errors.Is(source, loyalty.ErrDuplicateIdempotencyKey):
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotencyKey)
	case errors.Is(source, loyalty.ErrInsufficientBalance):
		return status.Error(codes.FailedPrecondition, errorInsufficientBalance)
	case errors.Is(source, loyalty.ErrUnknownProgram):
		return status.Error(codes.FailedPrecondition, errorUnknownProgram)
	case errors.Is(source, loyalty.ErrCodeUnavailable):
		return status.Error(codes.Unavailable, errorCodeUnavailable)
	default:
		return status.Error(codes.Internal, errorInternal)
	}
}
