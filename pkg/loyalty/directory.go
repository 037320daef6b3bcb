package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const welcomeDescription = "welcome grant"

// Directory enrolls accounts and resolves terminal identifiers to them.
type Directory struct {
	store    Store
	ledger   *Ledger
	programs ProgramSource
	ids      IDGenerator
	deps     dependencies
}

// EnrollRequest carries the customer details captured at the terminal.
type EnrollRequest struct {
	DisplayName DisplayName
	Identifier  Identifier
}

// NewDirectory wires a Directory that shares the ledger's store, programs and id generator.
func NewDirectory(ledger *Ledger, options ...Option) (*Directory, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	return &Directory{
		store:    ledger.store,
		ledger:   ledger,
		programs: ledger.programs,
		ids:      ledger.ids,
		deps:     newDependencies(options),
	}, nil
}

// Resolve finds the account behind a scanned code or typed email within the session tenant.
func (directory *Directory) Resolve(ctx context.Context, session Session, identifier Identifier) (Account, error) {
	if err := session.validate(); err != nil {
		return Account{}, err
	}
	if code, ok := identifier.Code(); ok {
		return directory.store.FindAccountByCode(ctx, session.TenantID(), code)
	}
	if email, ok := identifier.Email(); ok {
		return directory.store.FindAccountByEmail(ctx, session.TenantID(), email)
	}
	return Account{}, fmt.Errorf("%w: empty value", ErrInvalidIdentifier)
}

// Enroll creates an account and grants the tenant's welcome points in the same transaction.
// Email enrollments receive a generated card code.
func (directory *Directory) Enroll(ctx context.Context, session Session, request EnrollRequest) (Account, error) {
	account, operationError := directory.enroll(ctx, session, request)
	directory.deps.logOperation(ctx, OperationLog{
		Operation:  operationEnroll,
		TenantID:   session.TenantID(),
		RecordedBy: session.RecordedBy(),
		AccountID:  account.AccountID,
		PointDelta: account.Balance,
		Error:      operationError,
	})
	return account, operationError
}

// Get loads an account by id within the session tenant.
func (directory *Directory) Get(ctx context.Context, session Session, accountID AccountID) (Account, error) {
	if err := session.validate(); err != nil {
		return Account{}, err
	}
	return directory.store.GetAccount(ctx, session.TenantID(), accountID)
}

func (directory *Directory) enroll(ctx context.Context, session Session, request EnrollRequest) (Account, error) {
	if err := session.validate(); err != nil {
		return Account{}, err
	}
	program, err := directory.programs.Program(ctx, session.TenantID())
	if err != nil {
		return Account{}, err
	}
	code, email, err := directory.enrollmentIdentifiers(request.Identifier)
	if err != nil {
		return Account{}, err
	}
	for attempt := 1; ; attempt++ {
		enrolled, err := directory.createAccount(ctx, session, program, code, email, request.DisplayName)
		if err == nil {
			return enrolled, nil
		}
		if !errors.Is(err, ErrDuplicateIdentifier) {
			return Account{}, err
		}
		collided, lookupErr := directory.generatedCodeCollided(ctx, session, email)
		if lookupErr != nil {
			return Account{}, lookupErr
		}
		if !collided {
			return Account{}, WrapError("directory", "account", "duplicate_identifier", err)
		}
		if attempt >= maxGeneratedCodeAttempts {
			return Account{}, fmt.Errorf("%w: %d generated codes already taken", ErrCodeUnavailable, attempt)
		}
		code, err = directory.deps.codes.NewExternalCode()
		if err != nil {
			return Account{}, err
		}
	}
}

// generatedCodeCollided reports whether a duplicate on an email enrollment came from the
// generated card code rather than the email itself.
func (directory *Directory) generatedCodeCollided(ctx context.Context, session Session, email ContactEmail) (bool, error) {
	if email.IsZero() {
		return false, nil
	}
	_, err := directory.store.FindAccountByEmail(ctx, session.TenantID(), email)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrNotFound):
		return true, nil
	default:
		return false, err
	}
}

func (directory *Directory) createAccount(ctx context.Context, session Session, program Program, code ExternalCode, email ContactEmail, displayName DisplayName) (Account, error) {
	accountID, err := directory.ids.NewAccountID()
	if err != nil {
		return Account{}, fmt.Errorf("mint account id: %w", err)
	}
	input, err := NewAccountInput(accountID, session.TenantID(), code, email, displayName, directory.deps.now())
	if err != nil {
		return Account{}, err
	}
	welcomeKey, err := NewIdempotencyKey(strings.Join([]string{welcomeKeyPrefix, accountID.String()}, idempotencyKeyDelimiter))
	if err != nil {
		return Account{}, err
	}

	var enrolled Account
	err = directory.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		created, err := transactionStore.CreateAccount(ctx, input)
		if err != nil {
			return err
		}
		if initialTier := program.Tiers.TierFor(Money{}); initialTier != "" {
			if err := transactionStore.SetTier(ctx, created.AccountID, initialTier); err != nil {
				return err
			}
			created.Tier = initialTier
		}
		enrolled = created
		if program.WelcomeGrant <= 0 {
			return nil
		}
		granted, err := directory.ledger.appendInTx(ctx, transactionStore, session, AppendRequest{
			AccountID:      created.AccountID,
			PointDelta:     program.WelcomeGrant,
			IdempotencyKey: welcomeKey,
			Kind:           EntryWelcome,
			Description:    welcomeDescription,
		})
		if err != nil {
			return err
		}
		enrolled = granted.Account
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return enrolled, nil
}

func (directory *Directory) enrollmentIdentifiers(identifier Identifier) (ExternalCode, ContactEmail, error) {
	if code, ok := identifier.Code(); ok {
		return code, ContactEmail{}, nil
	}
	email, ok := identifier.Email()
	if !ok {
		return ExternalCode{}, ContactEmail{}, fmt.Errorf("%w: empty value", ErrInvalidIdentifier)
	}
	code, err := directory.deps.codes.NewExternalCode()
	if err != nil {
		return ExternalCode{}, ContactEmail{}, err
	}
	return code, email, nil
}
