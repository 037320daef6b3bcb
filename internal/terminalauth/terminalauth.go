// Package terminalauth issues and verifies the bearer tokens carried by
// point-of-sale terminals and turns them into loyalty sessions.
package terminalauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/golang-jwt/jwt/v5"
)

const (
	bearerPrefix       = "bearer "
	recordedByTemplate = "store:%s/operator:%s"
	minSigningKeyBytes = 16
)

var (
	ErrInvalidConfig = errors.New("terminalauth: invalid config")
	ErrMissingToken  = errors.New("terminalauth: missing token")
	ErrInvalidToken  = errors.New("terminalauth: invalid token")
)

// Claims identify the tenant, store and operator behind a terminal.
type Claims struct {
	TenantID   string `json:"tenant_id"`
	StoreID    string `json:"store_id"`
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// RecordedBy renders the provenance stamped on every ledger entry.
func (claims Claims) RecordedBy() string {
	return fmt.Sprintf(recordedByTemplate, claims.StoreID, claims.OperatorID)
}

// Config holds the shared signing secret and expected issuer.
type Config struct {
	SigningKey []byte
	Issuer     string
	TokenTTL   time.Duration
}

// Authenticator signs and verifies HS256 terminal tokens.
type Authenticator struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

// New validates cfg and returns an Authenticator.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.SigningKey) < minSigningKeyBytes {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes", ErrInvalidConfig, minSigningKeyBytes)
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidConfig)
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		tokenTTL:   ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
		),
		now: time.Now,
	}, nil
}

// Issue mints a token for an operator at a store of the tenant.
func (authenticator *Authenticator) Issue(tenantID string, storeID string, operatorID string) (string, error) {
	claims := Claims{
		TenantID:   strings.TrimSpace(tenantID),
		StoreID:    strings.TrimSpace(storeID),
		OperatorID: strings.TrimSpace(operatorID),
	}
	if err := claims.validate(); err != nil {
		return "", err
	}
	issuedAt := authenticator.now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    authenticator.issuer,
		Subject:   claims.RecordedBy(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(authenticator.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(authenticator.signingKey)
	if err != nil {
		return "", fmt.Errorf("terminalauth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a raw token and returns its claims.
func (authenticator *Authenticator) Verify(rawToken string) (Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return Claims{}, ErrMissingToken
	}
	var claims Claims
	_, err := authenticator.parser.ParseWithClaims(rawToken, &claims, func(*jwt.Token) (any, error) {
		return authenticator.signingKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := claims.validate(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// SessionFromAuthorization verifies an "Authorization: Bearer <token>" value.
func (authenticator *Authenticator) SessionFromAuthorization(header string) (loyalty.Session, error) {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return loyalty.Session{}, ErrMissingToken
	}
	claims, err := authenticator.Verify(strings.TrimSpace(trimmed[len(bearerPrefix):]))
	if err != nil {
		return loyalty.Session{}, err
	}
	return claims.Session()
}

// Session converts verified claims into a loyalty session.
func (claims Claims) Session() (loyalty.Session, error) {
	tenantID, err := loyalty.NewTenantID(claims.TenantID)
	if err != nil {
		return loyalty.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	recordedBy, err := loyalty.NewRecordedBy(claims.RecordedBy())
	if err != nil {
		return loyalty.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return loyalty.NewSession(tenantID, recordedBy)
}

func (claims Claims) validate() error {
	if claims.TenantID == "" || claims.StoreID == "" || claims.OperatorID == "" {
		return fmt.Errorf("%w: tenant_id, store_id and operator_id are required", ErrInvalidToken)
	}
	return nil
}
