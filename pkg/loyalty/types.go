package loyalty

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
)

// TenantID identifies the business owning an account.
type TenantID struct {
	value string
}

// AccountID identifies an enrolled loyalty account.
type AccountID struct {
	value string
}

// EntryID identifies a ledger entry. Entry ids are time-ordered integers.
type EntryID struct {
	value int64
}

// ExternalCode is the human-presentable card code of an account.
type ExternalCode struct {
	value string
}

// ContactEmail is the optional alternate lookup key of an account.
type ContactEmail struct {
	value string
}

// DisplayName is the customer name shown on terminals.
type DisplayName struct {
	value string
}

// IdempotencyKey scopes duplicate detection within an account.
type IdempotencyKey struct {
	value string
}

// RecordedBy is the opaque provenance of a ledger entry.
type RecordedBy struct {
	value string
}

// Reason explains an administrative adjustment.
type Reason struct {
	value string
}

// MetadataJSON stores arbitrary audit metadata attached to an entry.
type MetadataJSON struct {
	value string
}

// NewTenantID validates and normalizes a tenant id.
func NewTenantID(raw string) (TenantID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TenantID{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	return TenantID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TenantID) String() string {
	return id.value
}

// IsZero reports whether the tenant id is unset.
func (id TenantID) IsZero() bool {
	return id.value == ""
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the account id is unset.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewEntryID validates an entry id.
func NewEntryID(raw int64) (EntryID, error) {
	if raw <= 0 {
		return EntryID{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidEntryID)
	}
	return EntryID{value: raw}, nil
}

// ParseEntryID parses the decimal form of an entry id.
func ParseEntryID(raw string) (EntryID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("%w: %v", ErrInvalidEntryID, err)
	}
	return NewEntryID(parsed)
}

// Int64 returns the raw id.
func (id EntryID) Int64() int64 {
	return id.value
}

// String returns the decimal form of the id.
func (id EntryID) String() string {
	if id.value == 0 {
		return ""
	}
	return strconv.FormatInt(id.value, 10)
}

// IsZero reports whether the entry id is unset.
func (id EntryID) IsZero() bool {
	return id.value == 0
}

// NewExternalCode validates a card code. Codes are matched exactly.
func NewExternalCode(raw string) (ExternalCode, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minExternalCodeLength || len(trimmed) > maxExternalCodeLength {
		return ExternalCode{}, fmt.Errorf("%w: code length must be between %d and %d", ErrInvalidIdentifier, minExternalCodeLength, maxExternalCodeLength)
	}
	for _, character := range trimmed {
		if !isCodeCharacter(character) {
			return ExternalCode{}, fmt.Errorf("%w: code contains %q", ErrInvalidIdentifier, character)
		}
	}
	return ExternalCode{value: trimmed}, nil
}

// String returns the code.
func (code ExternalCode) String() string {
	return code.value
}

// IsZero reports whether the code is unset.
func (code ExternalCode) IsZero() bool {
	return code.value == ""
}

// NewContactEmail validates an email address and lower-cases it.
func NewContactEmail(raw string) (ContactEmail, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return ContactEmail{}, fmt.Errorf("%w: malformed email", ErrInvalidIdentifier)
	}
	return ContactEmail{value: strings.ToLower(trimmed)}, nil
}

// String returns the normalized address.
func (email ContactEmail) String() string {
	return email.value
}

// IsZero reports whether the email is unset.
func (email ContactEmail) IsZero() bool {
	return email.value == ""
}

// IdentifierKind tells whether an identifier is a code or an email.
type IdentifierKind string

const (
	IdentifierCode  IdentifierKind = "code"
	IdentifierEmail IdentifierKind = "email"
)

// Identifier is what a terminal scans or types to find an account.
type Identifier struct {
	kind  IdentifierKind
	code  ExternalCode
	email ContactEmail
}

// ParseIdentifier classifies raw input as an email (contains '@') or a card code.
func ParseIdentifier(raw string) (Identifier, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Identifier{}, fmt.Errorf("%w: empty value", ErrInvalidIdentifier)
	}
	if strings.Contains(trimmed, "@") {
		email, err := NewContactEmail(trimmed)
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{kind: IdentifierEmail, email: email}, nil
	}
	code, err := NewExternalCode(trimmed)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{kind: IdentifierCode, code: code}, nil
}

// Kind returns the identifier kind.
func (identifier Identifier) Kind() IdentifierKind {
	return identifier.kind
}

// Code returns the card code when the identifier is code-shaped.
func (identifier Identifier) Code() (ExternalCode, bool) {
	return identifier.code, identifier.kind == IdentifierCode
}

// Email returns the address when the identifier is an email.
func (identifier Identifier) Email() (ContactEmail, bool) {
	return identifier.email, identifier.kind == IdentifierEmail
}

// String returns the normalized identifier.
func (identifier Identifier) String() string {
	if identifier.kind == IdentifierEmail {
		return identifier.email.String()
	}
	return identifier.code.String()
}

// NewDisplayName validates a customer display name.
func NewDisplayName(raw string) (DisplayName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DisplayName{}, fmt.Errorf("%w: empty value", ErrInvalidDisplayName)
	}
	if len(trimmed) > maxDisplayNameLength {
		return DisplayName{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidDisplayName, maxDisplayNameLength)
	}
	return DisplayName{value: trimmed}, nil
}

// String returns the name.
func (name DisplayName) String() string {
	return name.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if len(trimmed) > maxIdempotencyKeyLength {
		return IdempotencyKey{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdempotencyKey, maxIdempotencyKeyLength)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewRecordedBy validates a provenance token.
func NewRecordedBy(raw string) (RecordedBy, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RecordedBy{}, fmt.Errorf("%w: empty value", ErrInvalidRecordedBy)
	}
	return RecordedBy{value: trimmed}, nil
}

// String returns the provenance token.
func (recordedBy RecordedBy) String() string {
	return recordedBy.value
}

// NewReason validates an adjustment reason.
func NewReason(raw string) (Reason, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reason{}, fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	return Reason{value: trimmed}, nil
}

// String returns the reason text.
func (reason Reason) String() string {
	return reason.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = defaultMetadataJSON
	}
	var object map[string]any
	if err := json.Unmarshal([]byte(normalized), &object); err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: must be a json object", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MetadataFromMap marshals a flat string map into metadata.
func MetadataFromMap(values map[string]string) MetadataJSON {
	if len(values) == 0 {
		return MetadataJSON{value: defaultMetadataJSON}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{value: defaultMetadataJSON}
	}
	return MetadataJSON{value: string(raw)}
}

// String returns the JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return defaultMetadataJSON
	}
	return metadata.value
}

// EntryKind labels a ledger entry for audit display.
type EntryKind string

const (
	EntryWelcome    EntryKind = "welcome"
	EntryAccrual    EntryKind = "accrual"
	EntryRedemption EntryKind = "redemption"
	EntryAdjustment EntryKind = "adjustment"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntryWelcome, EntryAccrual, EntryRedemption, EntryAdjustment:
		return EntryKind(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown entry kind %q", ErrInvalidEntry, raw)
	}
}

// String returns the kind label.
func (kind EntryKind) String() string {
	return string(kind)
}

func isCodeCharacter(character rune) bool {
	switch {
	case character >= 'A' && character <= 'Z':
		return true
	case character >= 'a' && character <= 'z':
		return true
	case character >= '0' && character <= '9':
		return true
	case character == '-' || character == '_':
		return true
	default:
		return false
	}
}
