package loyalty

import "fmt"

// Session is the verified identity of the terminal or console issuing a call.
// Every operation is scoped to its tenant and stamps entries with its provenance.
type Session struct {
	tenantID   TenantID
	recordedBy RecordedBy
}

// NewSession binds a verified tenant to a provenance token.
func NewSession(tenantID TenantID, recordedBy RecordedBy) (Session, error) {
	if tenantID.IsZero() {
		return Session{}, fmt.Errorf("%w: tenant is required", ErrInvalidSession)
	}
	if recordedBy.String() == "" {
		return Session{}, fmt.Errorf("%w: recorded_by is required", ErrInvalidSession)
	}
	return Session{tenantID: tenantID, recordedBy: recordedBy}, nil
}

// TenantID returns the verified tenant.
func (session Session) TenantID() TenantID {
	return session.tenantID
}

// RecordedBy returns the provenance token.
func (session Session) RecordedBy() RecordedBy {
	return session.recordedBy
}

func (session Session) validate() error {
	if session.tenantID.IsZero() || session.recordedBy.String() == "" {
		return fmt.Errorf("%w: session is not verified", ErrInvalidSession)
	}
	return nil
}
