package loyalty

import (
	"context"
	"fmt"
)

// Program is the tenant configuration consumed by the engine.
type Program struct {
	Rate         Rate
	WelcomeGrant Points
	Tiers        TierTable
}

// NewProgram validates a tenant program.
func NewProgram(rate Rate, welcomeGrant Points, tiers TierTable) (Program, error) {
	if rate.IsZero() {
		return Program{}, fmt.Errorf("%w: program rate is required", ErrInvalidRate)
	}
	if welcomeGrant < 0 {
		return Program{}, fmt.Errorf("%w: welcome grant must not be negative", ErrInvalidAmount)
	}
	return Program{Rate: rate, WelcomeGrant: welcomeGrant, Tiers: tiers}, nil
}

// ProgramSource resolves the program of a tenant. It is owned by an external collaborator.
type ProgramSource interface {
	Program(ctx context.Context, tenantID TenantID) (Program, error)
}

// StaticPrograms serves programs from memory, falling back to a default program.
type StaticPrograms struct {
	fallback  *Program
	perTenant map[TenantID]Program
}

// NewStaticPrograms builds a ProgramSource. fallback may be nil.
func NewStaticPrograms(fallback *Program, perTenant map[TenantID]Program) *StaticPrograms {
	copied := make(map[TenantID]Program, len(perTenant))
	for tenantID, program := range perTenant {
		copied[tenantID] = program
	}
	return &StaticPrograms{fallback: fallback, perTenant: copied}
}

// Program returns the tenant's program, the fallback, or ErrUnknownProgram.
func (programs *StaticPrograms) Program(_ context.Context, tenantID TenantID) (Program, error) {
	if program, ok := programs.perTenant[tenantID]; ok {
		return program, nil
	}
	if programs.fallback != nil {
		return *programs.fallback, nil
	}
	return Program{}, fmt.Errorf("%w: %s", ErrUnknownProgram, tenantID.String())
}
