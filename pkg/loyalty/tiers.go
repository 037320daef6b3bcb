package loyalty

import (
	"fmt"
	"strings"
)

// TierName is a derived loyalty level label.
type TierName string

// String returns the label.
func (name TierName) String() string {
	return string(name)
}

// TierThreshold maps a minimum lifetime spend to a tier.
type TierThreshold struct {
	MinLifetimeSpend Money
	Name             TierName
}

// TierTable is an ascending list of thresholds.
type TierTable struct {
	thresholds []TierThreshold
}

// NewTierTable validates that thresholds are strictly ascending and uniquely named.
func NewTierTable(thresholds []TierThreshold) (TierTable, error) {
	seen := make(map[TierName]struct{}, len(thresholds))
	for index, threshold := range thresholds {
		if strings.TrimSpace(threshold.Name.String()) == "" {
			return TierTable{}, fmt.Errorf("%w: threshold %d has no name", ErrInvalidTierTable, index)
		}
		if _, exists := seen[threshold.Name]; exists {
			return TierTable{}, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTierTable, threshold.Name)
		}
		seen[threshold.Name] = struct{}{}
		if index > 0 && threshold.MinLifetimeSpend.Decimal().LessThanOrEqual(thresholds[index-1].MinLifetimeSpend.Decimal()) {
			return TierTable{}, fmt.Errorf("%w: thresholds must be strictly ascending", ErrInvalidTierTable)
		}
	}
	return TierTable{thresholds: append([]TierThreshold(nil), thresholds...)}, nil
}

// TierFor returns the highest tier whose threshold does not exceed lifetimeSpend.
func (table TierTable) TierFor(lifetimeSpend Money) TierName {
	var tier TierName
	for _, threshold := range table.thresholds {
		if threshold.MinLifetimeSpend.Decimal().GreaterThan(lifetimeSpend.Decimal()) {
			break
		}
		tier = threshold.Name
	}
	return tier
}

// Thresholds returns a copy of the table rows.
func (table TierTable) Thresholds() []TierThreshold {
	return append([]TierThreshold(nil), table.thresholds...)
}
