// Package programconfig loads tenant loyalty programs from a YAML file.
//
//	default:
//	  rate: "1"
//	  welcome_grant: 50
//	  tiers:
//	    - name: Bronze
//	      min_lifetime_spend: "0"
//	    - name: Silver
//	      min_lifetime_spend: "100"
//	tenants:
//	  - tenant_id: tenant-b
//	    rate: "2"
//	    welcome_grant: 0
//
// Tenants are a list rather than a map because viper folds map keys to lower case.
package programconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/spf13/viper"
)

var ErrInvalidPrograms = errors.New("programconfig: invalid programs")

type tierEntry struct {
	Name             string `mapstructure:"name"`
	MinLifetimeSpend string `mapstructure:"min_lifetime_spend"`
}

type programEntry struct {
	TenantID     string      `mapstructure:"tenant_id"`
	Rate         string      `mapstructure:"rate"`
	WelcomeGrant int64       `mapstructure:"welcome_grant"`
	Tiers        []tierEntry `mapstructure:"tiers"`
}

type programsDocument struct {
	Default *programEntry  `mapstructure:"default"`
	Tenants []programEntry `mapstructure:"tenants"`
}

// Load reads path and builds a program source. A tenant entry without tiers
// inherits the default tiers.
func Load(path string) (*loyalty.StaticPrograms, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("programconfig: read %s: %w", path, err)
	}
	var document programsDocument
	if err := v.Unmarshal(&document); err != nil {
		return nil, fmt.Errorf("programconfig: decode %s: %w", path, err)
	}
	return build(document)
}

func build(document programsDocument) (*loyalty.StaticPrograms, error) {
	if document.Default == nil && len(document.Tenants) == 0 {
		return nil, fmt.Errorf("%w: no programs configured", ErrInvalidPrograms)
	}
	var (
		fallback     *loyalty.Program
		defaultTiers []tierEntry
	)
	if document.Default != nil {
		program, err := buildProgram(*document.Default, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: default: %v", ErrInvalidPrograms, err)
		}
		fallback = &program
		defaultTiers = document.Default.Tiers
	}
	perTenant := make(map[loyalty.TenantID]loyalty.Program, len(document.Tenants))
	for index, tenantEntry := range document.Tenants {
		tenantID, err := loyalty.NewTenantID(tenantEntry.TenantID)
		if err != nil {
			return nil, fmt.Errorf("%w: tenants[%d]: %v", ErrInvalidPrograms, index, err)
		}
		if _, exists := perTenant[tenantID]; exists {
			return nil, fmt.Errorf("%w: tenant %s configured twice", ErrInvalidPrograms, tenantID)
		}
		program, err := buildProgram(tenantEntry, defaultTiers)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant %s: %v", ErrInvalidPrograms, tenantID, err)
		}
		perTenant[tenantID] = program
	}
	return loyalty.NewStaticPrograms(fallback, perTenant), nil
}

func buildProgram(entry programEntry, inheritedTiers []tierEntry) (loyalty.Program, error) {
	rate, err := loyalty.ParseRate(entry.Rate)
	if err != nil {
		return loyalty.Program{}, err
	}
	tierEntries := entry.Tiers
	if len(tierEntries) == 0 {
		tierEntries = inheritedTiers
	}
	thresholds := make([]loyalty.TierThreshold, 0, len(tierEntries))
	for _, tier := range tierEntries {
		minimum, err := loyalty.ParseMoney(tier.MinLifetimeSpend)
		if err != nil {
			return loyalty.Program{}, fmt.Errorf("tier %q: %w", tier.Name, err)
		}
		thresholds = append(thresholds, loyalty.TierThreshold{
			MinLifetimeSpend: minimum,
			Name:             loyalty.TierName(strings.TrimSpace(tier.Name)),
		})
	}
	tiers, err := loyalty.NewTierTable(thresholds)
	if err != nil {
		return loyalty.Program{}, err
	}
	return loyalty.NewProgram(rate, loyalty.Points(entry.WelcomeGrant), tiers)
}
