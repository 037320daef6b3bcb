package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Account represents the accounts table. Balance, lifetime spend and tier are
// cached projections of the account's ledger entries.
type Account struct {
	AccountID          string    `gorm:"primaryKey"`
	TenantID           string    `gorm:"not null;index:uniq_accounts_tenant_code,unique,priority:1;index:uniq_accounts_tenant_email,unique,priority:1"`
	ExternalCode       string    `gorm:"not null;index:uniq_accounts_tenant_code,unique,priority:2"`
	ContactEmail       *string   `gorm:"index:uniq_accounts_tenant_email,unique,priority:2"`
	DisplayName        string    `gorm:"not null"`
	BalancePoints      int64     `gorm:"not null;default:0"`
	LifetimeSpendCents int64     `gorm:"not null;default:0"`
	Tier               string    `gorm:"not null;default:''"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the ledger_entries table. Rows are never updated or deleted.
type LedgerEntry struct {
	EntryID        int64          `gorm:"primaryKey;autoIncrement:false;index:idx_entries_account_entry,priority:2"`
	AccountID      string         `gorm:"not null;index:uniq_entries_account_idem,unique,priority:1;index:idx_entries_account_entry,priority:1"`
	TenantID       string         `gorm:"not null"`
	RecordedBy     string         `gorm:"not null"`
	Kind           string         `gorm:"not null"`
	PointDelta     int64          `gorm:"not null"`
	SpendCents     int64          `gorm:"not null;default:0"`
	IdempotencyKey string         `gorm:"not null;index:uniq_entries_account_idem,unique,priority:2"`
	Description    string         `gorm:"not null;default:''"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
