package loyaltyv1

// Money values travel as decimal strings ("12.50") so no precision is lost.
// Entry ids travel as decimal strings.

type ResolveRequest struct {
	Identifier string `json:"identifier"`
}

type EnrollRequest struct {
	DisplayName string `json:"display_name"`
	Identifier  string `json:"identifier"`
}

type GetAccountRequest struct {
	AccountId string `json:"account_id"`
}

type Account struct {
	AccountId      string `json:"account_id"`
	ExternalCode   string `json:"external_code"`
	ContactEmail   string `json:"contact_email,omitempty"`
	DisplayName    string `json:"display_name"`
	BalancePoints  int64  `json:"balance_points"`
	LifetimeSpend  string `json:"lifetime_spend"`
	Tier           string `json:"tier"`
	CreatedUnixUtc int64  `json:"created_unix_utc"`
}

type AccountResponse struct {
	Account *Account `json:"account"`
}

func (response *AccountResponse) GetAccount() *Account {
	if response == nil || response.Account == nil {
		return &Account{}
	}
	return response.Account
}

type Entry struct {
	EntryId        string `json:"entry_id"`
	AccountId      string `json:"account_id"`
	RecordedBy     string `json:"recorded_by"`
	Kind           string `json:"kind"`
	PointDelta     int64  `json:"point_delta"`
	SpendAmount    string `json:"spend_amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description,omitempty"`
	MetadataJson   string `json:"metadata_json"`
	CreatedUnixUtc int64  `json:"created_unix_utc"`
}

type AccrueRequest struct {
	AccountId      string `json:"account_id"`
	SpendAmount    string `json:"spend_amount"`
	Rate           string `json:"rate,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description,omitempty"`
}

type AccrueResponse struct {
	Entry            *Entry `json:"entry"`
	PointsAwarded    int64  `json:"points_awarded"`
	NewBalance       int64  `json:"new_balance"`
	NewLifetimeSpend string `json:"new_lifetime_spend"`
	NewTier          string `json:"new_tier"`
	PreviousTier     string `json:"previous_tier"`
	TierChanged      bool   `json:"tier_changed"`
	Replayed         bool   `json:"replayed"`
}

type RedeemRequest struct {
	AccountId      string `json:"account_id"`
	Points         int64  `json:"points"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description,omitempty"`
}

type AdjustRequest struct {
	AccountId      string `json:"account_id"`
	PointDelta     int64  `json:"point_delta"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

// MutationResponse answers Redeem and Adjust.
type MutationResponse struct {
	Entry      *Entry `json:"entry"`
	NewBalance int64  `json:"new_balance"`
	Replayed   bool   `json:"replayed"`
}

type BalanceRequest struct {
	AccountId string `json:"account_id"`
}

type BalanceResponse struct {
	BalancePoints int64 `json:"balance_points"`
}

type ListHistoryRequest struct {
	AccountId     string `json:"account_id"`
	Limit         int32  `json:"limit,omitempty"`
	BeforeEntryId string `json:"before_entry_id,omitempty"`
}

type ListHistoryResponse struct {
	Entries     []*Entry `json:"entries"`
	NextEntryId string   `json:"next_entry_id,omitempty"`
}

type ReconcileRequest struct {
	AccountId string `json:"account_id"`
	Repair    bool   `json:"repair,omitempty"`
}

type ReconcileResponse struct {
	AccountId           string `json:"account_id"`
	CachedBalance       int64  `json:"cached_balance"`
	LedgerBalance       int64  `json:"ledger_balance"`
	CachedLifetimeSpend string `json:"cached_lifetime_spend"`
	LedgerLifetimeSpend string `json:"ledger_lifetime_spend"`
	CachedTier          string `json:"cached_tier"`
	DerivedTier         string `json:"derived_tier"`
	EntryCount          int64  `json:"entry_count"`
	Consistent          bool   `json:"consistent"`
	Repaired            bool   `json:"repaired"`
}
