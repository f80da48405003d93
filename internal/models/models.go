package models

import "time"

type UnlockSource string

const (
	UnlockNone    UnlockSource = "none"
	UnlockAdmin   UnlockSource = "admin"
	UnlockPayment UnlockSource = "payment"
)

// UsageRecord is the per-identity paywall state.
type UsageRecord struct {
	Identity         string
	FreeUsesConsumed int
	Unlocked         bool
	UnlockSource     UnlockSource
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type RateEnv string

const (
	RateEnvHigh   RateEnv = "HIGH"
	RateEnvNormal RateEnv = "NORMAL"
)

// Analysis is one row of the append-only history log.
type Analysis struct {
	ID         string    `json:"id"`
	Identity   string    `json:"identity"`
	Address    string    `json:"address"`
	RateEnv    RateEnv   `json:"rate_env"`
	Score      float64   `json:"score"`
	Grade      string    `json:"grade"`
	Verdict    string    `json:"verdict"`
	StressDSCR float64   `json:"stress_dscr"`
	KillSwitch bool      `json:"kill_switch"`
	ReportURL  string    `json:"report_url,omitempty"`
	InputsJSON string    `json:"inputs_json"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	PaymentProviderStripeLink = "stripe_link"
	PaymentStatusPaid         = "paid"
)

type Payment struct {
	ID        int64     `json:"id"`
	Identity  string    `json:"identity"`
	Provider  string    `json:"provider"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
