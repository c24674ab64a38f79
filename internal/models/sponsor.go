package models

import "github.com/shopspring/decimal"

// SponsorNode is an account the user sponsored, with the lifetime amount in cents.
type SponsorNode struct {
	User      string `json:"user"`
	URL       string `json:"url"`
	AvatarURL string `json:"avatar_url"`
	Total     int64  `json:"total"`
}

// FormatCents renders an amount in cents as dollars, e.g. 1234 -> "$12.34".
func FormatCents(cents int64) string {
	amount := decimal.New(cents, -2)
	if amount.IsNegative() {
		return "-$" + amount.Abs().StringFixed(2)
	}
	return "$" + amount.StringFixed(2)
}

// ProviderSponsorships groups the accounts a user sponsored through one provider.
// Verified is false when the provider could not confirm the user's credential.
type ProviderSponsorships struct {
	Provider     Provider      `json:"provider"`
	Username     string        `json:"username"`
	Verified     bool          `json:"verified"`
	Sponsorships []SponsorNode `json:"sponsorships"`
}
