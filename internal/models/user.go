package models

import (
	"strings"
	"time"

	"github.com/donorlog/donorlog/internal/apperror"
)

// Provider identifies an external identity provider.
type Provider string

const (
	ProviderGitHub         Provider = "github"
	ProviderOpenCollective Provider = "opencollective"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderGitHub, ProviderOpenCollective}

// TotalAndMonthAmount is a provider's sponsorship figures in cents.
// Total is expected to be >= Month but provider data is stored as reported.
type TotalAndMonthAmount struct {
	Month       int64     `json:"month"`
	Total       int64     `json:"total"`
	LastChecked time.Time `json:"last_checked"`
}

// IsStale reports whether the amount should be refreshed at now. An amount stays
// valid for the rest of the UTC calendar day it was checked on.
func (a *TotalAndMonthAmount) IsStale(now time.Time) bool {
	if a == nil || a.LastChecked.IsZero() {
		return true
	}
	cy, cm, cd := a.LastChecked.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	checked := time.Date(cy, cm, cd, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return today.After(checked)
}

type GithubUser struct {
	GithubID        string               `json:"github_id"`
	GithubUsername  string               `json:"github_username"`
	GithubAuthToken *string              `json:"-"`
	Amount          *TotalAndMonthAmount `json:"amount,omitempty"`
}

// Identity returns the provider-neutral form used by the store.
func (g *GithubUser) Identity() ExternalIdentity {
	return ExternalIdentity{
		Provider:   ProviderGitHub,
		ExternalID: g.GithubID,
		Username:   g.GithubUsername,
		AuthToken:  g.GithubAuthToken,
		Amount:     g.Amount,
	}
}

type OpencollectiveUser struct {
	OpencollectiveID       string               `json:"opencollective_id"`
	OpencollectiveUsername string               `json:"opencollective_username"`
	Amount                 *TotalAndMonthAmount `json:"amount,omitempty"`
}

func (o *OpencollectiveUser) Identity() ExternalIdentity {
	return ExternalIdentity{
		Provider:   ProviderOpenCollective,
		ExternalID: o.OpencollectiveID,
		Username:   o.OpencollectiveUsername,
		Amount:     o.Amount,
	}
}

// ExternalIdentity is a (provider, external id) pair plus what the provider
// reported about it at login.
type ExternalIdentity struct {
	Provider   Provider
	ExternalID string
	Username   string
	AuthToken  *string
	Amount     *TotalAndMonthAmount
}

// Validate checks the fields every identity must carry.
func (i ExternalIdentity) Validate() error {
	switch i.Provider {
	case ProviderGitHub, ProviderOpenCollective:
	default:
		return apperror.ValidationFailed("provider", "unknown identity provider "+string(i.Provider))
	}
	if strings.TrimSpace(i.ExternalID) == "" {
		return apperror.ValidationFailed("external_id", string(i.Provider)+" id is required")
	}
	if strings.TrimSpace(i.Username) == "" {
		return apperror.ValidationFailed("username", string(i.Provider)+" username is required")
	}
	return nil
}

// Credential is what the provider needs to report this identity's sponsorship
// amount: GitHub answers for the token owner, OpenCollective for a public id.
func (i ExternalIdentity) Credential() string {
	if i.Provider == ProviderGitHub {
		if i.AuthToken == nil {
			return ""
		}
		return *i.AuthToken
	}
	return i.ExternalID
}

// User is the internal identity. Linked identities are nil when absent or not loaded.
type User struct {
	UserID             int64               `json:"user_id"`
	Username           string              `json:"username"`
	GithubUser         *GithubUser         `json:"github_user,omitempty"`
	OpencollectiveUser *OpencollectiveUser `json:"opencollective_user,omitempty"`
}

// Identities returns the user's linked identities in provider order.
func (u *User) Identities() []ExternalIdentity {
	var out []ExternalIdentity
	if u.GithubUser != nil {
		out = append(out, u.GithubUser.Identity())
	}
	if u.OpencollectiveUser != nil {
		out = append(out, u.OpencollectiveUser.Identity())
	}
	return out
}

// SetAmount replaces the cached amount of the linked identity for provider.
func (u *User) SetAmount(provider Provider, amount *TotalAndMonthAmount) {
	switch provider {
	case ProviderGitHub:
		if u.GithubUser != nil {
			u.GithubUser.Amount = amount
		}
	case ProviderOpenCollective:
		if u.OpencollectiveUser != nil {
			u.OpencollectiveUser.Amount = amount
		}
	}
}

// DisplayUser is the public overview of a user's sponsorship amounts.
type DisplayUser struct {
	Username       string               `json:"username"`
	Github         *TotalAndMonthAmount `json:"github"`
	Opencollective *TotalAndMonthAmount `json:"opencollective"`
	// Unverified lists linked providers whose refresh failed; their amounts are omitted.
	Unverified []Provider `json:"unverified,omitempty"`
}

// Total sums the total amounts of every provider with a cached amount, or nil
// when there is none.
func (d *DisplayUser) Total() *int64 {
	return d.sum(func(a *TotalAndMonthAmount) int64 { return a.Total })
}

// Month sums the month amounts like Total.
func (d *DisplayUser) Month() *int64 {
	return d.sum(func(a *TotalAndMonthAmount) int64 { return a.Month })
}

func (d *DisplayUser) sum(field func(*TotalAndMonthAmount) int64) *int64 {
	var (
		total int64
		found bool
	)
	for _, a := range []*TotalAndMonthAmount{d.Github, d.Opencollective} {
		if a != nil {
			total += field(a)
			found = true
		}
	}
	if !found {
		return nil
	}
	return &total
}
