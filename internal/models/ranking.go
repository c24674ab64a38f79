package models

// RankedUser is one row of the ranked snapshot.
type RankedUser struct {
	Username   string `json:"username"`
	TotalCents int64  `json:"total_cents"`
	MonthCents int64  `json:"month_cents"`
	TotalRank  int64  `json:"total_rank"`
	MonthRank  int64  `json:"month_rank"`
}

// UnrankedPosition marks a rank that could not be computed.
const UnrankedPosition = -1

// UserRank is the position an amount pair would take in the ranked snapshot.
type UserRank struct {
	TotalRank  int64 `json:"total_rank"`
	MonthRank  int64 `json:"month_rank"`
	TotalUsers int64 `json:"total_users"`
}

// Unranked is returned for users without any cached amount.
func Unranked() UserRank {
	return UserRank{TotalRank: UnrankedPosition, MonthRank: UnrankedPosition, TotalUsers: UnrankedPosition}
}
