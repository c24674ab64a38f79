package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/pkg/database"
)

// rankedUsersQuery computes the snapshot rows. Missing identities count as zero
// and equal amounts share a rank.
const rankedUsersQuery = `
	SELECT username,
	       total_cents,
	       month_cents,
	       RANK() OVER (ORDER BY total_cents DESC) AS total_rank,
	       RANK() OVER (ORDER BY month_cents DESC) AS month_rank
	FROM (SELECT u.username,
	             COALESCE(g.total_cents, 0) + COALESCE(o.total_cents, 0) AS total_cents,
	             COALESCE(g.month_cents, 0) + COALESCE(o.month_cents, 0) AS month_cents
	      FROM users u
	      LEFT JOIN github_users g ON g.user_id = u.user_id
	      LEFT JOIN opencollective_users o ON o.user_id = u.user_id) amounts
`

// RankingRepository reads and refreshes the ranked_users snapshot.
type RankingRepository struct {
	db *database.DB
}

func NewRankingRepository(db *database.DB) *RankingRepository {
	return &RankingRepository{
		db: db,
	}
}

// Refresh recomputes the snapshot. Readers keep seeing the previous snapshot
// until the new one is complete.
func (r *RankingRepository) Refresh(ctx context.Context) error {
	if r.db.Dialect == database.DialectPostgres {
		if _, err := r.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY ranked_users`); err != nil {
			return fmt.Errorf("refreshing ranked_users: %w", err)
		}
		return nil
	}

	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ranked_users`); err != nil {
			return fmt.Errorf("clearing ranked_users: %w", err)
		}
		insert := `INSERT INTO ranked_users (username, total_cents, month_cents, total_rank, month_rank)` + rankedUsersQuery
		if _, err := tx.ExecContext(ctx, insert); err != nil {
			return fmt.Errorf("rebuilding ranked_users: %w", err)
		}
		return nil
	})
}

// RankedTotals returns the top maxNum users by total amount.
func (r *RankingRepository) RankedTotals(ctx context.Context, maxNum int) ([]models.RankedUser, error) {
	return r.ranked(ctx, "total_rank", maxNum)
}

// RankedMonths returns the top maxNum users by amount this month.
func (r *RankingRepository) RankedMonths(ctx context.Context, maxNum int) ([]models.RankedUser, error) {
	return r.ranked(ctx, "month_rank", maxNum)
}

func (r *RankingRepository) ranked(ctx context.Context, rankColumn string, maxNum int) ([]models.RankedUser, error) {
	query := fmt.Sprintf(`
		SELECT username, total_cents, month_cents, total_rank, month_rank
		FROM ranked_users
		ORDER BY %s ASC, username ASC
		LIMIT ?`, rankColumn)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), maxNum)
	if err != nil {
		return nil, fmt.Errorf("reading ranked users: %w", err)
	}
	defer rows.Close()

	ranked := []models.RankedUser{}
	for rows.Next() {
		var u models.RankedUser
		if err := rows.Scan(&u.Username, &u.TotalCents, &u.MonthCents, &u.TotalRank, &u.MonthRank); err != nil {
			return nil, err
		}
		ranked = append(ranked, u)
	}
	return ranked, rows.Err()
}

// RankingForAmount computes the position the given amounts would take in the
// current snapshot: one more than the number of users with a strictly greater
// amount. Nil amounts yield models.Unranked().
func (r *RankingRepository) RankingForAmount(ctx context.Context, monthAmount, totalAmount *int64) (models.UserRank, error) {
	if monthAmount == nil || totalAmount == nil {
		return models.Unranked(), nil
	}

	query := `
		SELECT (SELECT COUNT(*) FROM ranked_users WHERE total_cents > ?) + 1,
		       (SELECT COUNT(*) FROM ranked_users WHERE month_cents > ?) + 1,
		       (SELECT COUNT(*) FROM ranked_users)`

	var rank models.UserRank
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), *totalAmount, *monthAmount).
		Scan(&rank.TotalRank, &rank.MonthRank, &rank.TotalUsers)
	if err != nil {
		return models.UserRank{}, fmt.Errorf("computing rank: %w", err)
	}
	return rank, nil
}
