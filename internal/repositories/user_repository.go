package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/pkg/database"
)

// identityTable describes where a provider's identities live.
type identityTable struct {
	name           string
	idColumn       string
	usernameColumn string
	tokenColumn    string // empty when the provider stores no token
}

var identityTables = map[models.Provider]identityTable{
	models.ProviderGitHub: {
		name:           "github_users",
		idColumn:       "github_id",
		usernameColumn: "github_username",
		tokenColumn:    "github_auth_token",
	},
	models.ProviderOpenCollective: {
		name:           "opencollective_users",
		idColumn:       "opencollective_id",
		usernameColumn: "opencollective_username",
	},
}

func tableFor(provider models.Provider) (identityTable, error) {
	table, ok := identityTables[provider]
	if !ok {
		return identityTable{}, apperror.ValidationFailed("provider", "unknown identity provider "+string(provider))
	}
	return table, nil
}

const selectUserWithIdentities = `
	SELECT u.user_id, u.username,
	       g.github_id, g.github_username, g.github_auth_token, g.total_cents, g.month_cents, g.last_checked,
	       o.opencollective_id, o.opencollective_username, o.total_cents, o.month_cents, o.last_checked
	FROM users u
	LEFT JOIN github_users g ON g.user_id = u.user_id
	LEFT JOIN opencollective_users o ON o.user_id = u.user_id
`

// UserRepository is the identity store: users and their linked GitHub and
// OpenCollective identities.
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

// GetByUsername loads a user with both identities and their cached amounts in one read.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(selectUserWithIdentities+` WHERE u.username = ?`), username)
	user, err := scanUserWithIdentities(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound(apperror.UserNotVerified)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %q: %w", username, err)
	}
	return user, nil
}

// GetByID loads a user with both identities by id.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(selectUserWithIdentities+` WHERE u.user_id = ?`), userID)
	user, err := scanUserWithIdentities(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound(apperror.UserNotVerified)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	return user, nil
}

// UpdateUsername renames a user. It returns false, leaving every row untouched,
// when the name already belongs to another user.
func (r *UserRepository) UpdateUsername(ctx context.Context, userID int64, username string) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET username = ? WHERE user_id = ?`), username, userID)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("renaming user %d: %w", userID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, apperror.NotFound(apperror.UserNotVerified)
	}
	return true, nil
}

// UpdateAmount overwrites the cached amount of one of the user's identities.
// Identity linkage is left alone.
func (r *UserRepository) UpdateAmount(ctx context.Context, userID int64, identity models.ExternalIdentity) error {
	table, err := tableFor(identity.Provider)
	if err != nil {
		return err
	}
	total, month, checked := amountArgs(identity.Amount)
	query := fmt.Sprintf(`UPDATE %s SET total_cents = ?, month_cents = ?, last_checked = ? WHERE user_id = ? AND %s = ?`,
		table.name, table.idColumn)
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), total, month, checked, userID, identity.ExternalID)
	if err != nil {
		return fmt.Errorf("updating %s amount for user %d: %w", identity.Provider, userID, err)
	}
	return nil
}

// InTx runs fn in one transaction. Reconciliation uses it so the read-decide-write
// sequence for an external id is a single unit of work.
func (r *UserRepository) InTx(ctx context.Context, fn func(tx *UserTx) error) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(&UserTx{tx: tx, db: r.db})
	})
}

// UserTx exposes the identity store operations bound to an open transaction.
type UserTx struct {
	tx *sql.Tx
	db *database.DB
}

// LockIdentity serialises transactions touching the same external id. SQLite
// transactions already hold the write lock from BEGIN IMMEDIATE.
func (t *UserTx) LockIdentity(ctx context.Context, provider models.Provider, externalID string) error {
	if t.db.Dialect != database.DialectPostgres {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(provider)+":"+externalID)
	if err != nil {
		return fmt.Errorf("locking %s identity: %w", provider, err)
	}
	return nil
}

// FindUser returns the user row for userID, or nil when it does not exist.
func (t *UserTx) FindUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := t.tx.QueryRowContext(ctx, t.db.Rebind(`SELECT user_id, username FROM users WHERE user_id = ?`), userID).
		Scan(&user.UserID, &user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user %d: %w", userID, err)
	}
	return &user, nil
}

// FindOwner returns the user the external id is linked to, or nil.
func (t *UserTx) FindOwner(ctx context.Context, provider models.Provider, externalID string) (*models.User, error) {
	table, err := tableFor(provider)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT u.user_id, u.username FROM users u JOIN %s i ON i.user_id = u.user_id WHERE i.%s = ?`,
		table.name, table.idColumn)

	var user models.User
	err = t.tx.QueryRowContext(ctx, t.db.Rebind(query), externalID).Scan(&user.UserID, &user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding owner of %s identity: %w", provider, err)
	}
	return &user, nil
}

func (t *UserTx) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, t.db.Rebind(`SELECT EXISTS (SELECT 1 FROM users WHERE username = ?)`), username).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return exists, nil
}

// CreateUser inserts a user. A taken username yields an ErrConflict and leaves
// the transaction usable.
func (t *UserTx) CreateUser(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{Username: username}
	err := t.tx.QueryRowContext(ctx,
		t.db.Rebind(`INSERT INTO users (username) VALUES (?) ON CONFLICT (username) DO NOTHING RETURNING user_id`),
		username,
	).Scan(&user.UserID)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return nil, apperror.Conflict("username", username)
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a user; linked identities go with it.
func (t *UserTx) DeleteUser(ctx context.Context, userID int64) error {
	_, err := t.tx.ExecContext(ctx, t.db.Rebind(`DELETE FROM users WHERE user_id = ?`), userID)
	if err != nil {
		return fmt.Errorf("deleting user %d: %w", userID, err)
	}
	return nil
}

// UpsertIdentity links identity to userID. An existing row for the same external
// id takes the new username, token and owner; its cached amount is replaced only
// when identity carries one. Any other identity of the same provider held by the
// user is dropped first.
func (t *UserTx) UpsertIdentity(ctx context.Context, userID int64, identity models.ExternalIdentity) error {
	table, err := tableFor(identity.Provider)
	if err != nil {
		return err
	}

	drop := fmt.Sprintf(`DELETE FROM %s WHERE user_id = ? AND %s <> ?`, table.name, table.idColumn)
	if _, err := t.tx.ExecContext(ctx, t.db.Rebind(drop), userID, identity.ExternalID); err != nil {
		return fmt.Errorf("replacing %s identity of user %d: %w", identity.Provider, userID, err)
	}

	total, month, checked := amountArgs(identity.Amount)
	columns := fmt.Sprintf("user_id, %s, %s", table.idColumn, table.usernameColumn)
	placeholders := "?, ?, ?"
	args := []any{userID, identity.ExternalID, identity.Username}
	updates := fmt.Sprintf("user_id = excluded.user_id, %[1]s = excluded.%[1]s", table.usernameColumn)
	if table.tokenColumn != "" {
		columns += ", " + table.tokenColumn
		placeholders += ", ?"
		args = append(args, nullString(identity.AuthToken))
		updates += fmt.Sprintf(", %[1]s = excluded.%[1]s", table.tokenColumn)
	}
	for _, column := range []string{"total_cents", "month_cents", "last_checked"} {
		updates += fmt.Sprintf(", %[1]s = COALESCE(excluded.%[1]s, %[2]s.%[1]s)", column, table.name)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, total_cents, month_cents, last_checked)
		VALUES (%s, ?, ?, ?)
		ON CONFLICT (%s) DO UPDATE SET %s`,
		table.name, columns, placeholders, table.idColumn, updates)
	args = append(args, total, month, checked)

	if _, err := t.tx.ExecContext(ctx, t.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("upserting %s identity: %w", identity.Provider, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserWithIdentities(row rowScanner) (*models.User, error) {
	var (
		user                      models.User
		ghID, ghUsername, ghToken sql.NullString
		ghTotal, ghMonth          sql.NullInt64
		ghChecked                 sql.NullTime
		ocID, ocUsername          sql.NullString
		ocTotal, ocMonth          sql.NullInt64
		ocChecked                 sql.NullTime
	)
	err := row.Scan(
		&user.UserID, &user.Username,
		&ghID, &ghUsername, &ghToken, &ghTotal, &ghMonth, &ghChecked,
		&ocID, &ocUsername, &ocTotal, &ocMonth, &ocChecked,
	)
	if err != nil {
		return nil, err
	}

	if ghID.Valid {
		user.GithubUser = &models.GithubUser{
			GithubID:       ghID.String,
			GithubUsername: ghUsername.String,
			Amount:         scanAmount(ghTotal, ghMonth, ghChecked),
		}
		if ghToken.Valid {
			token := ghToken.String
			user.GithubUser.GithubAuthToken = &token
		}
	}
	if ocID.Valid {
		user.OpencollectiveUser = &models.OpencollectiveUser{
			OpencollectiveID:       ocID.String,
			OpencollectiveUsername: ocUsername.String,
			Amount:                 scanAmount(ocTotal, ocMonth, ocChecked),
		}
	}
	return &user, nil
}

func scanAmount(total, month sql.NullInt64, checked sql.NullTime) *models.TotalAndMonthAmount {
	if !total.Valid || !month.Valid {
		return nil
	}
	amount := &models.TotalAndMonthAmount{Total: total.Int64, Month: month.Int64}
	if checked.Valid {
		amount.LastChecked = checked.Time.UTC()
	}
	return amount
}

func amountArgs(amount *models.TotalAndMonthAmount) (total, month, checked any) {
	if amount == nil {
		return nil, nil, nil
	}
	lastChecked := amount.LastChecked
	if lastChecked.IsZero() {
		lastChecked = time.Now()
	}
	return amount.Total, amount.Month, lastChecked.UTC()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
