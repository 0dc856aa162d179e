package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/shared"
)

const accountColumns = `id, sequence, username, email, password_hash, provider_id, access_token, refresh_token,
	token_expiry, version, created_at, updated_at, deleted_at`

var _ models.Repository[*models.Account] = (*AccountRepository)(nil)

// AccountRepository implements [models.Repository] for [models.Account] persistence.
//
// Token fields are only written through single-statement updates ([AccountRepository.UpdateTokens],
// [AccountRepository.AttachIdentity], [AccountRepository.UpsertByProvider]) so concurrent
// refreshes cannot lose each other's writes.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new [AccountRepository] with the given database connection
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account into the database with generated ID and sequence
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "accounts")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO accounts (id, sequence, username, email, password_hash, provider_id, access_token, refresh_token,
			token_expiry, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		id,
		sequence,
		account.Username(),
		account.Email(),
		nullString(account.PasswordHash()),
		nullString(account.ProviderID()),
		account.AccessToken(),
		account.RefreshToken(),
		nullTime(account.TokenExpiry()),
		account.Version(),
		account.CreatedAt(),
		account.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", mapConstraint(err))
	}

	account.SetID(id)
	account.SetSequence(sequence)
	return nil
}

// Get retrieves an account by ID, excluding soft-deleted accounts
func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, "id = ?", id)
}

// GetByUsername retrieves an account by its unique username
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.findOne(ctx, "username = ?", username)
}

// FindByEmail retrieves an account by email
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, "email = ?", models.NormalizeEmail(email))
}

// FindByProviderID retrieves the account linked to the given provider identity
func (r *AccountRepository) FindByProviderID(ctx context.Context, providerID string) (*models.Account, error) {
	return r.findOne(ctx, "provider_id = ?", providerID)
}

// FindByProviderIDOrEmail retrieves an account matching either the provider identity or the email.
// A provider match is preferred when both exist.
func (r *AccountRepository) FindByProviderIDOrEmail(ctx context.Context, providerID, email string) (*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts
		WHERE deleted_at IS NULL AND (provider_id = ? OR email = ?)
		ORDER BY CASE WHEN provider_id = ? THEN 0 ELSE 1 END
		LIMIT 1
	`, accountColumns)

	email = models.NormalizeEmail(email)
	return scanAccount(r.db.QueryRowContext(ctx, query, providerID, email, providerID))
}

// Update writes the account's profile fields if its version still matches the stored one.
//
// Returns [ErrVersionConflict] when another writer got there first.
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	query := `
		UPDATE accounts
		SET username = ?, email = ?, password_hash = ?, provider_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		account.Username(),
		account.Email(),
		nullString(account.PasswordHash()),
		nullString(account.ProviderID()),
		now,
		account.ID(),
		account.Version(),
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", mapConstraint(err))
	}

	if err := r.checkVersioned(ctx, result, account.ID()); err != nil {
		return err
	}

	account.SetVersion(account.Version() + 1)
	account.SetUpdatedAt(now)
	return nil
}

// UpdateTokens stores freshly issued tokens in a single statement.
// An empty refresh token leaves the stored one in place.
func (r *AccountRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = ?,
			refresh_token = COALESCE(NULLIF(?, ''), refresh_token),
			token_expiry = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, nullTime(expiry), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	return affected(result, "account", id)
}

// AttachIdentity links a provider identity and its tokens to the account, conditional on the
// account's current version. The email is left untouched.
//
// On success the in-memory account reflects the stored state.
func (r *AccountRepository) AttachIdentity(ctx context.Context, account *models.Account, providerID string, token Tokens) error {
	now := time.Now()
	query := `
		UPDATE accounts
		SET provider_id = ?,
			access_token = ?,
			refresh_token = COALESCE(NULLIF(?, ''), refresh_token),
			token_expiry = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		providerID,
		token.AccessToken,
		token.RefreshToken,
		nullTime(token.Expiry),
		now,
		account.ID(),
		account.Version(),
	)
	if err != nil {
		return fmt.Errorf("failed to attach identity: %w", mapConstraint(err))
	}

	if err := r.checkVersioned(ctx, result, account.ID()); err != nil {
		return err
	}

	account.SetProviderID(providerID)
	account.SetTokens(token.AccessToken, token.RefreshToken, token.Expiry)
	account.SetVersion(account.Version() + 1)
	account.SetUpdatedAt(now)
	return nil
}

// UpsertByProvider inserts the account, or, when an account already holds its provider identity,
// updates that account's tokens instead. Username, email, password hash and creation time are
// only set on insert.
func (r *AccountRepository) UpsertByProvider(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ProviderID() == "" {
		return nil, fmt.Errorf("validation failed: provider id is required for upsert")
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to generate sequence: %w", err)
	}

	query := `
		INSERT INTO accounts (id, sequence, username, email, password_hash, provider_id, access_token, refresh_token,
			token_expiry, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (provider_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = COALESCE(NULLIF(excluded.refresh_token, ''), accounts.refresh_token),
			token_expiry = excluded.token_expiry,
			version = accounts.version + 1,
			updated_at = excluded.updated_at
		RETURNING id
	`

	var id string
	err = r.db.QueryRowContext(ctx, query,
		shared.GenerateID(),
		sequence,
		account.Username(),
		account.Email(),
		nullString(account.PasswordHash()),
		account.ProviderID(),
		account.AccessToken(),
		account.RefreshToken(),
		nullTime(account.TokenExpiry()),
		account.CreatedAt(),
		time.Now(),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", mapConstraint(err))
	}

	return r.Get(ctx, id)
}

// Delete soft-deletes an account by ID
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	return affected(result, "account", id)
}

// List retrieves all accounts matching the given criteria, excluding soft-deleted accounts.
//
// Supported criteria: "email" (string) and "linked" (bool).
func (r *AccountRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE deleted_at IS NULL", accountColumns)
	args := []any{}

	if email, ok := criteria["email"].(string); ok && email != "" {
		query += " AND email = ?"
		args = append(args, models.NormalizeEmail(email))
	}

	if linked, ok := criteria["linked"].(bool); ok {
		if linked {
			query += " AND provider_id IS NOT NULL"
		} else {
			query += " AND provider_id IS NULL"
		}
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return accounts, nil
}

// Count returns the number of live accounts.
func (r *AccountRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE deleted_at IS NULL").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

func (r *AccountRepository) findOne(ctx context.Context, where string, arg any) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE %s AND deleted_at IS NULL", accountColumns, where)
	return scanAccount(r.db.QueryRowContext(ctx, query, arg))
}

// checkVersioned distinguishes a lost race from a missing row after a conditional update.
func (r *AccountRepository) checkVersioned(ctx context.Context, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: account %s", ErrVersionConflict, id)
}

// Tokens is the provider token triple persisted on an account.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

func scanAccount(row scanner) (*models.Account, error) {
	var (
		id           string
		sequence     int
		username     string
		email        string
		passwordHash sql.NullString
		providerID   sql.NullString
		accessToken  string
		refreshToken string
		tokenExpiry  sql.NullTime
		version      int
		createdAt    time.Time
		updatedAt    time.Time
		deletedAt    sql.NullTime
	)

	err := row.Scan(&id, &sequence, &username, &email, &passwordHash, &providerID, &accessToken, &refreshToken,
		&tokenExpiry, &version, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	account := models.NewAccount(sequence, username, email)
	account.SetID(id)
	account.SetPasswordHash(passwordHash.String)
	account.SetProviderID(providerID.String)
	account.SetTokens(accessToken, refreshToken, tokenExpiry.Time)
	account.SetVersion(version)
	account.SetCreatedAt(createdAt)
	account.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		account.SetDeletedAt(&deletedAt.Time)
	}

	return account, nil
}
