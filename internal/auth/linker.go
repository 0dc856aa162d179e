package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/shared"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	fallbackUsernamePrefix = "spotify_"
	maxUsernameAttempts    = 5
)

// AccountStore is the account persistence the linker and refresher depend on.
// [repositories.AccountRepository] implements it.
type AccountStore interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByProviderIDOrEmail(ctx context.Context, providerID, email string) (*models.Account, error)
	AttachIdentity(ctx context.Context, account *models.Account, providerID string, tokens repositories.Tokens) error
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	UpsertByProvider(ctx context.Context, account *models.Account) (*models.Account, error)
}

var _ AccountStore = (*repositories.AccountRepository)(nil)

// Linker reconciles a verified provider profile with local accounts.
type Linker struct {
	accounts AccountStore
	logger   *log.Logger
}

func NewLinker(accounts AccountStore, logger *log.Logger) *Linker {
	if logger == nil {
		logger = log.Default()
	}
	return &Linker{accounts: accounts, logger: logger}
}

// Link resolves profile to an account, evaluating in order:
//
//  1. another account holds the email under a different provider id: [ErrDuplicateAccount], nothing written
//  2. current is set: attach the identity and tokens to current, leaving its email alone
//  3. an account matches the provider id or the email: store the tokens, setting the provider id if missing
//  4. otherwise create an account with an unusable placeholder password
//
// Every branch ends in a single conditional write.
func (l *Linker) Link(ctx context.Context, profile *Profile, token *oauth2.Token, current *models.Account) (*models.Account, error) {
	if profile == nil || profile.Email == "" {
		return nil, ErrNoEmail
	}
	if profile.ID == "" || token == nil {
		return nil, fmt.Errorf("%w: incomplete profile", ErrAuthFailed)
	}

	email := models.NormalizeEmail(profile.Email)
	tokens := repositories.Tokens{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken, Expiry: token.Expiry}
	logger := l.logger.With("provider_id", profile.ID)

	if err := l.checkCollision(ctx, email, profile.ID, current); err != nil {
		logger.Warn("refusing to link identity", "err", err)
		return nil, err
	}

	if current != nil {
		account, err := l.attach(ctx, current, profile.ID, tokens, false)
		if err != nil {
			return nil, err
		}
		logger.Info("linked identity to signed-in account", "account", account.ID())
		return account, nil
	}

	existing, err := l.accounts.FindByProviderIDOrEmail(ctx, profile.ID, email)
	switch {
	case err == nil:
		account, err := l.updateExisting(ctx, existing, profile.ID, tokens)
		if err != nil {
			return nil, err
		}
		logger.Info("updated returning account", "account", account.ID())
		return account, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	account, err := l.create(ctx, profile, email, tokens)
	if err != nil {
		return nil, err
	}
	logger.Info("created account from identity", "account", account.ID(), "username", account.Username())
	return account, nil
}

// checkCollision fails when the email belongs to another account linked to a different identity.
// The signed-in account never collides with itself.
func (l *Linker) checkCollision(ctx context.Context, email, providerID string, current *models.Account) error {
	holder, err := l.accounts.FindByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if current != nil && holder.ID() == current.ID() {
		return nil
	}
	if holder.HasExternalIdentity() && holder.ProviderID() != providerID {
		return ErrDuplicateAccount
	}
	return nil
}

func (l *Linker) updateExisting(ctx context.Context, account *models.Account, providerID string, tokens repositories.Tokens) (*models.Account, error) {
	if account.ProviderID() == providerID {
		if err := l.accounts.UpdateTokens(ctx, account.ID(), tokens.AccessToken, tokens.RefreshToken, tokens.Expiry); err != nil {
			return nil, l.writeError(err)
		}
		account.SetTokens(tokens.AccessToken, tokens.RefreshToken, tokens.Expiry)
		account.SetVersion(account.Version() + 1)
		return account, nil
	}
	return l.attach(ctx, account, providerID, tokens, true)
}

// attach writes the identity conditional on the account's version, reloading and retrying once
// after a lost race. With guard set, a reload that shows a different identity is a collision.
func (l *Linker) attach(ctx context.Context, account *models.Account, providerID string, tokens repositories.Tokens, guard bool) (*models.Account, error) {
	for attempt := 0; ; attempt++ {
		if guard && account.HasExternalIdentity() && account.ProviderID() != providerID {
			return nil, ErrDuplicateAccount
		}

		err := l.accounts.AttachIdentity(ctx, account, providerID, tokens)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, repositories.ErrVersionConflict) || attempt > 0 {
			return nil, l.writeError(err)
		}

		l.logger.Debug("account changed during link, retrying", "account", account.ID())
		reloaded, err := l.accounts.Get(ctx, account.ID())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		account = reloaded
	}
}

func (l *Linker) create(ctx context.Context, profile *Profile, email string, tokens repositories.Tokens) (*models.Account, error) {
	placeholder, err := placeholderHash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	base := usernameFor(profile)
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			username = base + "_" + randomSuffix()
		}

		account := models.NewAccount(0, username, email)
		account.SetProviderID(profile.ID)
		account.SetPasswordHash(placeholder)
		account.SetTokens(tokens.AccessToken, tokens.RefreshToken, tokens.Expiry)

		created, err := l.accounts.UpsertByProvider(ctx, account)
		if err == nil {
			return created, nil
		}
		if !repositories.IsDuplicate(err, "username") {
			return nil, l.writeError(err)
		}
	}

	return nil, fmt.Errorf("%w: no free username for %q", ErrAuthFailed, base)
}

// writeError maps persistence failures onto the flow taxonomy.
func (l *Linker) writeError(err error) error {
	if repositories.IsDuplicate(err, "email") || repositories.IsDuplicate(err, "provider_id") {
		return ErrDuplicateAccount
	}
	l.logger.Error("account write failed", "err", err)
	return fmt.Errorf("%w: %v", ErrAuthFailed, err)
}

// usernameFor uses the display name when present, else a prefix plus the start of the provider id.
func usernameFor(profile *Profile) string {
	if name := strings.TrimSpace(profile.DisplayName); name != "" {
		return name
	}
	id := profile.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fallbackUsernamePrefix + id
}

// placeholderHash hashes a random secret that is immediately discarded, so no password matches it.
func placeholderHash() (string, error) {
	secret, err := shared.RandomToken(32)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash placeholder: %w", err)
	}
	return string(hash), nil
}

func randomSuffix() string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
