package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// LocalAccountStore is the persistence needed for password sign-up and sign-in.
type LocalAccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
}

// LocalAccounts handles username and password accounts.
type LocalAccounts struct {
	accounts LocalAccountStore
	logger   *log.Logger
	cost     int
}

func NewLocalAccounts(accounts LocalAccountStore, logger *log.Logger) *LocalAccounts {
	if logger == nil {
		logger = log.Default()
	}
	return &LocalAccounts{accounts: accounts, logger: logger, cost: bcrypt.DefaultCost}
}

// SetCost overrides the bcrypt cost; tests use [bcrypt.MinCost].
func (l *LocalAccounts) SetCost(cost int) { l.cost = cost }

// SignUp creates a password account.
func (l *LocalAccounts) SignUp(ctx context.Context, username, email, password, confirm string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, models.ErrMissingUsername
	}
	if len(password) < minPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if password != confirm {
		return nil, ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := models.NewAccount(0, username, email)
	account.SetPasswordHash(string(hash))

	if err := l.accounts.Create(ctx, account); err != nil {
		switch {
		case repositories.IsDuplicate(err, "username"):
			return nil, ErrUsernameTaken
		case repositories.IsDuplicate(err, "email"):
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	l.logger.Info("account created", "account", account.ID(), "username", username)
	return account, nil
}

// SignIn checks a username and password. Unknown users, accounts without a password and wrong
// passwords all yield [ErrInvalidCredentials].
func (l *LocalAccounts) SignIn(ctx context.Context, username, password string) (*models.Account, error) {
	account, err := l.accounts.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !account.Capabilities().HasPassword {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash()), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return account, nil
}
