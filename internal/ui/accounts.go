package ui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/setlist/internal/models"
)

var accountHeaders = []string{"USERNAME", "EMAIL", "SPOTIFY", "TOKEN EXPIRY"}

// AccountTable renders accounts as a bordered table. Token expiry is shown relative to now.
func AccountTable(accounts []*models.Account, now time.Time) string {
	rows := make([][]string, 0, len(accounts))
	for _, account := range accounts {
		rows = append(rows, []string{account.Username(), account.Email(), linkStatus(account), expiryStatus(account, now)})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(Styles.help).
		Headers(accountHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			cell := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return cell.Inherit(Styles.title)
			}
			return cell
		}).
		String()
}

// linkStatus renders linked accounts as a badge and unlinked ones as a warning.
func linkStatus(account *models.Account) string {
	if account.HasExternalIdentity() {
		return Styles.On(" linked ", lipgloss.Color(colorOK))
	}
	return Styles.As("unlinked", lipgloss.Color(colorWarn))
}

func expiryStatus(account *models.Account, now time.Time) string {
	switch {
	case !account.HasExternalIdentity():
		return "-"
	case account.RefreshToken() == "":
		return "no refresh token"
	case account.TokenExpiry().IsZero():
		return "unknown"
	case account.TokenExpired(now):
		return "expired " + now.Sub(account.TokenExpiry()).Round(time.Second).String() + " ago"
	default:
		return "in " + account.TokenExpiry().Sub(now).Round(time.Second).String()
	}
}
