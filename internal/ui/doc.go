// Package ui renders CLI output with [lipgloss] styles.
//
// [Palette] holds the named styles shared by the commands, and [AccountTable] draws the
// account listing printed by `setlist accounts list`.
package ui
