// package formatter provides functions to export playlist data to various formats (CSV, Markdown, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/shared"
)

// Format is a playlist export format.
type Format string

const (
	CSV      Format = "csv"
	Markdown Format = "markdown"
	Text     Format = "text"
	JSON     Format = "json"
)

// ParseFormat resolves a format name, accepting the aliases "md" and "txt". An empty name selects JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "csv":
		return CSV, nil
	case "markdown", "md":
		return Markdown, nil
	case "text", "txt":
		return Text, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, name)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case Markdown:
		return "text/markdown; charset=utf-8"
	case Text:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Extension returns the file extension used for downloads, without the dot.
func (f Format) Extension() string {
	switch f {
	case Markdown:
		return "md"
	case Text:
		return "txt"
	default:
		return string(f)
	}
}

// Export renders the playlist in the given format.
func Export(export *models.PlaylistExport, format Format) ([]byte, error) {
	switch format {
	case CSV:
		return ExportToCSV(export)
	case Markdown:
		return ExportToMarkdown(export)
	case Text:
		return ExportToText(export)
	default:
		return shared.MarshalJSON(export, true)
	}
}

// ExportToCSV converts a PlaylistExport to CSV format with columns: ID, Title, Artist, Album, Duration, Spotify ID
func ExportToCSV(export *models.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Title", "Artist", "Album", "Duration", "Spotify ID"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, song := range export.Songs {
		record := []string{
			song.ID(),
			song.Title(),
			song.Artist(),
			song.Album(),
			strconv.Itoa(song.Duration()),
			song.SpotifyID(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a PlaylistExport to Markdown format, including the cover image when set
func ExportToMarkdown(export *models.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer
	playlist := export.Playlist

	buf.WriteString(fmt.Sprintf("# %s\n\n", playlist.Title()))

	if playlist.CoverImage() != "" {
		buf.WriteString(fmt.Sprintf("![Cover](%s)\n\n", playlist.CoverImage()))
	}

	if playlist.Description() != "" {
		buf.WriteString(fmt.Sprintf("**Description**: %s\n\n", playlist.Description()))
	}

	buf.WriteString(fmt.Sprintf("**Tracks**: %d\n", len(export.Songs)))
	buf.WriteString(fmt.Sprintf("**Visibility**: %s\n\n", shared.VisibilityString(playlist.Public())))

	buf.WriteString("## Tracks\n\n")
	for i, song := range export.Songs {
		duration := shared.FormatDuration(song.Duration())
		albumPart := ""
		if song.Album() != "" {
			albumPart = fmt.Sprintf(" (%s)", song.Album())
		}
		title := song.Title()
		if song.SpotifyLink() != "" {
			title = fmt.Sprintf("[%s](%s)", title, song.SpotifyLink())
		}
		buf.WriteString(fmt.Sprintf("%d. %s - %s%s [%s]\n", i+1, song.Artist(), title, albumPart, duration))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a PlaylistExport to plain text format
func ExportToText(export *models.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Playlist: %s\n", export.Playlist.Title()))
	if export.Playlist.Description() != "" {
		buf.WriteString(fmt.Sprintf("Description: %s\n", export.Playlist.Description()))
	}
	buf.WriteString(fmt.Sprintf("Tracks: %d\n\n", len(export.Songs)))

	for i, song := range export.Songs {
		buf.WriteString(fmt.Sprintf("%d. %s - %s\n", i+1, song.Artist(), song.Title()))
	}

	return buf.Bytes(), nil
}

// Filename builds a download filename from the playlist title.
func Filename(playlist *models.Playlist, format Format) string {
	var b strings.Builder
	for _, r := range strings.ToLower(playlist.Title()) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		}
	}

	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = playlist.ID()
	}
	return name + "." + format.Extension()
}
