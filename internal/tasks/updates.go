package tasks

import (
	"fmt"

	"github.com/desertthunder/setlist/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server logs.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ResolvePlaylist Phase = iota
	LookupTracks
	SaveSongs
)

func (p Phase) String() string {
	switch p {
	case ResolvePlaylist:
		return "resolve_playlist"
	case LookupTracks:
		return "lookup_tracks"
	case SaveSongs:
		return "save_songs"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func resolvePlaylistUpdate(playlist *models.Playlist, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolvePlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Importing %d tracks into %s", total, playlist.Title()),
		Data:    playlist,
	}
}

func lookupTrackUpdate(step, total int, trackID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LookupTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Looking up %s...", step, total, trackID),
	}
}

func savedSongUpdate(step, total int, song *models.Song) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SaveSongs,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s - %s", step, total, song.Artist(), song.Title()),
		Data:    song,
	}
}

func failedTrackUpdate(step, total int, trackID string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SaveSongs,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, trackID, err),
	}
}
