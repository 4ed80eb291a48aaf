package sync

import (
	"time"
)

// RemoteStamps are the timestamps a Graph record carries.
type RemoteStamps struct {
	Created  time.Time // zero when absent
	Modified time.Time // zero when absent
}

// LocalStamps are the timestamps a local record carries.
type LocalStamps struct {
	CreatedOn time.Time
	UpdatedOn time.Time // zero when never updated
}

// NeedsPull decides whether a remote record should overwrite the local
// one. It returns false when any of the skip rules hold: the remote
// change predates the last sync, or the local side is newer than the
// remote modification.
func NeedsPull(remote RemoteStamps, local LocalStamps, lastSync *time.Time) bool {
	hasModified := !remote.Modified.IsZero()
	hasUpdated := !local.UpdatedOn.IsZero()

	if hasModified && lastSync != nil && remote.Modified.Before(*lastSync) {
		return false
	}
	if hasModified && hasUpdated && local.UpdatedOn.After(remote.Modified) {
		return false
	}
	if hasModified && !hasUpdated && local.CreatedOn.After(remote.Modified) {
		return false
	}
	if !hasModified && !remote.Created.IsZero() && lastSync != nil && remote.Created.Before(*lastSync) {
		return false
	}

	return true
}

// Window is the delta window bounding which events a cycle considers.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAround builds the symmetric window [now-weeks, now+weeks].
func WindowAround(now time.Time, weeks int) Window {
	delta := time.Duration(weeks) * 7 * 24 * time.Hour
	return Window{Start: now.Add(-delta), End: now.Add(delta)}
}

// Contains reports whether t lies inside the window (inclusive bounds).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// CoversSpan reports whether either endpoint of [start, end] lies inside
// the window.
func (w Window) CoversSpan(start, end time.Time) bool {
	return w.Contains(start) || w.Contains(end)
}
