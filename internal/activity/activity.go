package activity

import (
	"sync"
	"time"
)

// SyncActivity represents the current state of one (account, family)
// sync cycle.
type SyncActivity struct {
	AccountID   string     `json:"account_id"`
	AccountName string     `json:"account_name"`
	Family      string     `json:"family"`
	Status      string     `json:"status"` // "running", "completed", "partial", "error"
	Pulled      int        `json:"pulled"`
	Pushed      int        `json:"pushed"`
	Deleted     int        `json:"deleted"`
	Skipped     int        `json:"skipped"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Message     string     `json:"message,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
}

// Tracker tracks sync activity across all accounts.
type Tracker struct {
	mu             sync.RWMutex
	active         map[string]*SyncActivity // accountID+family -> activity
	recent         []*SyncActivity          // Recently completed syncs
	maxRecentSyncs int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:         make(map[string]*SyncActivity),
		recent:         make([]*SyncActivity, 0),
		maxRecentSyncs: 20, // Keep last 20 completed syncs
	}
}

func key(accountID, family string) string {
	return accountID + "/" + family
}

// StartSync begins tracking a new sync cycle.
func (t *Tracker) StartSync(accountID, accountName, family string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[key(accountID, family)] = &SyncActivity{
		AccountID:   accountID,
		AccountName: accountName,
		Family:      family,
		Status:      "running",
		StartedAt:   time.Now(),
	}
}

// UpdateProgress updates cycle progress counters.
func (t *Tracker) UpdateProgress(accountID, family string, pulled, pushed, deleted, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if activity, exists := t.active[key(accountID, family)]; exists {
		activity.Pulled = pulled
		activity.Pushed = pushed
		activity.Deleted = deleted
		activity.Skipped = skipped
	}
}

// FinishSync marks a cycle as completed and moves it to recent.
func (t *Tracker) FinishSync(accountID, family string, success bool, message string, errors []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	activity, exists := t.active[key(accountID, family)]
	if !exists {
		return
	}

	now := time.Now()
	activity.CompletedAt = &now
	activity.Duration = now.Sub(activity.StartedAt).Round(time.Millisecond).String()
	activity.Message = message
	activity.Errors = errors

	if success {
		if len(errors) > 0 {
			activity.Status = "partial"
		} else {
			activity.Status = "completed"
		}
	} else {
		activity.Status = "error"
	}

	// Move to recent list
	t.recent = append([]*SyncActivity{activity}, t.recent...)
	if len(t.recent) > t.maxRecentSyncs {
		t.recent = t.recent[:t.maxRecentSyncs]
	}

	// Remove from active
	delete(t.active, key(accountID, family))
}

// GetActive returns all currently active syncs.
func (t *Tracker) GetActive() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, 0, len(t.active))
	for _, activity := range t.active {
		// Create a copy to avoid race conditions
		copy := *activity
		copy.Duration = time.Since(activity.StartedAt).Round(time.Millisecond).String()
		result = append(result, &copy)
	}
	return result
}

// GetRecent returns recently completed syncs.
func (t *Tracker) GetRecent() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, len(t.recent))
	for i, activity := range t.recent {
		copy := *activity
		result[i] = &copy
	}
	return result
}

// GetAll returns both active and recent syncs.
func (t *Tracker) GetAll() map[string]interface{} {
	return map[string]interface{}{
		"active": t.GetActive(),
		"recent": t.GetRecent(),
	}
}

// IsAccountSyncing returns true if any family of the given account is
// currently syncing.
func (t *Tracker) IsAccountSyncing(accountID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, activity := range t.active {
		if activity.AccountID == accountID {
			return true
		}
	}
	return false
}
