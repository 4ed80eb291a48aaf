package scheduler

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/macjediwizard/officebridge/internal/activity"
	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/notify"
	syncengine "github.com/macjediwizard/officebridge/internal/sync"
)

const (
	cleanupInterval  = 24 * time.Hour
	logRetentionDays = 30
	syncTimeout      = 15 * time.Minute // Maximum time for one full account cycle
)

// Job represents a scheduled sync job for one office account.
type Job struct {
	accountID string
	interval  time.Duration
	ticker    *time.Ticker
	stopCh    chan struct{}
}

// Scheduler manages background sync jobs, one per enabled account.
type Scheduler struct {
	db       *db.DB
	engine   *syncengine.Engine
	tracker  *activity.Tracker
	notifier *notify.Notifier
	interval time.Duration

	mu        sync.RWMutex
	jobs      map[string]*Job
	syncLocks map[string]*sync.Mutex // Per-account locks to prevent concurrent cycles
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
}

// New creates a new scheduler. interval is the default cycle interval
// applied to every enabled account.
func New(database *db.DB, engine *syncengine.Engine, tracker *activity.Tracker, notifier *notify.Notifier, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:        database,
		engine:    engine,
		tracker:   tracker,
		notifier:  notifier,
		interval:  interval,
		jobs:      make(map[string]*Job),
		syncLocks: make(map[string]*sync.Mutex),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start loads all enabled accounts and starts their sync jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	accounts, err := s.db.GetEnabledOfficeAccounts()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		s.AddJob(account.ID, s.interval)
	}

	s.wg.Add(1)
	go s.cleanupRoutine()

	log.Printf("Scheduler started with %d jobs", len(accounts))
	return nil
}

// Stop gracefully shuts down all jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()

	s.mu.Lock()
	for _, job := range s.jobs {
		close(job.stopCh)
		job.ticker.Stop()
	}
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// AddJob adds or replaces a sync job for an account.
func (s *Scheduler) AddJob(accountID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.jobs[accountID]; exists {
		close(existing.stopCh)
		existing.ticker.Stop()
	}

	job := &Job{
		accountID: accountID,
		interval:  interval,
		ticker:    time.NewTicker(interval),
		stopCh:    make(chan struct{}),
	}

	s.jobs[accountID] = job

	s.wg.Add(1)
	go s.runJob(job)

	log.Printf("Added sync job for account %s with interval %v", accountID, interval)
}

// RemoveJob removes a sync job.
func (s *Scheduler) RemoveJob(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[accountID]; exists {
		close(job.stopCh)
		job.ticker.Stop()
		delete(s.jobs, accountID)
		log.Printf("Removed sync job for account %s", accountID)
	}
}

// UpdateJobInterval updates the interval for an existing job.
func (s *Scheduler) UpdateJobInterval(accountID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[accountID]; exists {
		job.ticker.Stop()
		job.interval = interval
		job.ticker = time.NewTicker(interval)
		log.Printf("Updated sync interval for account %s to %v", accountID, interval)
	}
}

// TriggerSync manually triggers a full cycle for an account.
func (s *Scheduler) TriggerSync(accountID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeSync(accountID)
	}()
}

// TriggerFamilySync manually triggers a single family cycle for an account.
func (s *Scheduler) TriggerFamilySync(accountID string, family db.SyncFamily) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		account, err := s.db.GetOfficeAccountByID(accountID)
		if err != nil {
			log.Printf("Failed to get account %s: %v", accountID, err)
			return
		}
		if !account.Enabled {
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, syncTimeout)
		defer cancel()

		lock := s.getSyncLock(accountID)
		if !lock.TryLock() {
			log.Printf("Skipping %s sync for account %s: another sync is already in progress", family, account.Name)
			return
		}
		defer lock.Unlock()

		s.runFamily(ctx, account, family)
	}()
}

// GetJobCount returns the number of active jobs.
func (s *Scheduler) GetJobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// runJob runs the sync job loop.
func (s *Scheduler) runJob(job *Job) {
	defer s.wg.Done()

	// Run immediately on start
	s.executeSync(job.accountID)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-job.stopCh:
			return
		case <-job.ticker.C:
			s.executeSync(job.accountID)
		}
	}
}

// getSyncLock returns the mutex for an account, creating one if needed.
func (s *Scheduler) getSyncLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, exists := s.syncLocks[accountID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.syncLocks[accountID] = lock
	return lock
}

// executeSync runs all three family cycles for an account.
func (s *Scheduler) executeSync(accountID string) {
	lock := s.getSyncLock(accountID)

	// Skip if another cycle is in progress rather than queueing behind it.
	if !lock.TryLock() {
		log.Printf("Skipping sync for account %s: another sync is already in progress", accountID)
		return
	}
	defer lock.Unlock()

	account, err := s.db.GetOfficeAccountByID(accountID)
	if err != nil {
		log.Printf("Failed to get account %s: %v", accountID, err)
		return
	}
	if !account.Enabled {
		return
	}

	log.Printf("Starting sync cycle for account %s (%s)", account.Name, accountID)

	ctx, cancel := context.WithTimeout(s.ctx, syncTimeout)
	defer cancel()

	for _, family := range []db.SyncFamily{db.FamilyContacts, db.FamilyCalendars, db.FamilyMail} {
		s.runFamily(ctx, account, family)
	}
}

// runFamily runs one family cycle with activity tracking and alerting.
func (s *Scheduler) runFamily(ctx context.Context, account *db.OfficeAccount, family db.SyncFamily) {
	if s.tracker != nil {
		s.tracker.StartSync(account.ID, account.Name, string(family))
	}

	var result *syncengine.Result
	switch family {
	case db.FamilyContacts:
		result = s.engine.SyncContacts(ctx, account)
	case db.FamilyCalendars:
		result = s.engine.SyncCalendars(ctx, account)
	case db.FamilyMail:
		result = s.engine.SyncMail(ctx, account, "")
	default:
		return
	}

	if s.tracker != nil {
		s.tracker.UpdateProgress(account.ID, string(family), result.Pulled, result.Pushed, result.Deleted, result.Skipped)
		s.tracker.FinishSync(account.ID, string(family), result.Success, result.Message, result.Errors)
	}

	if s.notifier != nil {
		if result.Success {
			s.notifier.SendRecoveryAlert(s.ctx, account.ID, account.Name, string(family))
		} else {
			detail := result.Message
			if len(result.Errors) > 0 {
				detail = strings.Join(result.Errors, "; ")
			}
			s.notifier.SendFailureAlert(s.ctx, account.ID, account.Name, string(family), detail)
		}
	}
}

// cleanupRoutine runs periodic cleanup of old sync logs.
func (s *Scheduler) cleanupRoutine() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOldLogs()
		}
	}
}

// cleanupOldLogs deletes sync logs older than the retention period.
func (s *Scheduler) cleanupOldLogs() {
	cutoff := time.Now().AddDate(0, 0, -logRetentionDays)
	deleted, err := s.db.CleanOldSyncLogs(cutoff)
	if err != nil {
		log.Printf("Failed to clean old sync logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Cleaned %d old sync logs", deleted)
	}
}
