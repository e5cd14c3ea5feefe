package background

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"drainvoice/internal/common"
	"drainvoice/internal/connectivity"
	"drainvoice/internal/logger"
	"drainvoice/internal/services"
)

const (
	PendingSyncJob = "pending-sync"
	LocalBackupJob = "local-backup"
)

// Syncer drains the pending queue.
type Syncer interface {
	SyncNow(ctx context.Context, force bool) (*services.SyncResult, error)
}

// Backupper uploads a snapshot of the local store.
type Backupper interface {
	Run(ctx context.Context) (*services.BackupInfo, error)
}

// Options sets the job intervals. A zero BackupInterval or nil backupper
// leaves the backup job out.
type Options struct {
	SyncInterval   time.Duration
	BackupInterval time.Duration
}

// JobInfo describes one registered job.
type JobInfo struct {
	Name    string    `json:"name"`
	LastRun time.Time `json:"lastRun,omitempty"`
	NextRun time.Time `json:"nextRun,omitempty"`
}

// JobScheduler runs the periodic sync and backup jobs.
type JobScheduler struct {
	scheduler gocron.Scheduler
	syncer    Syncer
	monitor   connectivity.Monitor
	backup    Backupper
	jobs      map[string]gocron.Job
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger
}

// NewJobScheduler creates the scheduler and registers its jobs. Jobs do not
// run until Start.
func NewJobScheduler(syncer Syncer, monitor connectivity.Monitor, backup Backupper, opts Options) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobScheduler{
		scheduler: scheduler,
		syncer:    syncer,
		monitor:   monitor,
		backup:    backup,
		jobs:      make(map[string]gocron.Job),
		ctx:       ctx,
		cancel:    cancel,
		log:       logger.WithComponent("scheduler"),
	}

	if err := js.registerJobs(opts); err != nil {
		cancel()
		scheduler.Shutdown()
		return nil, err
	}

	return js, nil
}

func (js *JobScheduler) Start() {
	js.log.Info().Int("jobs", len(js.jobs)).Msg("Starting background job scheduler")
	js.scheduler.Start()
}

func (js *JobScheduler) Stop() error {
	js.log.Info().Msg("Stopping background job scheduler")
	js.cancel()
	return js.scheduler.Shutdown()
}

func (js *JobScheduler) registerJobs(opts Options) error {
	if opts.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", opts.SyncInterval)
	}

	// A slow pass delays the next run instead of overlapping it.
	syncJob, err := js.scheduler.NewJob(
		gocron.DurationJob(opts.SyncInterval),
		gocron.NewTask(js.runPendingSync, js.ctx),
		gocron.WithName(PendingSyncJob),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create %s job: %w", PendingSyncJob, err)
	}
	js.jobs[PendingSyncJob] = syncJob

	if js.backup != nil && opts.BackupInterval > 0 {
		backupJob, err := js.scheduler.NewJob(
			gocron.DurationJob(opts.BackupInterval),
			gocron.NewTask(js.runBackup, js.ctx),
			gocron.WithName(LocalBackupJob),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("create %s job: %w", LocalBackupJob, err)
		}
		js.jobs[LocalBackupJob] = backupJob
	}

	js.log.Debug().Int("jobs", len(js.jobs)).Msg("Registered background jobs")
	return nil
}

// runPendingSync is the periodic retry for entries a reconnect pass left
// behind.
func (js *JobScheduler) runPendingSync(ctx context.Context) error {
	if !js.monitor.IsOnline() {
		js.log.Debug().Msg("Offline; periodic sync skipped")
		return nil
	}

	result, err := js.syncer.SyncNow(ctx, false)
	switch {
	case errors.Is(err, common.ErrSyncInProgress), errors.Is(err, common.ErrOffline):
		js.log.Debug().Err(err).Msg("Periodic sync skipped")
		return nil
	case err != nil:
		js.log.Error().Err(err).Msg("Periodic sync failed")
		return err
	}

	if result.Total > 0 {
		js.log.Info().
			Int("synced", result.Synced).
			Int("failed", result.Failed).
			Int("remaining", result.Remaining).
			Msg("Periodic sync finished")
	}
	return nil
}

func (js *JobScheduler) runBackup(ctx context.Context) error {
	if _, err := js.backup.Run(ctx); err != nil {
		js.log.Error().Err(err).Msg("Scheduled backup failed")
		return err
	}
	return nil
}

// RunNow triggers the named job outside its schedule.
func (js *JobScheduler) RunNow(name string) error {
	js.mu.RLock()
	job, ok := js.jobs[name]
	js.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s: %w", name, common.ErrNotFound)
	}
	return job.RunNow()
}

// Jobs reports the registered jobs sorted by name.
func (js *JobScheduler) Jobs() []JobInfo {
	js.mu.RLock()
	defer js.mu.RUnlock()

	infos := make([]JobInfo, 0, len(js.jobs))
	for name, job := range js.jobs {
		info := JobInfo{Name: name}
		if last, err := job.LastRun(); err == nil {
			info.LastRun = last
		}
		if next, err := job.NextRun(); err == nil {
			info.NextRun = next
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
