package backup

import (
	"context"
	"fmt"
	"time"

	"parley/internal/infrastructure/repositories"
	"parley/pkg/backup"
	"parley/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schedulerLockKey = "parley:backup:lock"

// Scheduler snapshots conversation membership on an interval. When several
// relay instances share a Redis, a distributed lock keeps the snapshot to
// one instance per cycle.
type Scheduler struct {
	backupService *backup.BackupService
	store         repositories.ConversationStore
	redisClient   *redis.Client
	interval      time.Duration
	retentionDays int
	logger        *zap.SugaredLogger
	stopChan      chan struct{}
}

// Config contains scheduler configuration
type Config struct {
	Interval      time.Duration
	RetentionDays int
}

// NewScheduler creates a new backup scheduler. redisClient may be nil; the
// lock is then skipped.
func NewScheduler(
	backupService *backup.BackupService,
	store repositories.ConversationStore,
	redisClient *redis.Client,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		backupService: backupService,
		store:         store,
		redisClient:   redisClient,
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start starts the backup scheduler
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run initial backup
	s.runBackup(ctx)

	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the backup scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// runBackup performs a backup
func (s *Scheduler) runBackup(ctx context.Context) {
	if s.redisClient != nil {
		lock := distributed.NewDistributedLock(s.redisClient, schedulerLockKey, s.interval/2)
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			s.logger.Warnw("failed to acquire backup lock", "error", err)
			return
		}
		if !acquired {
			s.logger.Debug("another instance holds the backup lock")
			return
		}
		defer lock.Unlock(context.Background())
	}

	s.logger.Info("starting scheduled backup")

	backupData, err := s.collectData(ctx)
	if err != nil {
		s.logger.Errorw("failed to collect backup data", "error", err)
		return
	}

	backupName, err := s.backupService.CreateBackup(ctx, backupData)
	if err != nil {
		s.logger.Errorw("failed to create backup", "error", err)
		return
	}

	s.logger.Infow("backup created successfully", "backup_name", backupName)

	if err := s.cleanupOldBackups(ctx); err != nil {
		s.logger.Warnw("failed to cleanup old backups", "error", err)
	}
}

// collectData walks the conversation store
func (s *Scheduler) collectData(ctx context.Context) (*backup.BackupData, error) {
	data := &backup.BackupData{
		Conversations: make(map[string][]string),
		Metadata:      make(map[string]interface{}),
	}

	conversations, err := s.store.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	memberCount := 0
	for _, id := range conversations {
		members, err := s.store.Members(ctx, id)
		if err != nil {
			s.logger.Warnw("failed to read conversation members", "conversation_id", id, "error", err)
			continue
		}

		list := make([]string, len(members))
		for i, member := range members {
			list[i] = string(member)
		}
		data.Conversations[string(id)] = list
		memberCount += len(list)
	}

	data.Metadata["conversation_count"] = len(data.Conversations)
	data.Metadata["member_count"] = memberCount
	data.Metadata["backup_type"] = "scheduled"

	return data, nil
}

// cleanupOldBackups removes backups older than retention period
func (s *Scheduler) cleanupOldBackups(ctx context.Context) error {
	backups, err := s.backupService.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	cutoffTime := time.Now().AddDate(0, 0, -s.retentionDays)

	for _, backupName := range backups {
		// Backup names look like backup-20060102-150405.json.
		if len(backupName) < 22 {
			continue
		}

		timestampStr := backupName[7:22]
		timestamp, err := time.Parse("20060102-150405", timestampStr)
		if err != nil {
			s.logger.Warnw("failed to parse backup timestamp", "backup_name", backupName, "error", err)
			continue
		}

		if timestamp.Before(cutoffTime) {
			if err := s.backupService.DeleteBackup(ctx, backupName); err != nil {
				s.logger.Warnw("failed to delete old backup", "backup_name", backupName, "error", err)
				continue
			}
			s.logger.Infow("deleted old backup", "backup_name", backupName, "age", time.Since(timestamp))
		}
	}

	return nil
}
