package backup

import (
	"context"
	"fmt"

	"parley/internal/core/domain"
	"parley/internal/infrastructure/repositories"
	"parley/pkg/backup"

	"go.uber.org/zap"
)

// RestoreService handles restore operations
type RestoreService struct {
	backupService *backup.BackupService
	store         repositories.ConversationStore
	logger        *zap.SugaredLogger
}

// NewRestoreService creates a new restore service
func NewRestoreService(
	backupService *backup.BackupService,
	store repositories.ConversationStore,
	logger *zap.SugaredLogger,
) *RestoreService {
	return &RestoreService{
		backupService: backupService,
		store:         store,
		logger:        logger,
	}
}

// RestoreOptions contains restore options
type RestoreOptions struct {
	OverwriteExisting bool
}

// DefaultRestoreOptions returns default restore options
func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{
		OverwriteExisting: false,
	}
}

// RestoreFromBackup restores conversation membership from a specific backup
func (rs *RestoreService) RestoreFromBackup(ctx context.Context, backupName string, options RestoreOptions) error {
	rs.logger.Infow("starting restore", "backup_name", backupName, "options", options)

	backupData, err := rs.backupService.RestoreBackup(ctx, backupName)
	if err != nil {
		return fmt.Errorf("failed to load backup: %w", err)
	}

	if backupData.Version == "" {
		return fmt.Errorf("invalid backup: missing version")
	}

	restored := 0
	for idStr, members := range backupData.Conversations {
		id := domain.ConversationID(idStr)

		if !options.OverwriteExisting {
			if _, err := rs.store.Members(ctx, id); err == nil {
				rs.logger.Debugw("skipping existing conversation", "conversation_id", id)
				continue
			}
		}

		for _, member := range members {
			if err := rs.store.AddMember(ctx, id, domain.UserID(member)); err != nil {
				return fmt.Errorf("failed to restore conversation %s: %w", id, err)
			}
		}
		restored++
	}

	rs.logger.Infow("restore completed successfully",
		"backup_name", backupName,
		"conversations_restored", restored,
	)
	return nil
}
