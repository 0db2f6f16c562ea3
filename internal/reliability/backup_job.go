package reliability

import (
	"context"
	"time"
)

// backupRetentionDays bounds how long rotated backups are kept.
const backupRetentionDays = 30

// BackupJob runs the nightly ledger backup and rotation.
type BackupJob struct {
	service *BackupService
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service}
}

// Name returns the job name
func (j *BackupJob) Name() string { return "ledger_backup" }

// Run uploads a fresh backup, then rotates old ones.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.service.RotateOldBackups(ctx, backupRetentionDays)
}
