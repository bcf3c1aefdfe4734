package staging

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Store is the job persistence the engine needs.
type Store interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	GetByProviderHandle(ctx context.Context, provider, handle string) (*Job, error)
	AdvanceStatus(ctx context.Context, id string, to Status) (bool, error)
	AttachProviderHandle(ctx context.Context, id, handle string) error
	CompleteJob(ctx context.Context, id, stagedURL string, processingMs int64, at time.Time) (bool, error)
	FailJob(ctx context.Context, id, errMsg string, processingMs int64, at time.Time) (bool, error)
	ListByVersionGroup(ctx context.Context, groupID string) ([]Job, error)
	AssignVersionGroup(ctx context.Context, id, groupID string) (bool, error)
	ClearPrimary(ctx context.Context, groupID, exceptID string) error
	SetPrimary(ctx context.Context, id string) error
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{})
}

func (r *Repo) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (r *Repo) GetByProviderHandle(ctx context.Context, provider, handle string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_job_handle = ?", provider, handle).
		First(&j).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

// AdvanceStatus moves the job forward to `to`. It reports false when the job
// is already at or past that status.
func (r *Repo) AdvanceStatus(ctx context.Context, id string, to Status) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, to.below()).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) AttachProviderHandle(ctx context.Context, id, handle string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Update("provider_job_handle", handle).Error
}

// CompleteJob and FailJob are the terminal transition. The status guard makes
// them first-writer-wins: a second attempt affects no rows and reports false.
func (r *Repo) CompleteJob(ctx context.Context, id, stagedURL string, processingMs int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]any{
			"status":             StatusCompleted,
			"staged_image_url":   stagedURL,
			"error_message":      nil,
			"processing_time_ms": processingMs,
			"completed_at":       at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) FailJob(ctx context.Context, id, errMsg string, processingMs int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]any{
			"status":             StatusFailed,
			"error_message":      errMsg,
			"staged_image_url":   nil,
			"processing_time_ms": processingMs,
			"completed_at":       at,
		})
	return res.RowsAffected == 1, res.Error
}

// ListByVersionGroup returns the group's jobs oldest first.
func (r *Repo) ListByVersionGroup(ctx context.Context, groupID string) ([]Job, error) {
	var jobs []Job
	if err := r.db.WithContext(ctx).
		Where("version_group_id = ?", groupID).
		Order("created_at ASC, id ASC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// AssignVersionGroup sets the group only when the job has none yet.
func (r *Repo) AssignVersionGroup(ctx context.Context, id, groupID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND version_group_id IS NULL", id).
		Update("version_group_id", groupID)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) ClearPrimary(ctx context.Context, groupID, exceptID string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("version_group_id = ? AND id <> ? AND is_primary_version = ?", groupID, exceptID, true).
		Update("is_primary_version", false).Error
}

func (r *Repo) SetPrimary(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Update("is_primary_version", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrJobNotFound
	}
	return err
}
