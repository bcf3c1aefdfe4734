package staging

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("staging job not found")
	ErrInvalidInput = errors.New("invalid staging request")
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusQueued        Status = "queued"
	StatusPreprocessing Status = "preprocessing"
	StatusProcessing    Status = "processing"
	StatusUploading     Status = "uploading"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// statusRank orders the lifecycle; a job only moves to a higher rank.
var statusRank = map[Status]int{
	StatusPending:       0,
	StatusQueued:        1,
	StatusPreprocessing: 2,
	StatusProcessing:    3,
	StatusUploading:     4,
	StatusCompleted:     5,
	StatusFailed:        5,
}

var terminalStatuses = []Status{StatusCompleted, StatusFailed}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// below returns the statuses a job may leave to reach s.
func (s Status) below() []Status {
	var out []Status
	for st, r := range statusRank {
		if r < statusRank[s] {
			out = append(out, st)
		}
	}
	return out
}

type Job struct {
	ID         string  `gorm:"primaryKey;size:26" json:"job_id"` // ULID
	UserID     uint64  `gorm:"index;not null" json:"-"`
	PropertyID *string `gorm:"size:64;index" json:"property_id"`

	RoomType         string  `gorm:"size:32;not null" json:"room_type"`
	FurnitureStyle   string  `gorm:"size:32;not null" json:"furniture_style"`
	OriginalImageURL string  `gorm:"type:text;not null" json:"original_image_url"`
	MaskImageURL     *string `gorm:"type:text" json:"mask_image_url,omitempty"`
	DeclutterFirst   bool    `gorm:"not null;default:false" json:"declutter_first"`

	// Filled when completed
	StagedImageURL *string `gorm:"type:text" json:"staged_image_url"`
	// Filled when failed
	ErrorMessage *string `gorm:"type:text" json:"error_message"`

	Provider          string  `gorm:"size:32;not null;uniqueIndex:uniq_provider_handle,priority:1" json:"provider"`
	ProviderJobHandle *string `gorm:"size:128;uniqueIndex:uniq_provider_handle,priority:2" json:"-"`
	FallbackUsed      bool    `gorm:"not null;default:false" json:"fallback_used"`
	EstimatedSeconds  int     `gorm:"not null;default:0" json:"estimated_seconds"`
	ProcessingTimeMs  *int64  `json:"processing_time_ms"`

	Status Status `gorm:"type:varchar(16);index;not null" json:"status"`

	VersionGroupID   *string `gorm:"size:36;index" json:"version_group_id"`
	IsPrimaryVersion bool    `gorm:"not null;default:false" json:"is_primary_version"`
	ParentJobID      *string `gorm:"size:26;index" json:"parent_job_id"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (Job) TableName() string { return "staging_jobs" }
