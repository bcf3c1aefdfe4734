package ai

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrUnknownProvider = errors.New("unknown ai provider")
	// ErrCapability is returned when a provider is asked for an execution
	// model it does not support.
	ErrCapability = errors.New("provider capability not supported")
)

type Capabilities struct {
	Sync      bool `json:"sync"`
	Async     bool `json:"async"`
	Declutter bool `json:"declutter"`
}

// Provider is the part every staging backend implements. Execution is
// exposed through SyncStager, AsyncStager and Declutterer, selected by the
// matching Capabilities flag.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	// CheckHealth never fails; an unreachable backend reports Available=false.
	CheckHealth(ctx context.Context) Health
	BuildPrompt(room RoomType, style Style) string
	BuildNegativePrompt(room RoomType, style Style) string
	EstimatedProcessingTime() time.Duration
}

type SyncStager interface {
	StageSync(ctx context.Context, in StageInput) SyncResult
}

type AsyncStager interface {
	StageAsync(ctx context.Context, in StageInput, callbackURL string) AsyncResult
	GetStatus(ctx context.Context, handle string) StatusResult
	ParseWebhook(body []byte) (WebhookEvent, error)
}

type Declutterer interface {
	// Declutter removes existing furniture and returns the cleaned image URL.
	Declutter(ctx context.Context, in StageInput) DeclutterResult
}

type WebhookVerifier interface {
	VerifyWebhook(header http.Header, body []byte) error
}

type StageInput struct {
	JobID     string
	ImageURL  string
	ImageData []byte
	MimeType  string
	MaskURL   string
	RoomType  RoomType
	Style     Style
}

type SyncResult struct {
	Success     bool
	ImageData   []byte
	MimeType    string
	Error       string
	RateLimited bool
}

type AsyncResult struct {
	Success          bool
	Handle           string
	EstimatedSeconds int
	Error            string
	RateLimited      bool
}

type DeclutterResult struct {
	Success     bool
	ImageURL    string
	Error       string
	RateLimited bool
}

type RemoteStatus string

const (
	RemotePending   RemoteStatus = "pending"
	RemoteSucceeded RemoteStatus = "succeeded"
	RemoteFailed    RemoteStatus = "failed"
	RemoteCanceled  RemoteStatus = "canceled"
)

func (s RemoteStatus) Terminal() bool {
	return s == RemoteSucceeded || s == RemoteFailed || s == RemoteCanceled
}

type StatusResult struct {
	// Success reports whether the status lookup itself worked.
	Success   bool
	Status    RemoteStatus
	OutputURL string
	Error     string
}

type WebhookEvent struct {
	Handle    string
	Status    RemoteStatus
	OutputURL string
	Error     string
}

type Health struct {
	Provider     string     `json:"provider"`
	Available    bool       `json:"available"`
	RateLimited  bool       `json:"rate_limited"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CheckedAt    time.Time  `json:"checked_at"`
}

// Usable reports whether the provider can take new work.
func (h Health) Usable() bool {
	return h.Available && !h.RateLimited
}

// Reason is a short description of why the provider is not usable.
func (h Health) Reason() string {
	switch {
	case h.RateLimited && h.ErrorMessage != "":
		return "rate limited: " + h.ErrorMessage
	case h.RateLimited:
		return "rate limited"
	case h.ErrorMessage != "":
		return h.ErrorMessage
	case !h.Available:
		return "unavailable"
	default:
		return ""
	}
}
