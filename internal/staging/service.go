package staging

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/ai"
)

type HealthReporter interface {
	CheckAll(ctx context.Context) []ai.Health
	ClearHealthCache(ctx context.Context) error
}

// Service is the staging API exposed to the HTTP layer and CLI. Every
// operation except the webhook is scoped to the calling user.
type Service struct {
	store    Store
	proc     *Processor
	detector *Detector
	versions *VersionManager
	health   HealthReporter
	log      zerolog.Logger
}

func NewService(store Store, proc *Processor, detector *Detector, versions *VersionManager, health HealthReporter, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		proc:     proc,
		detector: detector,
		versions: versions,
		health:   health,
		log:      log.With().Str("component", "staging").Logger(),
	}
}

func (s *Service) SubmitStaging(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	req.lineage = nil
	return s.proc.Submit(ctx, req)
}

// GetJobStatus doubles as the poll channel for async jobs.
func (s *Service) GetJobStatus(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return s.detector.Poll(ctx, job)
}

func (s *Service) HandleProviderWebhook(ctx context.Context, provider string, header http.Header, body []byte) error {
	return s.detector.HandleWebhook(ctx, provider, header, body)
}

func (s *Service) SetPrimaryVersion(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.versions.SetPrimary(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) GetVersions(ctx context.Context, userID uint64, jobID string) ([]Job, int, error) {
	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return nil, 0, err
	}
	return s.versions.Versions(ctx, job)
}

type RemixRequest struct {
	RoomType string
	Style    string
	Provider string
}

// RemixJob stages the source job's original image again with a new room
// type and style. The new job joins the source's version group as a
// non-primary version.
func (s *Service) RemixJob(ctx context.Context, userID uint64, sourceJobID string, req RemixRequest) (SubmitResult, error) {
	source, err := s.owned(ctx, userID, sourceJobID)
	if err != nil {
		return SubmitResult{}, err
	}
	room := req.RoomType
	if room == "" {
		room = source.RoomType
	}
	style := req.Style
	if style == "" {
		style = source.FurnitureStyle
	}

	sub := SubmitRequest{
		UserID:         userID,
		RoomType:       room,
		Styles:         []string{style},
		Provider:       req.Provider,
		ImageURL:       source.OriginalImageURL,
		DeclutterFirst: source.DeclutterFirst,
		lineage: func(ctx context.Context) (Lineage, error) {
			return s.versions.PrepareRemix(ctx, source)
		},
	}
	if source.PropertyID != nil {
		sub.PropertyID = *source.PropertyID
	}
	if source.MaskImageURL != nil {
		sub.MaskURL = *source.MaskImageURL
	}
	return s.proc.Submit(ctx, sub)
}

func (s *Service) ProviderHealth(ctx context.Context) []ai.Health {
	return s.health.CheckAll(ctx)
}

func (s *Service) ClearHealthCache(ctx context.Context) error {
	return s.health.ClearHealthCache(ctx)
}

// owned hides other users' jobs behind ErrJobNotFound.
func (s *Service) owned(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}
