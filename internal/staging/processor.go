package staging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/ai"
	"github.com/suPer8Hu/roomstage/internal/common"
	"github.com/suPer8Hu/roomstage/internal/notify"
	"github.com/suPer8Hu/roomstage/internal/routing"
	"golang.org/x/sync/errgroup"
)

type ProviderSelector interface {
	SelectProvider(ctx context.Context, preferred string) (routing.Selection, error)
	Invalidate(ctx context.Context, provider string)
}

type ProcessorConfig struct {
	// CallbackBaseURL is the public base async providers post webhooks to.
	CallbackBaseURL  string
	SyncStageTimeout time.Duration
	MaxStyles        int
	Parallelism      int
}

type SubmitRequest struct {
	UserID     uint64
	PropertyID string
	RoomType   string
	Styles     []string
	Provider   string

	// Either ImageData or ImageURL.
	ImageData []byte
	ImageMime string
	ImageURL  string

	MaskData []byte
	MaskMime string
	MaskURL  string

	DeclutterFirst bool

	// lineage is set for remixes; nil means a fresh, primary job.
	lineage func(ctx context.Context) (Lineage, error)
}

type Lineage struct {
	ParentJobID    string
	VersionGroupID string
}

type SubmitResult struct {
	Jobs         []*Job `json:"jobs"`
	Provider     string `json:"provider"`
	FallbackUsed bool   `json:"fallback_used"`
}

// Processor drives staging requests through the job lifecycle.
type Processor struct {
	store   Store
	router  ProviderSelector
	storage Storage
	fin     *finisher
	cfg     ProcessorConfig
	log     zerolog.Logger
	newID   func() string
}

func NewProcessor(store Store, router ProviderSelector, storage Storage, notifier notify.Notifier, cfg ProcessorConfig, log zerolog.Logger) *Processor {
	if cfg.MaxStyles <= 0 {
		cfg.MaxStyles = 4
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.SyncStageTimeout <= 0 {
		cfg.SyncStageTimeout = 120 * time.Second
	}
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	return &Processor{
		store:   store,
		router:  router,
		storage: storage,
		fin:     &finisher{store: store, notifier: notifier, now: time.Now},
		cfg:     cfg,
		log:     log.With().Str("component", "processor").Logger(),
		newID:   common.NewULID,
	}
}

type plan struct {
	room   ai.RoomType
	styles []ai.Style
}

func (p *Processor) validate(req SubmitRequest) (plan, error) {
	var pl plan
	room, err := ai.ParseRoomType(req.RoomType)
	if err != nil {
		return pl, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	pl.room = room

	seen := make(map[ai.Style]bool)
	for _, s := range req.Styles {
		st, err := ai.ParseStyle(s)
		if err != nil {
			return pl, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if !seen[st] {
			seen[st] = true
			pl.styles = append(pl.styles, st)
		}
	}
	if len(pl.styles) == 0 {
		return pl, fmt.Errorf("%w: at least one style is required", ErrInvalidInput)
	}
	if len(pl.styles) > p.cfg.MaxStyles {
		return pl, fmt.Errorf("%w: at most %d styles per request", ErrInvalidInput, p.cfg.MaxStyles)
	}
	if len(req.ImageData) == 0 && strings.TrimSpace(req.ImageURL) == "" {
		return pl, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}
	return pl, nil
}

// Submit creates one job per style and runs each through the selected
// provider. A routing failure is returned before any job exists. Sync jobs
// are terminal on return; async jobs stay processing until completion is
// detected.
func (p *Processor) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	pl, err := p.validate(req)
	if err != nil {
		return SubmitResult{}, err
	}

	sel, err := p.router.SelectProvider(ctx, req.Provider)
	if err != nil {
		return SubmitResult{}, err
	}
	prov := sel.Provider

	batchID := p.newID()
	imageURL := strings.TrimSpace(req.ImageURL)
	if len(req.ImageData) > 0 {
		imageURL, err = p.storage.Upload(ctx, req.ImageData, req.ImageMime, req.UserID, batchID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("store original image: %w", err)
		}
	}
	maskURL := strings.TrimSpace(req.MaskURL)
	if len(req.MaskData) > 0 {
		maskURL, err = p.storage.Upload(ctx, req.MaskData, req.MaskMime, req.UserID, batchID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("store mask image: %w", err)
		}
	}

	var lin Lineage
	if req.lineage != nil {
		if lin, err = req.lineage(ctx); err != nil {
			return SubmitResult{}, err
		}
	}

	jobs := make([]*Job, 0, len(pl.styles))
	for _, st := range pl.styles {
		job := &Job{
			ID:               p.newID(),
			UserID:           req.UserID,
			PropertyID:       optional(req.PropertyID),
			RoomType:         string(pl.room),
			FurnitureStyle:   string(st),
			OriginalImageURL: imageURL,
			MaskImageURL:     optional(maskURL),
			DeclutterFirst:   req.DeclutterFirst,
			Provider:         prov.Name(),
			FallbackUsed:     sel.FallbackUsed,
			EstimatedSeconds: int(prov.EstimatedProcessingTime().Seconds()),
			Status:           StatusPending,
			IsPrimaryVersion: req.lineage == nil,
			VersionGroupID:   optional(lin.VersionGroupID),
			ParentJobID:      optional(lin.ParentJobID),
		}
		if err := p.store.Create(ctx, job); err != nil {
			return SubmitResult{}, fmt.Errorf("create job: %w", err)
		}
		jobs = append(jobs, job)
	}

	// generation is not cancelled mid-flight once started
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(p.cfg.Parallelism)
	for _, job := range jobs {
		in := ai.StageInput{
			JobID:    job.ID,
			ImageURL: imageURL,
			MaskURL:  maskURL,
			RoomType: pl.room,
			Style:    ai.Style(job.FurnitureStyle),
		}
		if len(req.ImageData) > 0 {
			in.ImageData, in.MimeType = req.ImageData, req.ImageMime
		}
		g.Go(func() error {
			p.run(gctx, job, prov, in)
			return nil
		})
	}
	_ = g.Wait()

	res := SubmitResult{Provider: prov.Name(), FallbackUsed: sel.FallbackUsed, Jobs: make([]*Job, 0, len(jobs))}
	for _, job := range jobs {
		fresh, err := p.store.GetByID(ctx, job.ID)
		if err != nil {
			return SubmitResult{}, err
		}
		res.Jobs = append(res.Jobs, fresh)
	}
	return res, nil
}

// run never returns an error: every failure ends as a failed job.
func (p *Processor) run(ctx context.Context, job *Job, prov ai.Provider, in ai.StageInput) {
	log := p.log.With().Str("job_id", job.ID).Str("provider", prov.Name()).Logger()
	caps := prov.Capabilities()

	if job.DeclutterFirst {
		if d, ok := prov.(ai.Declutterer); ok && caps.Declutter {
			if !p.advance(ctx, job, StatusPreprocessing, log) {
				return
			}
			res := d.Declutter(ctx, in)
			if !res.Success {
				p.rateLimited(ctx, prov, res.RateLimited)
				p.fin.fail(ctx, job, "declutter failed: "+res.Error, log)
				return
			}
			in.ImageURL, in.ImageData, in.MimeType = res.ImageURL, nil, ""
		} else {
			log.Info().Msg("provider has no declutter pipeline, staging the room as-is")
		}
	}

	if !p.advance(ctx, job, StatusProcessing, log) {
		return
	}

	if s, ok := prov.(ai.SyncStager); ok && caps.Sync {
		p.runSync(ctx, job, prov, s, in, log)
		return
	}
	if a, ok := prov.(ai.AsyncStager); ok && caps.Async {
		p.runAsync(ctx, job, prov, a, in, log)
		return
	}
	p.fin.fail(ctx, job, fmt.Sprintf("%v: %s has no staging method", ai.ErrCapability, prov.Name()), log)
}

func (p *Processor) runSync(ctx context.Context, job *Job, prov ai.Provider, s ai.SyncStager, in ai.StageInput, log zerolog.Logger) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SyncStageTimeout)
	res := s.StageSync(sctx, in)
	cancel()

	if !res.Success {
		p.rateLimited(ctx, prov, res.RateLimited)
		p.fin.fail(ctx, job, res.Error, log)
		return
	}
	if len(res.ImageData) == 0 {
		p.fin.fail(ctx, job, "provider returned an empty image", log)
		return
	}

	if !p.advance(ctx, job, StatusUploading, log) {
		return
	}
	url, err := p.storage.Upload(ctx, res.ImageData, res.MimeType, job.UserID, job.ID)
	if err != nil {
		p.fin.fail(ctx, job, "storage: "+err.Error(), log)
		return
	}
	p.fin.complete(ctx, job, url, log)
}

func (p *Processor) runAsync(ctx context.Context, job *Job, prov ai.Provider, a ai.AsyncStager, in ai.StageInput, log zerolog.Logger) {
	callback := p.cfg.CallbackBaseURL + "/webhooks/" + prov.Name()
	res := a.StageAsync(ctx, in, callback)
	if !res.Success {
		p.rateLimited(ctx, prov, res.RateLimited)
		p.fin.fail(ctx, job, res.Error, log)
		return
	}
	// A webhook landing before this write finds no job and is acked as
	// ignored; the poll channel still completes the job.
	if err := p.store.AttachProviderHandle(ctx, job.ID, res.Handle); err != nil {
		p.fin.fail(ctx, job, "record provider handle: "+err.Error(), log)
		return
	}
	log.Info().Str("handle", res.Handle).Int("estimated_seconds", res.EstimatedSeconds).Msg("async staging started")
}

// advance reports false when the job can no longer move, e.g. it is already
// terminal.
func (p *Processor) advance(ctx context.Context, job *Job, to Status, log zerolog.Logger) bool {
	ok, err := p.store.AdvanceStatus(ctx, job.ID, to)
	if err != nil {
		log.Error().Err(err).Str("to", string(to)).Msg("advance status")
		p.fin.fail(ctx, job, "update status: "+err.Error(), log)
		return false
	}
	if !ok {
		log.Warn().Str("to", string(to)).Msg("status did not advance")
		return false
	}
	job.Status = to
	return true
}

func (p *Processor) rateLimited(ctx context.Context, prov ai.Provider, limited bool) {
	if limited {
		p.router.Invalidate(ctx, prov.Name())
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
