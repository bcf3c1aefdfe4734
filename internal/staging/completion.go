package staging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/ai"
	"github.com/suPer8Hu/roomstage/internal/notify"
	"golang.org/x/time/rate"
)

// Detector reconciles the webhook and poll channels of async providers into
// one terminal transition per job.
type Detector struct {
	store        Store
	registry     *ai.Registry
	storage      Storage
	fin          *finisher
	pollInterval time.Duration
	limiters     sync.Map // job id -> *rate.Limiter
	log          zerolog.Logger
}

func NewDetector(store Store, registry *ai.Registry, storage Storage, notifier notify.Notifier, pollInterval time.Duration, log zerolog.Logger) *Detector {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Detector{
		store:        store,
		registry:     registry,
		storage:      storage,
		fin:          &finisher{store: store, notifier: notifier, now: time.Now},
		pollInterval: pollInterval,
		log:          log.With().Str("component", "completion").Logger(),
	}
}

func (d *Detector) asyncProvider(name string) (ai.Provider, ai.AsyncStager, error) {
	p, err := d.registry.Get(name)
	if err != nil {
		return nil, nil, err
	}
	a, ok := p.(ai.AsyncStager)
	if !ok || !p.Capabilities().Async {
		return nil, nil, fmt.Errorf("%w: %s is not async", ai.ErrCapability, p.Name())
	}
	return p, a, nil
}

// HandleWebhook applies a provider callback. Non-terminal events and events
// for jobs that are already terminal are accepted without effect.
func (d *Detector) HandleWebhook(ctx context.Context, providerName string, header http.Header, body []byte) error {
	p, a, err := d.asyncProvider(providerName)
	if err != nil {
		return err
	}
	if v, ok := p.(ai.WebhookVerifier); ok {
		if err := v.VerifyWebhook(header, body); err != nil {
			return err
		}
	}

	ev, err := a.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	log := d.log.With().Str("provider", p.Name()).Str("handle", ev.Handle).Logger()
	if !ev.Status.Terminal() {
		log.Debug().Str("status", string(ev.Status)).Msg("non-terminal webhook ignored")
		return nil
	}

	job, err := d.store.GetByProviderHandle(ctx, p.Name(), ev.Handle)
	if err != nil {
		return err
	}
	d.applyTerminal(ctx, job, ev.Status, ev.OutputURL, ev.Error, log.With().Str("channel", "webhook").Logger())
	return nil
}

// Poll re-checks the provider for a non-terminal async job, at most once per
// poll interval per job, and returns the current record.
func (d *Detector) Poll(ctx context.Context, job *Job) (*Job, error) {
	if job.Status.Terminal() {
		d.limiters.Delete(job.ID)
		return job, nil
	}
	if job.ProviderJobHandle == nil || *job.ProviderJobHandle == "" {
		return job, nil
	}
	if !d.limiter(job.ID).Allow() {
		return job, nil
	}

	_, a, err := d.asyncProvider(job.Provider)
	if err != nil {
		return job, nil
	}
	log := d.log.With().Str("provider", job.Provider).Str("handle", *job.ProviderJobHandle).Str("channel", "poll").Logger()

	st := a.GetStatus(ctx, *job.ProviderJobHandle)
	if !st.Success {
		// transient; the next poll tries again
		log.Warn().Str("job_id", job.ID).Str("error", st.Error).Msg("provider status lookup failed")
		return job, nil
	}
	if !st.Status.Terminal() {
		return job, nil
	}

	d.applyTerminal(ctx, job, st.Status, st.OutputURL, st.Error, log)
	return d.store.GetByID(ctx, job.ID)
}

// applyTerminal is shared by both channels. The store's conditional update
// makes it first-writer-wins; a job read as terminal is left untouched
// without any storage work.
func (d *Detector) applyTerminal(ctx context.Context, job *Job, status ai.RemoteStatus, outputURL, errMsg string, log zerolog.Logger) bool {
	if job.Status.Terminal() {
		log.Debug().Str("job_id", job.ID).Msg("job already terminal")
		return false
	}
	defer d.limiters.Delete(job.ID)

	switch status {
	case ai.RemoteSucceeded:
		url, err := d.storage.DownloadAndReupload(ctx, outputURL, job.UserID, job.ID)
		if err != nil {
			return d.fin.fail(ctx, job, "storage: "+err.Error(), log)
		}
		return d.fin.complete(ctx, job, url, log)
	case ai.RemoteFailed, ai.RemoteCanceled:
		if errMsg == "" {
			errMsg = "provider job " + string(status)
		}
		return d.fin.fail(ctx, job, errMsg, log)
	default:
		return false
	}
}

func (d *Detector) limiter(jobID string) *rate.Limiter {
	if l, ok := d.limiters.Load(jobID); ok {
		return l.(*rate.Limiter)
	}
	l, _ := d.limiters.LoadOrStore(jobID, rate.NewLimiter(rate.Every(d.pollInterval), 1))
	return l.(*rate.Limiter)
}

// IsIgnorable reports webhook errors that should still be acknowledged so
// the provider stops retrying.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
