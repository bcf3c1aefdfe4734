package staging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/notify"
)

// Storage is the durable image store.
type Storage interface {
	Upload(ctx context.Context, data []byte, contentType string, ownerID uint64, jobID string) (string, error)
	DownloadAndReupload(ctx context.Context, externalURL string, ownerID uint64, jobID string) (string, error)
}

// finisher applies terminal transitions and notifies only when the write
// actually took effect.
type finisher struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
}

func (f *finisher) complete(ctx context.Context, job *Job, stagedURL string, log zerolog.Logger) bool {
	at := f.now()
	applied, err := f.store.CompleteJob(ctx, job.ID, stagedURL, elapsedMs(job, at), at)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("mark job completed")
		return false
	}
	if !applied {
		log.Debug().Str("job_id", job.ID).Msg("job already terminal, completion ignored")
		return false
	}
	log.Info().Str("job_id", job.ID).Str("provider", job.Provider).Int64("processing_ms", elapsedMs(job, at)).Msg("job completed")
	f.notifier.NotifyComplete(ctx, event(job, stagedURL, ""))
	return true
}

func (f *finisher) fail(ctx context.Context, job *Job, msg string, log zerolog.Logger) bool {
	at := f.now()
	applied, err := f.store.FailJob(ctx, job.ID, msg, elapsedMs(job, at), at)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("mark job failed")
		return false
	}
	if !applied {
		log.Debug().Str("job_id", job.ID).Msg("job already terminal, failure ignored")
		return false
	}
	log.Warn().Str("job_id", job.ID).Str("provider", job.Provider).Str("error", msg).Msg("job failed")
	f.notifier.NotifyFailed(ctx, event(job, "", msg))
	return true
}

func elapsedMs(job *Job, at time.Time) int64 {
	if job.CreatedAt.IsZero() {
		return 0
	}
	return at.Sub(job.CreatedAt).Milliseconds()
}

func event(job *Job, stagedURL, errMsg string) notify.Event {
	ev := notify.Event{
		JobID:          job.ID,
		UserID:         job.UserID,
		RoomType:       job.RoomType,
		Style:          job.FurnitureStyle,
		Provider:       job.Provider,
		StagedImageURL: stagedURL,
		Error:          errMsg,
	}
	if job.PropertyID != nil {
		ev.PropertyID = *job.PropertyID
	}
	return ev
}
