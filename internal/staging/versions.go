package staging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VersionManager maintains version groups and their primary job.
type VersionManager struct {
	store      Store
	newGroupID func() string
	log        zerolog.Logger
}

func NewVersionManager(store Store, log zerolog.Logger) *VersionManager {
	return &VersionManager{
		store:      store,
		newGroupID: uuid.NewString,
		log:        log.With().Str("component", "versions").Logger(),
	}
}

// PrepareRemix returns the lineage for a remix of source. A source without a
// group gets a new one first so both jobs share it.
func (v *VersionManager) PrepareRemix(ctx context.Context, source *Job) (Lineage, error) {
	lin := Lineage{ParentJobID: source.ID}
	if source.VersionGroupID != nil {
		lin.VersionGroupID = *source.VersionGroupID
		return lin, nil
	}

	group := v.newGroupID()
	applied, err := v.store.AssignVersionGroup(ctx, source.ID, group)
	if err != nil {
		return Lineage{}, fmt.Errorf("assign version group: %w", err)
	}
	if !applied {
		// assigned concurrently; join that group
		fresh, err := v.store.GetByID(ctx, source.ID)
		if err != nil {
			return Lineage{}, err
		}
		if fresh.VersionGroupID == nil {
			return Lineage{}, fmt.Errorf("assign version group: job %s not updated", source.ID)
		}
		group = *fresh.VersionGroupID
	}
	source.VersionGroupID = &group
	lin.VersionGroupID = group
	v.log.Debug().Str("job_id", source.ID).Str("version_group_id", group).Msg("version group created")
	return lin, nil
}

// SetPrimary makes job the group's primary. Other jobs are cleared first, so
// a failure between the two writes leaves no primary rather than two. If
// clearing fails the job is not promoted.
func (v *VersionManager) SetPrimary(ctx context.Context, job *Job) error {
	if job.VersionGroupID != nil {
		if err := v.store.ClearPrimary(ctx, *job.VersionGroupID, job.ID); err != nil {
			return fmt.Errorf("clear primary: %w", err)
		}
	}
	if err := v.store.SetPrimary(ctx, job.ID); err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	job.IsPrimaryVersion = true
	return nil
}

// Versions returns the jobs sharing job's group, or job alone.
func (v *VersionManager) Versions(ctx context.Context, job *Job) ([]Job, int, error) {
	if job.VersionGroupID == nil {
		return []Job{*job}, 1, nil
	}
	jobs, err := v.store.ListByVersionGroup(ctx, *job.VersionGroupID)
	if err != nil {
		return nil, 0, err
	}
	return jobs, len(jobs), nil
}
