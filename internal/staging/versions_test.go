package staging

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func primaries(jobs []Job) int {
	n := 0
	for _, j := range jobs {
		if j.IsPrimaryVersion {
			n++
		}
	}
	return n
}

func TestRemix_SharesNewGroupAndPromotes(t *testing.T) {
	gem := newFakeSync("gemini")
	h := newHarness(t, "gemini", gem)
	ctx := context.Background()

	res, err := h.svc.SubmitStaging(ctx, SubmitRequest{
		UserID: 4, RoomType: "living-room", Styles: []string{"modern"}, ImageURL: "https://img/a.jpg", PropertyID: "prop-1",
	})
	require.NoError(t, err)
	a := res.Jobs[0]
	require.Nil(t, a.VersionGroupID)

	remix, err := h.svc.RemixJob(ctx, 4, a.ID, RemixRequest{Style: "bohemian"})
	require.NoError(t, err)
	require.Len(t, remix.Jobs, 1)
	b := remix.Jobs[0]

	a = h.reload(t, a.ID)
	require.NotNil(t, a.VersionGroupID)
	require.NotNil(t, b.VersionGroupID)
	assert.Equal(t, *a.VersionGroupID, *b.VersionGroupID)
	assert.Equal(t, a.ID, *b.ParentJobID)
	assert.Equal(t, "living-room", b.RoomType)
	assert.Equal(t, "bohemian", b.FurnitureStyle)
	assert.Equal(t, a.OriginalImageURL, b.OriginalImageURL)
	assert.Equal(t, "prop-1", *b.PropertyID)
	assert.True(t, a.IsPrimaryVersion)
	assert.False(t, b.IsPrimaryVersion)

	_, err = h.svc.SetPrimaryVersion(ctx, 4, b.ID)
	require.NoError(t, err)
	assert.False(t, h.reload(t, a.ID).IsPrimaryVersion)
	assert.True(t, h.reload(t, b.ID).IsPrimaryVersion)

	versions, total, err := h.svc.GetVersions(ctx, 4, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, primaries(versions))

	// a remix of the remix joins the same group
	c, err := h.svc.RemixJob(ctx, 4, b.ID, RemixRequest{RoomType: "bedroom", Style: "coastal"})
	require.NoError(t, err)
	assert.Equal(t, *a.VersionGroupID, *c.Jobs[0].VersionGroupID)
	versions, total, err = h.svc.GetVersions(ctx, 4, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, primaries(versions))
}

func TestSetPrimary_WithoutGroup(t *testing.T) {
	h := newHarness(t, "gemini", newFakeSync("gemini"))
	ctx := context.Background()
	seedJob(t, h.repo, "SOLO", func(j *Job) { j.UserID = 1 })

	_, err := h.svc.SetPrimaryVersion(ctx, 1, "SOLO")
	require.NoError(t, err)
	assert.True(t, h.reload(t, "SOLO").IsPrimaryVersion)

	versions, total, err := h.svc.GetVersions(ctx, 1, "SOLO")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "SOLO", versions[0].ID)
}

type failingClearStore struct {
	*Repo
	setCalls int
}

func (s *failingClearStore) ClearPrimary(context.Context, string, string) error {
	return errors.New("deadlock detected")
}

func (s *failingClearStore) SetPrimary(ctx context.Context, id string) error {
	s.setCalls++
	return s.Repo.SetPrimary(ctx, id)
}

func TestSetPrimary_ClearFailureSkipsSet(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	g := "g1"
	seedJob(t, repo, "A", func(j *Job) {
		j.VersionGroupID = &g
		j.IsPrimaryVersion = true
	})
	b := seedJob(t, repo, "B", func(j *Job) { j.VersionGroupID = &g })

	store := &failingClearStore{Repo: repo}
	vm := NewVersionManager(store, zerolog.Nop())

	err := vm.SetPrimary(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, 0, store.setCalls)

	jobs, err := repo.ListByVersionGroup(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 1, primaries(jobs))
	assert.True(t, jobs[0].IsPrimaryVersion)
}

func TestPrepareRemix_ConcurrentAssignmentJoinsExistingGroup(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	src := seedJob(t, repo, "A", nil)

	// another request assigned a group after src was read
	_, err := repo.AssignVersionGroup(context.Background(), "A", "existing")
	require.NoError(t, err)

	vm := NewVersionManager(repo, zerolog.Nop())
	lin, err := vm.PrepareRemix(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "existing", lin.VersionGroupID)
	assert.Equal(t, "A", lin.ParentJobID)
}

func TestRemix_ForeignSourceNotFound(t *testing.T) {
	h := newHarness(t, "gemini", newFakeSync("gemini"))
	seedJob(t, h.repo, "A", func(j *Job) { j.UserID = 1 })

	_, err := h.svc.RemixJob(context.Background(), 2, "A", RemixRequest{Style: "modern"})
	assert.True(t, errors.Is(err, ErrJobNotFound))
}
