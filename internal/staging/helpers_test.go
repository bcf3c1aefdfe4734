package staging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/ai"
	"github.com/suPer8Hu/roomstage/internal/notify"
	"github.com/suPer8Hu/roomstage/internal/routing"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type baseProvider struct {
	name string
	caps ai.Capabilities
}

func (b baseProvider) Name() string {
	return b.name
}

func (b baseProvider) Capabilities() ai.Capabilities {
	return b.caps
}

func (b baseProvider) EstimatedProcessingTime() time.Duration {
	return 20 * time.Second
}

func (b baseProvider) BuildPrompt(r ai.RoomType, s ai.Style) string {
	return string(r) + "/" + string(s)
}

func (b baseProvider) BuildNegativePrompt(ai.RoomType, ai.Style) string {
	return ""
}

func (b baseProvider) CheckHealth(context.Context) ai.Health {
	return ai.Health{Available: true}
}

// fakeSync records calls and answers with a fixed result per style.
type fakeSync struct {
	baseProvider
	mu        sync.Mutex
	calls     []ai.StageInput
	results   map[ai.Style]ai.SyncResult
	declutter ai.DeclutterResult
	decluts   int
}

func newFakeSync(name string) *fakeSync {
	return &fakeSync{baseProvider: baseProvider{name: name, caps: ai.Capabilities{Sync: true}}, results: map[ai.Style]ai.SyncResult{}}
}

func (f *fakeSync) StageSync(_ context.Context, in ai.StageInput) ai.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if r, ok := f.results[in.Style]; ok {
		return r
	}
	return ai.SyncResult{Success: true, ImageData: []byte("staged-" + string(in.Style)), MimeType: "image/png"}
}

func (f *fakeSync) Declutter(_ context.Context, in ai.StageInput) ai.DeclutterResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decluts++
	return f.declutter
}

type fakeAsync struct {
	baseProvider
	mu       sync.Mutex
	started  []string
	callback string
	status   ai.StatusResult
	polls    int
	verify   error
	// onStart runs before StageAsync returns, e.g. to deliver an early webhook
	onStart  func(handle string)
}

func newFakeAsync(name string) *fakeAsync {
	return &fakeAsync{
		baseProvider: baseProvider{name: name, caps: ai.Capabilities{Async: true}},
		status:       ai.StatusResult{Success: true, Status: ai.RemotePending},
	}
}

func (f *fakeAsync) StageAsync(_ context.Context, in ai.StageInput, callbackURL string) ai.AsyncResult {
	f.mu.Lock()
	f.callback = callbackURL
	handle := fmt.Sprintf("pred-%d", 123+len(f.started))
	f.started = append(f.started, handle)
	onStart := f.onStart
	f.mu.Unlock()

	if onStart != nil {
		onStart(handle)
	}
	return ai.AsyncResult{Success: true, Handle: handle, EstimatedSeconds: 30}
}

func (f *fakeAsync) GetStatus(_ context.Context, handle string) ai.StatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.status
}

// ParseWebhook accepts "handle|status|output".
func (f *fakeAsync) ParseWebhook(body []byte) (ai.WebhookEvent, error) {
	parts := strings.Split(string(body), "|")
	if len(parts) != 3 {
		return ai.WebhookEvent{}, errors.New("bad payload")
	}
	ev := ai.WebhookEvent{Handle: parts[0], Status: ai.RemoteStatus(parts[1])}
	if ev.Status == ai.RemoteSucceeded {
		ev.OutputURL = parts[2]
	} else {
		ev.Error = parts[2]
	}
	return ev, nil
}

func (f *fakeAsync) VerifyWebhook(http.Header, []byte) error {
	return f.verify
}

type fakeStorage struct {
	mu        sync.Mutex
	uploads   int
	mirrors   []string
	failAfter int // fail uploads once this many succeeded; <0 never
	mirrorErr error
}

func (s *fakeStorage) Upload(_ context.Context, data []byte, _ string, ownerID uint64, jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && s.uploads >= s.failAfter {
		return "", errors.New("bucket unavailable")
	}
	s.uploads++
	return fmt.Sprintf("https://store/user-%d/%s/%d", ownerID, jobID, s.uploads), nil
}

func (s *fakeStorage) DownloadAndReupload(_ context.Context, url string, ownerID uint64, jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mirrorErr != nil {
		return "", s.mirrorErr
	}
	s.mirrors = append(s.mirrors, url)
	return fmt.Sprintf("https://store/user-%d/%s/mirror", ownerID, jobID), nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []notify.Event
	failed    []notify.Event
}

func (n *recordingNotifier) NotifyComplete(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, ev)
}

func (n *recordingNotifier) NotifyFailed(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, ev)
}

type harness struct {
	db       *gorm.DB
	repo     *Repo
	storage  *fakeStorage
	notifier *recordingNotifier
	router   *routing.Router
	cache    *routing.MemoryCache
	proc     *Processor
	detector *Detector
	svc      *Service
}

func newHarness(t *testing.T, def string, providers ...ai.Provider) *harness {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	reg := ai.NewRegistry(providers...)
	cache := routing.NewMemoryCache(time.Minute)
	router := routing.NewRouter(reg, cache, routing.Config{DefaultProvider: def}, zerolog.Nop())

	h := &harness{db: db, repo: repo, storage: &fakeStorage{failAfter: -1}, notifier: &recordingNotifier{}, router: router, cache: cache}
	h.proc = NewProcessor(repo, router, h.storage, h.notifier, ProcessorConfig{
		CallbackBaseURL: "https://api.example.com/",
		MaxStyles:       4,
		Parallelism:     1,
	}, zerolog.Nop())
	h.detector = NewDetector(repo, reg, h.storage, h.notifier, time.Hour, zerolog.Nop())
	h.svc = NewService(repo, h.proc, h.detector, NewVersionManager(repo, zerolog.Nop()), router, zerolog.Nop())
	return h
}

func (h *harness) reload(t *testing.T, id string) *Job {
	t.Helper()
	j, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload %s: %v", id, err)
	}
	return j
}

// assertTerminalShape checks completed <=> url set, failed <=> error set.
func assertTerminalShape(t *testing.T, j *Job) {
	t.Helper()
	switch j.Status {
	case StatusCompleted:
		if j.StagedImageURL == nil || j.ErrorMessage != nil || j.CompletedAt == nil {
			t.Fatalf("completed job %s has bad shape: %+v", j.ID, j)
		}
	case StatusFailed:
		if j.StagedImageURL != nil || j.ErrorMessage == nil || j.CompletedAt == nil {
			t.Fatalf("failed job %s has bad shape: %+v", j.ID, j)
		}
	default:
		t.Fatalf("job %s not terminal: %s", j.ID, j.Status)
	}
}
