package ai

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const ReplicateName = "replicate"

const webhookTolerance = 5 * time.Minute

var ErrInvalidSignature = errors.New("invalid webhook signature")

type ReplicateConfig struct {
	BaseURL       string
	APIToken      string
	ModelVersion  string
	WebhookSecret string
	Strength      float64
	Guidance      float64
	Steps         int
}

// ReplicateProvider runs a fixed img2img pipeline as remote predictions that
// complete through a webhook or a status lookup.
type ReplicateProvider struct {
	cfg ReplicateConfig
	hc  *http.Client
	now func() time.Time
}

func NewReplicateProvider(cfg ReplicateConfig) *ReplicateProvider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ReplicateProvider{
		cfg: cfg,
		hc:  &http.Client{Timeout: 30 * time.Second},
		now: time.Now,
	}
}

func (p *ReplicateProvider) Name() string { return ReplicateName }

func (p *ReplicateProvider) Capabilities() Capabilities { return Capabilities{Async: true} }

func (p *ReplicateProvider) EstimatedProcessingTime() time.Duration { return 30 * time.Second }

func (p *ReplicateProvider) BuildPrompt(room RoomType, style Style) string {
	return fmt.Sprintf("%s interior, %s, %s, staged with %s, professional real estate photo, 8k, highly detailed",
		style.Label(), room.Label(), styleTraits[style], roomFurniture[room])
}

func (p *ReplicateProvider) BuildNegativePrompt(room RoomType, style Style) string {
	return stagingNegativePrompt(room, style)
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

func (p *ReplicateProvider) CheckHealth(ctx context.Context) Health {
	h := Health{Provider: ReplicateName, CheckedAt: p.now()}
	if p.cfg.APIToken == "" || p.cfg.ModelVersion == "" {
		h.ErrorMessage = "REPLICATE_API_TOKEN or REPLICATE_MODEL_VERSION not configured"
		return h
	}

	resp, err := p.do(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		h.ErrorMessage = err.Error()
		return h
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		h.Available = true
		h.RateLimited = true
		h.ResetAt = retryAfter(resp.Header, p.now())
		h.ErrorMessage = readErrorBody(resp)
	case resp.StatusCode != http.StatusOK:
		h.ErrorMessage = readErrorBody(resp)
	default:
		h.Available = true
	}
	return h
}

func (p *ReplicateProvider) StageAsync(ctx context.Context, in StageInput, callbackURL string) AsyncResult {
	if in.ImageURL == "" {
		return AsyncResult{Error: "replicate requires a source image url"}
	}

	input := map[string]any{
		"image":               in.ImageURL,
		"prompt":              p.BuildPrompt(in.RoomType, in.Style),
		"negative_prompt":     p.BuildNegativePrompt(in.RoomType, in.Style),
		"prompt_strength":     p.cfg.Strength,
		"guidance_scale":      p.cfg.Guidance,
		"num_inference_steps": p.cfg.Steps,
	}
	if in.MaskURL != "" {
		input["mask"] = in.MaskURL
	}
	body := map[string]any{
		"version": p.cfg.ModelVersion,
		"input":   input,
	}
	if callbackURL != "" {
		body["webhook"] = callbackURL
		body["webhook_events_filter"] = []string{"completed"}
	}

	resp, err := p.do(ctx, http.MethodPost, "/predictions", body)
	if err != nil {
		return AsyncResult{Error: fmt.Sprintf("replicate request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return AsyncResult{Error: "replicate " + readErrorBody(resp), RateLimited: true}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return AsyncResult{Error: "replicate " + readErrorBody(resp)}
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return AsyncResult{Error: fmt.Sprintf("decode prediction: %v", err)}
	}
	if pred.ID == "" {
		return AsyncResult{Error: "replicate returned no prediction id"}
	}
	return AsyncResult{
		Success:          true,
		Handle:           pred.ID,
		EstimatedSeconds: int(p.EstimatedProcessingTime().Seconds()),
	}
}

func (p *ReplicateProvider) GetStatus(ctx context.Context, handle string) StatusResult {
	resp, err := p.do(ctx, http.MethodGet, "/predictions/"+handle, nil)
	if err != nil {
		return StatusResult{Error: fmt.Sprintf("replicate request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusResult{Error: "replicate " + readErrorBody(resp)}
	}
	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return StatusResult{Error: fmt.Sprintf("decode prediction: %v", err)}
	}
	ev := pred.event()
	return StatusResult{Success: true, Status: ev.Status, OutputURL: ev.OutputURL, Error: ev.Error}
}

// ParseWebhook decodes the prediction object Replicate posts on completion.
func (p *ReplicateProvider) ParseWebhook(body []byte) (WebhookEvent, error) {
	var pred prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode replicate webhook: %w", err)
	}
	if pred.ID == "" {
		return WebhookEvent{}, errors.New("replicate webhook without prediction id")
	}
	return pred.event(), nil
}

// VerifyWebhook checks the webhook-id/webhook-timestamp/webhook-signature
// headers. Verification is skipped when no secret is configured.
func (p *ReplicateProvider) VerifyWebhook(header http.Header, body []byte) error {
	if p.cfg.WebhookSecret == "" {
		return nil
	}
	id := header.Get("webhook-id")
	ts := header.Get("webhook-timestamp")
	sigs := header.Get("webhook-signature")
	if id == "" || ts == "" || sigs == "" {
		return fmt.Errorf("%w: missing headers", ErrInvalidSignature)
	}

	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	sent := time.Unix(secs, 0)
	if d := p.now().Sub(sent); d > webhookTolerance || d < -webhookTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(p.cfg.WebhookSecret, "whsec_"))
	if err != nil {
		return fmt.Errorf("%w: bad secret", ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	want := mac.Sum(nil)

	for _, s := range strings.Fields(sigs) {
		_, enc, ok := strings.Cut(s, ",")
		if !ok {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			continue
		}
		if hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (pred prediction) event() WebhookEvent {
	ev := WebhookEvent{Handle: pred.ID}
	switch pred.Status {
	case "succeeded":
		ev.Status = RemoteSucceeded
		ev.OutputURL = firstOutput(pred.Output)
		if ev.OutputURL == "" {
			ev.Status = RemoteFailed
			ev.Error = "prediction succeeded without output"
		}
	case "failed":
		ev.Status = RemoteFailed
		ev.Error = errorText(pred.Error, "prediction failed")
	case "canceled":
		ev.Status = RemoteCanceled
		ev.Error = errorText(pred.Error, "prediction canceled")
	default:
		ev.Status = RemotePending
	}
	return ev
}

// firstOutput accepts both a single URL and a list of URLs.
func firstOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}

func errorText(v any, fallback string) string {
	switch e := v.(type) {
	case nil:
		return fallback
	case string:
		if e == "" {
			return fallback
		}
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

func (p *ReplicateProvider) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return p.hc.Do(req)
}
