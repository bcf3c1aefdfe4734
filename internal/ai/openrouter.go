package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const OpenRouterName = "openrouter"

// OpenRouterProvider stages rooms synchronously through an image-capable
// chat model routed by OpenRouter.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client

	now func() time.Time
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterMsg struct {
	Role    string           `json:"role"`
	Content []openRouterPart `json:"content"`
}

type openRouterChatReq struct {
	Model      string          `json:"model"`
	Messages   []openRouterMsg `json:"messages"`
	Modalities []string        `json:"modalities"`
	Stream     bool            `json:"stream"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL openRouterImageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
		now:     time.Now,
	}
}

func (p *OpenRouterProvider) Name() string { return OpenRouterName }

func (p *OpenRouterProvider) Capabilities() Capabilities { return Capabilities{Sync: true} }

func (p *OpenRouterProvider) EstimatedProcessingTime() time.Duration { return 25 * time.Second }

func (p *OpenRouterProvider) BuildPrompt(room RoomType, style Style) string {
	return stagingPrompt(room, style) + " Respond with the edited image."
}

func (p *OpenRouterProvider) BuildNegativePrompt(room RoomType, style Style) string {
	return "Avoid: " + stagingNegativePrompt(room, style) + "."
}

// CheckHealth validates the key against the key-info endpoint.
func (p *OpenRouterProvider) CheckHealth(ctx context.Context) Health {
	h := Health{Provider: OpenRouterName, CheckedAt: p.now()}
	if strings.TrimSpace(p.APIKey) == "" || strings.TrimSpace(p.Model) == "" {
		h.ErrorMessage = "OPENROUTER_API_KEY and OPENROUTER_MODEL are required"
		return h
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/key", nil)
	if err != nil {
		h.ErrorMessage = err.Error()
		return h
	}
	p.setHeaders(req)

	resp, err := p.Client.Do(req)
	if err != nil {
		h.ErrorMessage = truncate(err.Error(), 300)
		return h
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		h.RateLimited = true
		h.ResetAt = retryAfter(resp.Header, h.CheckedAt)
		h.ErrorMessage = "rate limited"
	case resp.StatusCode != http.StatusOK:
		h.ErrorMessage = readErrorBody(resp)
	default:
		h.Available = true
	}
	return h
}

func (p *OpenRouterProvider) StageSync(ctx context.Context, in StageInput) SyncResult {
	if strings.TrimSpace(p.APIKey) == "" {
		return SyncResult{Error: "openrouter is not configured"}
	}

	source := in.ImageURL
	if len(in.ImageData) > 0 {
		mime := in.MimeType
		if mime == "" {
			mime = http.DetectContentType(in.ImageData)
		}
		source = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(in.ImageData)
	}

	prompt := p.BuildPrompt(in.RoomType, in.Style) + " " + p.BuildNegativePrompt(in.RoomType, in.Style)
	parts := []openRouterPart{{Type: "image_url", ImageURL: &openRouterImageURL{URL: source}}}
	if in.MaskURL != "" {
		parts = append(parts, openRouterPart{Type: "image_url", ImageURL: &openRouterImageURL{URL: in.MaskURL}})
		prompt += " The second image is a mask: only add furniture inside its white area."
	}
	parts = append(parts, openRouterPart{Type: "text", Text: prompt})

	b, err := json.Marshal(openRouterChatReq{
		Model:      p.Model,
		Messages:   []openRouterMsg{{Role: "user", Content: parts}},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		return SyncResult{Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return SyncResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	p.setHeaders(req)

	resp, err := p.Client.Do(req)
	if err != nil {
		return SyncResult{Error: fmt.Sprintf("openrouter: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SyncResult{
			Error:       "openrouter: " + readErrorBody(resp),
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return SyncResult{Error: fmt.Sprintf("openrouter: decode response: %v", err)}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return SyncResult{
			Error:       "openrouter: " + decoded.Error.Message,
			RateLimited: decoded.Error.Code == http.StatusTooManyRequests,
		}
	}
	if len(decoded.Choices) == 0 {
		return SyncResult{Error: "openrouter: empty response"}
	}

	msg := decoded.Choices[0].Message
	for _, img := range msg.Images {
		if img.ImageURL.URL == "" {
			continue
		}
		data, mime, err := p.decodeImage(ctx, img.ImageURL.URL)
		if err != nil {
			return SyncResult{Error: fmt.Sprintf("openrouter: %v", err)}
		}
		return SyncResult{Success: true, ImageData: data, MimeType: mime}
	}
	if t := strings.TrimSpace(msg.Content); t != "" {
		return SyncResult{Error: "provider returned no image: " + truncate(t, 500)}
	}
	return SyncResult{Error: "no image generated"}
}

// decodeImage accepts a base64 data URL or a downloadable link.
func (p *OpenRouterProvider) decodeImage(ctx context.Context, ref string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return FetchImage(ctx, p.Client, ref)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.New("malformed image data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode image data: %w", err)
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func (p *OpenRouterProvider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}
}
