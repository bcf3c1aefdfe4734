package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const GeminiName = "gemini"

// GeminiProvider stages rooms synchronously through the Gemini image model.
type GeminiProvider struct {
	client *genai.Client
	model  string
	hc     *http.Client
	now    func() time.Time
}

// NewGeminiProvider returns a provider that reports itself unavailable when
// no API key is configured.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	p := &GeminiProvider{
		model: model,
		hc:    &http.Client{Timeout: 60 * time.Second},
		now:   time.Now,
	}
	if strings.TrimSpace(apiKey) == "" {
		return p, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

func (p *GeminiProvider) Name() string { return GeminiName }

func (p *GeminiProvider) Capabilities() Capabilities { return Capabilities{Sync: true} }

func (p *GeminiProvider) EstimatedProcessingTime() time.Duration { return 20 * time.Second }

func (p *GeminiProvider) BuildPrompt(room RoomType, style Style) string {
	return stagingPrompt(room, style) + " Return only the edited image."
}

// BuildNegativePrompt is folded into the instruction text because the model
// has no separate negative prompt field.
func (p *GeminiProvider) BuildNegativePrompt(room RoomType, style Style) string {
	return "Avoid: " + stagingNegativePrompt(room, style) + "."
}

func (p *GeminiProvider) CheckHealth(ctx context.Context) Health {
	h := Health{Provider: GeminiName, CheckedAt: p.now()}
	if p.client == nil {
		h.ErrorMessage = "GEMINI_API_KEY not configured"
		return h
	}
	if _, err := p.client.Models.Get(ctx, p.model, nil); err != nil {
		h.ErrorMessage = truncate(err.Error(), 300)
		h.RateLimited = isRateLimitText(err.Error())
		return h
	}
	h.Available = true
	return h
}

func (p *GeminiProvider) StageSync(ctx context.Context, in StageInput) SyncResult {
	if p.client == nil {
		return SyncResult{Error: "gemini is not configured"}
	}

	data, mime := in.ImageData, in.MimeType
	if len(data) == 0 {
		var err error
		data, mime, err = FetchImage(ctx, p.hc, in.ImageURL)
		if err != nil {
			return SyncResult{Error: fmt.Sprintf("fetch source image: %v", err)}
		}
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	prompt := p.BuildPrompt(in.RoomType, in.Style) + " " + p.BuildNegativePrompt(in.RoomType, in.Style)
	parts := []*genai.Part{genai.NewPartFromBytes(data, mime)}

	if in.MaskURL != "" {
		mask, maskMime, err := FetchImage(ctx, p.hc, in.MaskURL)
		if err != nil {
			return SyncResult{Error: fmt.Sprintf("fetch mask image: %v", err)}
		}
		parts = append(parts, genai.NewPartFromBytes(mask, maskMime))
		prompt += " The second image is a mask: only add furniture inside its white area."
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{{Parts: parts}},
		&genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	)
	if err != nil {
		return SyncResult{
			Error:       fmt.Sprintf("gemini api error: %v", err),
			RateLimited: isRateLimitText(err.Error()),
		}
	}
	return imageFromResponse(resp)
}

// imageFromResponse returns the first inline image. A response carrying
// only text is a refusal and is reported as failure with that text.
func imageFromResponse(resp *genai.GenerateContentResponse) SyncResult {
	var text []string
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					mime := part.InlineData.MIMEType
					if mime == "" {
						mime = http.DetectContentType(part.InlineData.Data)
					}
					return SyncResult{Success: true, ImageData: part.InlineData.Data, MimeType: mime}
				}
				if t := strings.TrimSpace(part.Text); t != "" {
					text = append(text, t)
				}
			}
		}
	}
	if len(text) == 0 {
		return SyncResult{Error: "no image generated"}
	}
	return SyncResult{Error: "provider returned no image: " + truncate(strings.Join(text, " "), 500)}
}
