package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const Decor8Name = "decor8"

var decor8Rooms = map[RoomType]string{
	RoomLivingRoom: "LIVINGROOM",
	RoomBedroom:    "BEDROOM",
	RoomKitchen:    "KITCHEN",
	RoomDiningRoom: "DININGROOM",
	RoomBathroom:   "BATHROOM",
	RoomHomeOffice: "HOMEOFFICE",
	RoomKidsRoom:   "KIDSROOM",
	RoomOutdoor:    "OUTDOOR",
}

var decor8Styles = map[Style]string{
	StyleModern:           "MODERN",
	StyleScandinavian:     "SCANDINAVIAN",
	StyleIndustrial:       "INDUSTRIAL",
	StyleMinimalist:       "MINIMALIST",
	StyleTraditional:      "TRADITIONAL",
	StyleCoastal:          "COASTAL",
	StyleFarmhouse:        "FARMHOUSE",
	StyleBohemian:         "BOHEMIAN",
	StyleMidCenturyModern: "MIDCENTURYMODERN",
	StyleLuxury:           "LUXE",
}

// Decor8Provider is a synchronous stager taking structured room and style
// values. It also offers object removal for rooms that are not empty.
type Decor8Provider struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	now     func() time.Time
}

func NewDecor8Provider(baseURL, apiKey string) *Decor8Provider {
	return &Decor8Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 120 * time.Second},
		now:     time.Now,
	}
}

func (p *Decor8Provider) Name() string { return Decor8Name }

func (p *Decor8Provider) Capabilities() Capabilities {
	return Capabilities{Sync: true, Declutter: true}
}

func (p *Decor8Provider) EstimatedProcessingTime() time.Duration { return 25 * time.Second }

// BuildPrompt renders the structured request fields; the backend takes enums
// rather than free text.
func (p *Decor8Provider) BuildPrompt(room RoomType, style Style) string {
	return fmt.Sprintf("room_type=%s design_style=%s", decor8Rooms[room], decor8Styles[style])
}

func (p *Decor8Provider) BuildNegativePrompt(RoomType, Style) string {
	return ""
}

type decor8Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Info    struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
		Image *struct {
			URL string `json:"url"`
		} `json:"image"`
	} `json:"info"`
}

func (p *Decor8Provider) CheckHealth(ctx context.Context) Health {
	h := Health{Provider: Decor8Name, CheckedAt: p.now()}
	if p.apiKey == "" {
		h.ErrorMessage = "DECOR8_API_KEY not configured"
		return h
	}

	resp, err := p.do(ctx, http.MethodGet, "/list_design_styles", nil)
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

func (p *Decor8Provider) StageSync(ctx context.Context, in StageInput) SyncResult {
	if in.ImageURL == "" {
		return SyncResult{Error: "decor8 requires a source image url"}
	}
	body := map[string]any{
		"input_image_url": in.ImageURL,
		"room_type":       decor8Rooms[in.RoomType],
		"design_style":    decor8Styles[in.Style],
		"num_images":      1,
	}
	if in.MaskURL != "" {
		body["mask_image_url"] = in.MaskURL
	}

	out, rateLimited, errMsg := p.call(ctx, "/generate_designs_for_room", body)
	if errMsg != "" {
		return SyncResult{Error: errMsg, RateLimited: rateLimited}
	}
	if len(out.Info.Images) == 0 || out.Info.Images[0].URL == "" {
		return SyncResult{Error: "decor8 returned no image"}
	}

	data, mime, err := FetchImage(ctx, p.hc, out.Info.Images[0].URL)
	if err != nil {
		return SyncResult{Error: fmt.Sprintf("download decor8 output: %v", err)}
	}
	return SyncResult{Success: true, ImageData: data, MimeType: mime}
}

func (p *Decor8Provider) Declutter(ctx context.Context, in StageInput) DeclutterResult {
	if in.ImageURL == "" {
		return DeclutterResult{Error: "decor8 requires a source image url"}
	}
	out, rateLimited, errMsg := p.call(ctx, "/remove_objects_from_room", map[string]any{
		"input_image_url": in.ImageURL,
	})
	if errMsg != "" {
		return DeclutterResult{Error: errMsg, RateLimited: rateLimited}
	}

	url := ""
	if out.Info.Image != nil {
		url = out.Info.Image.URL
	} else if len(out.Info.Images) > 0 {
		url = out.Info.Images[0].URL
	}
	if url == "" {
		return DeclutterResult{Error: "decor8 returned no decluttered image"}
	}
	return DeclutterResult{Success: true, ImageURL: url}
}

// call posts body and returns the decoded response or a failure message.
func (p *Decor8Provider) call(ctx context.Context, path string, body any) (decor8Response, bool, string) {
	var out decor8Response

	resp, err := p.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return out, false, fmt.Sprintf("decor8 request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return out, true, "decor8 " + readErrorBody(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return out, false, "decor8 " + readErrorBody(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, false, fmt.Sprintf("decode decor8 response: %v", err)
	}
	if out.Error != "" {
		return out, false, "decor8: " + out.Error
	}
	return out, false, ""
}

func (p *Decor8Provider) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return p.hc.Do(req)
}
