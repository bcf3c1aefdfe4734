package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRouter_StageSyncDecodesDataURL(t *testing.T) {
	var got openRouterChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		assert.Equal(t, "roomstage", r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{
				"message": map[string]any{
					"content": "",
					"images": []any{map[string]any{
						"type":      "image_url",
						"image_url": map[string]any{"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "or-key", "google/gemini-2.5-flash-image", "", "roomstage")
	res := p.StageSync(context.Background(), StageInput{
		ImageData: pngBytes,
		MimeType:  "image/png",
		RoomType:  RoomBedroom,
		Style:     StyleScandinavian,
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, pngBytes, res.ImageData)
	assert.Equal(t, "image/png", res.MimeType)

	assert.Equal(t, []string{"image", "text"}, got.Modalities)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Contains(t, got.Messages[0].Content[0].ImageURL.URL, "data:image/png;base64,")
	assert.Contains(t, got.Messages[0].Content[1].Text, "scandinavian")
}

func TestOpenRouter_TextOnlyAndRateLimit(t *testing.T) {
	var limited atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limited.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"I cannot edit this photo."}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "k", "m", "", "")
	in := StageInput{ImageURL: "https://img.example.com/a.jpg", RoomType: RoomKitchen, Style: StyleModern}

	res := p.StageSync(context.Background(), in)
	assert.False(t, res.Success)
	assert.Equal(t, "provider returned no image: I cannot edit this photo.", res.Error)

	limited.Store(true)
	res = p.StageSync(context.Background(), in)
	assert.False(t, res.Success)
	assert.True(t, res.RateLimited)
}

func TestOpenRouter_CheckHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/key", r.URL.Path)
		code := int(status.Load())
		if code == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	assert.False(t, NewOpenRouterProvider(srv.URL, "", "m", "", "").CheckHealth(context.Background()).Available)

	p := NewOpenRouterProvider(srv.URL, "k", "m", "", "")
	assert.True(t, p.CheckHealth(context.Background()).Usable())

	status.Store(http.StatusTooManyRequests)
	h := p.CheckHealth(context.Background())
	assert.True(t, h.RateLimited)
	require.NotNil(t, h.ResetAt)

	status.Store(http.StatusUnauthorized)
	h = p.CheckHealth(context.Background())
	assert.False(t, h.Available)
	assert.Contains(t, h.ErrorMessage, "401")
}
