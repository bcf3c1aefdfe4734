package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/roomstage/internal/common"
)

var ErrUploadFailed = errors.New("storage upload failed")

const maxDownloadBytes = 32 << 20

// ObjectWriter persists one object and returns a URL it can be fetched from.
type ObjectWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Mirror stores staging inputs and outputs under per-owner, per-job keys.
// Every object gets its own id so uploads sharing a job never collide.
type Mirror struct {
	w     ObjectWriter
	hc    *http.Client
	newID func() string
}

func NewMirror(w ObjectWriter) *Mirror {
	return &Mirror{
		w:     w,
		hc:    &http.Client{Timeout: 60 * time.Second},
		newID: common.NewULID,
	}
}

// Upload stores data and returns its public URL.
func (m *Mirror) Upload(ctx context.Context, data []byte, contentType string, ownerID uint64, jobID string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUploadFailed)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	key := fmt.Sprintf("staged/user-%d/%s/%s.%s", ownerID, jobID, m.newID(), extFor(contentType))
	url, err := m.w.Put(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return url, nil
}

// DownloadAndReupload copies an externally hosted image into our storage.
func (m *Mirror) DownloadAndReupload(ctx context.Context, externalURL string, ownerID uint64, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, externalURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	resp, err := m.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download status %d", ErrUploadFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrUploadFailed, err)
	}
	if len(data) > maxDownloadBytes {
		return "", fmt.Errorf("%w: output larger than %d bytes", ErrUploadFailed, maxDownloadBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return m.Upload(ctx, data, ct, ownerID, jobID)
}

func extFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "bin"
	}
}
