package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomstage/internal/ai"
	"github.com/suPer8Hu/roomstage/internal/common"
	"github.com/suPer8Hu/roomstage/internal/routing"
	"github.com/suPer8Hu/roomstage/internal/staging"
	"github.com/suPer8Hu/roomstage/internal/storage"
)

const maxUploadBytes = 15 << 20

type submitStagingReq struct {
	ImageURL       string   `json:"image_url"`
	MaskURL        string   `json:"mask_url"`
	RoomType       string   `json:"room_type" binding:"required"`
	Styles         []string `json:"styles"`
	Style          string   `json:"style"`
	PropertyID     string   `json:"property_id"`
	DeclutterFirst bool     `json:"declutter_first"`
	Provider       string   `json:"provider"`
}

// SubmitStaging accepts either a multipart form carrying the room photo
// or a JSON body pointing at an already hosted image.
func (h *Handler) SubmitStaging(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var (
		req staging.SubmitRequest
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = submitFromForm(c)
	} else {
		req, err = submitFromJSON(c)
	}
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
		return
	}
	req.UserID = uid

	res, err := h.StagingSvc.SubmitStaging(c.Request.Context(), req)
	if err != nil {
		h.stagingError(c, err)
		return
	}
	common.Created(c, res)
}

func submitFromJSON(c *gin.Context) (staging.SubmitRequest, error) {
	var body submitStagingReq
	if err := c.ShouldBindJSON(&body); err != nil {
		return staging.SubmitRequest{}, fmt.Errorf("invalid params: %w", err)
	}
	styles := body.Styles
	if len(styles) == 0 && body.Style != "" {
		styles = []string{body.Style}
	}
	return staging.SubmitRequest{
		PropertyID:     body.PropertyID,
		RoomType:       body.RoomType,
		Styles:         styles,
		Provider:       body.Provider,
		ImageURL:       body.ImageURL,
		MaskURL:        body.MaskURL,
		DeclutterFirst: body.DeclutterFirst,
	}, nil
}

func submitFromForm(c *gin.Context) (staging.SubmitRequest, error) {
	req := staging.SubmitRequest{
		PropertyID: strings.TrimSpace(c.PostForm("property_id")),
		RoomType:   strings.TrimSpace(c.PostForm("room_type")),
		Provider:   strings.TrimSpace(c.PostForm("provider")),
		ImageURL:   strings.TrimSpace(c.PostForm("image_url")),
		MaskURL:    strings.TrimSpace(c.PostForm("mask_url")),
	}
	for _, s := range c.PostFormArray("style") {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				req.Styles = append(req.Styles, part)
			}
		}
	}
	if v := c.PostForm("declutter_first"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("declutter_first must be a boolean")
		}
		req.DeclutterFirst = b
	}

	if fh, err := c.FormFile("image"); err == nil {
		data, mime, err := readUpload(fh)
		if err != nil {
			return req, fmt.Errorf("image: %w", err)
		}
		req.ImageData, req.ImageMime = data, mime
	}
	if fh, err := c.FormFile("mask"); err == nil {
		data, mime, err := readUpload(fh)
		if err != nil {
			return req, fmt.Errorf("mask: %w", err)
		}
		req.MaskData, req.MaskMime = data, mime
	}
	return req, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > maxUploadBytes {
		return nil, "", fmt.Errorf("file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxUploadBytes {
		return nil, "", fmt.Errorf("file too large")
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty file")
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("unsupported content type %q", mime)
	}
	return data, mime, nil
}

func (h *Handler) GetStagingJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	job, err := h.StagingSvc.GetJobStatus(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		h.stagingError(c, err)
		return
	}
	common.OK(c, job)
}

type remixReq struct {
	RoomType string `json:"room_type"`
	Style    string `json:"style"`
	Provider string `json:"provider"`
}

func (h *Handler) RemixStagingJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req remixReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid params")
		return
	}

	res, err := h.StagingSvc.RemixJob(c.Request.Context(), uid, c.Param("job_id"), staging.RemixRequest{
		RoomType: req.RoomType,
		Style:    req.Style,
		Provider: req.Provider,
	})
	if err != nil {
		h.stagingError(c, err)
		return
	}
	common.Created(c, res)
}

func (h *Handler) SetPrimaryVersion(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	job, err := h.StagingSvc.SetPrimaryVersion(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		h.stagingError(c, err)
		return
	}
	common.OK(c, job)
}

func (h *Handler) ListVersions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	jobs, total, err := h.StagingSvc.GetVersions(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		h.stagingError(c, err)
		return
	}
	common.OK(c, gin.H{"versions": jobs, "total": total})
}

func (h *Handler) stagingError(c *gin.Context, err error) {
	var re *routing.RoutingError
	switch {
	case errors.Is(err, staging.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
	case errors.Is(err, ai.ErrUnknownProvider):
		common.Fail(c, http.StatusBadRequest, 40002, err.Error())
	case errors.Is(err, staging.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "job not found")
	case errors.As(err, &re):
		common.Fail(c, http.StatusServiceUnavailable, 50301, re.Error())
	case errors.Is(err, storage.ErrUploadFailed):
		h.Log.Error().Err(err).Msg("storage upload failed")
		common.Fail(c, http.StatusBadGateway, 50201, "failed to store image")
	default:
		h.Log.Error().Err(err).Str("path", c.FullPath()).Msg("staging request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
