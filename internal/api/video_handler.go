package api

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/service"
	"alcyxob/video-app/internal/stream"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// multipartOverhead leaves room for form fields and boundaries on top of the
// file size limit.
const multipartOverhead = 1 << 20

type VideoHandler struct {
	videoService service.VideoService
	responder    *stream.Responder
	maxBytes     int64
	logger       *slog.Logger
}

func NewVideoHandler(videoService service.VideoService, responder *stream.Responder, maxBytes int64, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{
		videoService: videoService,
		responder:    responder,
		maxBytes:     maxBytes,
		logger:       logger,
	}
}

type VideoSummary struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Status      domain.VideoStatus `json:"status"`
	Sensitivity domain.Sensitivity `json:"sensitivity"`
}

type UploadResponse struct {
	Message string       `json:"message"`
	Video   VideoSummary `json:"video"`
}

type VideoResponse struct {
	ID               string             `json:"id"`
	OwnerID          string             `json:"ownerId"`
	Title            string             `json:"title"`
	OriginalFileName string             `json:"originalName"`
	MimeType         string             `json:"mimeType"`
	FileSizeBytes    int64              `json:"fileSize"`
	Status           domain.VideoStatus `json:"status"`
	Sensitivity      domain.Sensitivity `json:"sensitivity"`
	DurationSeconds  *float64           `json:"duration,omitempty"`
	Archived         bool               `json:"archived"`
	UploadedAt       time.Time          `json:"uploadedAt"`
}

func mapVideoToResponse(v *domain.Video) VideoResponse {
	return VideoResponse{
		ID:               v.ID.Hex(),
		OwnerID:          v.OwnerID.Hex(),
		Title:            v.Title,
		OriginalFileName: v.OriginalFileName,
		MimeType:         v.MimeType,
		FileSizeBytes:    v.FileSizeBytes,
		Status:           v.Status,
		Sensitivity:      v.Sensitivity,
		DurationSeconds:  v.DurationSeconds,
		Archived:         v.ArchiveKey != "",
		UploadedAt:       v.UploadedAt,
	}
}

// Upload godoc
// @Summary Upload a video
// @Tags Videos
// @Accept multipart/form-data
// @Produce json
// @Param video formData file true "Video file"
// @Param title formData string true "Title"
// @Success 201 {object} UploadResponse
// @Failure 400 {object} gin.H
// @Failure 413 {object} gin.H
// @Router /videos/upload [post]
func (h *VideoHandler) Upload(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	var in service.UploadInput
	fileHeader, err := c.FormFile("video")
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		abortWithError(c, http.StatusRequestEntityTooLarge, service.ErrFileTooLarge.Error())
		return
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// leave File nil; the service reports the missing file
	case err != nil:
		abortWithError(c, http.StatusBadRequest, "Malformed multipart request")
		return
	default:
		var file multipart.File
		file, err = fileHeader.Open()
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, "Could not read uploaded file")
			return
		}
		defer file.Close()
		in.File = file
		in.OriginalName = fileHeader.Filename
		in.MimeType = fileHeader.Header.Get("Content-Type")
		in.Size = fileHeader.Size
	}
	in.Title = c.PostForm("title")

	video, err := h.videoService.Upload(c.Request.Context(), identity, in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, UploadResponse{
		Message: "Video uploaded successfully",
		Video: VideoSummary{
			ID:          video.ID.Hex(),
			Title:       video.Title,
			Status:      video.Status,
			Sensitivity: video.Sensitivity,
		},
	})
}

// List godoc
// @Summary List the caller's videos, newest first
// @Tags Videos
// @Produce json
// @Param status query string false "processing|completed|failed|uploading"
// @Param sensitivity query string false "pending|safe|flagged"
// @Router /videos [get]
func (h *VideoHandler) List(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	videos, err := h.videoService.List(c.Request.Context(), identity, c.Query("status"), c.Query("sensitivity"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := make([]VideoResponse, 0, len(videos))
	for i := range videos {
		resp = append(resp, mapVideoToResponse(&videos[i]))
	}
	c.JSON(http.StatusOK, gin.H{"videos": resp})
}

// Get godoc
// @Summary Get one video
// @Tags Videos
// @Router /videos/{id} [get]
func (h *VideoHandler) Get(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	video, err := h.videoService.Get(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video": mapVideoToResponse(video)})
}

// Stream godoc
// @Summary Stream a completed video, honouring Range requests
// @Tags Videos
// @Produce octet-stream
// @Router /videos/stream/{id} [get]
func (h *VideoHandler) Stream(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	video, err := h.videoService.Get(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	path, err := h.videoService.FilePath(video)
	if err != nil {
		h.writeError(c, stream.ErrFileMissing)
		return
	}
	if err := h.responder.Serve(c.Writer, c.Request, video, path); err != nil {
		h.writeError(c, err)
	}
}

// DownloadURL godoc
// @Summary Presigned link to the archived copy of a video
// @Tags Videos
// @Router /videos/{id}/download-url [get]
func (h *VideoHandler) DownloadURL(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	url, err := h.videoService.DownloadURL(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// writeError maps service and stream errors to HTTP responses.
func (h *VideoHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		abortWithError(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrVideoNotFound):
		abortWithError(c, http.StatusNotFound, "Video not found")
	case errors.Is(err, service.ErrForbidden):
		abortWithError(c, http.StatusForbidden, "Not authorized to access this video")
	case errors.Is(err, stream.ErrNotReady):
		abortWithError(c, http.StatusBadRequest, "Video is not ready for streaming")
	case errors.Is(err, stream.ErrFileMissing):
		abortWithError(c, http.StatusNotFound, "Video file not found")
	case errors.Is(err, service.ErrNotArchived):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		abortWithError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, io.ErrUnexpectedEOF):
		abortWithError(c, http.StatusBadRequest, "Upload interrupted")
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		abortWithError(c, http.StatusInternalServerError, "Server error")
	}
}
