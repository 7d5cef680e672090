package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"

	"zplmerge/internal/job"
	"zplmerge/internal/labelary"
	"zplmerge/internal/run"
)

const defaultMaxUploadBytes = 16 << 20

var (
	errUnsupportedUpload = errors.New("upload is not a text file")
	errUploadTooLarge    = errors.New("upload too large")
)

type submitResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// pageForm carries optional page overrides; absent fields keep the defaults.
type pageForm struct {
	WidthIn  float64 `form:"width_in"`
	HeightIn float64 `form:"height_in"`
	DPI      int     `form:"dpi"`
}

type jobResponse struct {
	ID          string        `json:"id"`
	Status      job.Status    `json:"status"`
	CreatedAt   string        `json:"created_at"`
	FinishedAt  string        `json:"finished_at,omitempty"`
	Title       string        `json:"title,omitempty"`
	Page        labelary.Page `json:"page"`
	Strategy    run.Strategy  `json:"strategy,omitempty"`
	Blocks      int           `json:"blocks"`
	Labels      int           `json:"labels"`
	Batches     int           `json:"batches"`
	Succeeded   int           `json:"succeeded"`
	Pages       int           `json:"pages"`
	Progress    float64       `json:"progress"`
	Failures    []run.Failure `json:"failures"`
	Events      []run.Event   `json:"events,omitempty"`
	Error       string        `json:"error,omitempty"`
	DocumentURL string        `json:"document_url,omitempty"`
}

// Options configures the API.
type Options struct {
	DefaultPage    labelary.Page
	MaxUploadBytes int64
	// Metrics is served on /metrics when set.
	Metrics        http.Handler
}

type API struct {
	jobs    *job.Manager
	page    labelary.Page
	maxBody int64
	metrics http.Handler
}

func NewAPI(jobs *job.Manager, opts Options) *API {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &API{jobs: jobs, page: opts.DefaultPage, maxBody: opts.MaxUploadBytes, metrics: opts.Metrics}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/jobs", a.SubmitJob)
		api.GET("/jobs/:id", a.GetJob)
		api.GET("/jobs/:id/document", a.DownloadDocument)
	}
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics))
	}
}

// SubmitJob accepts a ZPL upload (multipart "file" or raw body) and starts a run
func (a *API) SubmitJob(c *gin.Context) {
	if a.jobs.IsBusy() {
		log.Warn().Msg("rejecting upload: a conversion is already running")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}
	title, raw, page, err := a.readUpload(c)
	if err != nil {
		log.Warn().Err(err).Msg("invalid upload")
		c.JSON(uploadErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	submitted, err := a.jobs.Submit(title, raw, page)
	if err != nil {
		log.Warn().Err(err).Msg("failed to submit job")
		c.JSON(submitErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("job_id", submitted.ID).Str("title", title).Int("bytes", len(raw)).Msg("job submitted")
	c.JSON(http.StatusAccepted, submitResponse{JobID: submitted.ID, Status: submitted.Status})
}

// GetJob returns job status; events are included with ?events=true
func (a *API) GetJob(c *gin.Context) {
	id := c.Param("id")
	found, ok := a.jobs.GetJob(id)
	if !ok {
		log.Warn().Str("job_id", id).Msg("job not found on get")
		c.JSON(http.StatusNotFound, gin.H{"error": job.ErrJobNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(found, c.Query("events") == "true"))
}

// DownloadDocument serves the merged PDF when ready
func (a *API) DownloadDocument(c *gin.Context) {
	id := c.Param("id")
	rc, size, err := a.jobs.OpenDocument(c.Request.Context(), id)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		log.Warn().Str("job_id", id).Msg("job not found on download")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, job.ErrDocumentNotReady):
		log.Warn().Str("job_id", id).Msg("document not ready to download")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Str("job_id", id).Err(err).Msg("open document failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "document unavailable"})
		return
	}
	defer rc.Close()
	log.Info().Str("job_id", id).Int64("bytes", size).Msg("serving document download")
	c.DataFromReader(http.StatusOK, size, "application/pdf", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="labels-%s.pdf"`, id),
	})
}

// readUpload extracts the file, its name and the page settings from the request.
func (a *API) readUpload(c *gin.Context) (string, []byte, labelary.Page, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBody)

	form := pageForm{WidthIn: a.page.WidthIn, HeightIn: a.page.HeightIn, DPI: a.page.DPI}
	if err := c.ShouldBindWith(&form, binding.Form); err != nil {
		if isTooLarge(err) {
			return "", nil, labelary.Page{}, errUploadTooLarge
		}
		return "", nil, labelary.Page{}, fmt.Errorf("invalid settings: %w", err)
	}
	page := labelary.Page{WidthIn: form.WidthIn, HeightIn: form.HeightIn, DPI: form.DPI}

	var (
		title string
		raw   []byte
		err   error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		title, raw, err = readFormFile(c)
	} else {
		raw, err = io.ReadAll(c.Request.Body)
	}
	if err != nil {
		if isTooLarge(err) {
			return "", nil, labelary.Page{}, errUploadTooLarge
		}
		return "", nil, labelary.Page{}, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) > 0 && !isText(raw) {
		return "", nil, labelary.Page{}, errUnsupportedUpload
	}
	return title, raw, page, nil
}

func readFormFile(c *gin.Context) (string, []byte, error) {
	header, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, job.ErrNoInput
		}
		return "", nil, err //nolint:wrapcheck
	}
	f, err := header.Open()
	if err != nil {
		return "", nil, err //nolint:wrapcheck
	}
	defer func(f multipart.File) { _ = f.Close() }(f)
	raw, err := io.ReadAll(f)
	return header.Filename, raw, err //nolint:wrapcheck
}

// isText accepts anything that sniffs as text or as unknown bytes; label
// files come in many encodings and decoding is lenient.
func isText(raw []byte) bool {
	detected := mimetype.Detect(raw)
	if detected.Is("application/octet-stream") {
		return true
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedUpload):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func submitErrorStatus(err error) int {
	if errors.Is(err, job.ErrBusy) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func toJobResponse(j job.Job, withEvents bool) jobResponse {
	resp := jobResponse{
		ID:        j.ID,
		Status:    j.Status,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
		Title:     j.Title,
		Page:      j.Page,
		Strategy:  j.Strategy,
		Blocks:    j.Blocks,
		Labels:    j.Labels,
		Batches:   j.Batches,
		Succeeded: j.Succeeded,
		Pages:     j.Pages,
		Progress:  j.Progress,
		Failures:  j.Failures,
		Error:     j.Error,
	}
	if !j.FinishedAt.IsZero() {
		resp.FinishedAt = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	if withEvents {
		resp.Events = j.Events
	}
	if j.Status == job.StatusReady {
		resp.DocumentURL = "/api/v1/jobs/" + j.ID + "/document"
	}
	return resp
}
