package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/expense-tracker/internal/api/middleware"
	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
)

const (
	// multipartOverhead is the allowance for form fields and part headers
	// on top of the file itself.
	multipartOverhead = 64 << 10
	// multipartMemory is how much of the form is held in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20
)

// allowedMIMETypes are the declared part types accepted alongside a supported
// extension. Browsers disagree on spreadsheet and CSV types, so generic ones
// are allowed too.
var allowedMIMETypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"application/json":         true,
	"text/json":                true,
	"text/csv":                 true,
	"application/csv":          true,
	"text/plain":               true,
	"application/vnd.ms-excel": true,

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// ImportResponse is the body of a successful synchronous import.
type ImportResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*pipeline.ImportResult
}

// ImportHandler handles file uploads.
type ImportHandler struct {
	importer  *pipeline.Importer
	publisher jobs.Publisher
}

// NewImportHandler creates a new import handler. publisher may be nil, in
// which case async imports are refused.
func NewImportHandler(importer *pipeline.Importer, publisher jobs.Publisher) *ImportHandler {
	return &ImportHandler{importer: importer, publisher: publisher}
}

// Import handles POST /api/import
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	maxBytes := h.importer.MaxFileBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, tooLargeMessage(maxBytes))
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if !h.importer.Supports(header.Filename) || !allowedMIME(header.Header.Get("Content-Type")) {
		middleware.WriteError(w, http.StatusUnsupportedMediaType, "Unsupported file format. Use JSON, CSV, XLSX or XLS")
		return
	}
	if header.Size > maxBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, tooLargeMessage(maxBytes))
		return
	}

	mode, err := domain.ParseImportMode(r.FormValue("mode"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read upload")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if int64(len(data)) > maxBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, tooLargeMessage(maxBytes))
		return
	}

	req := pipeline.ImportRequest{
		UserID:   userID,
		Filename: header.Filename,
		Data:     data,
		Mode:     mode,
	}
	middleware.SetLogField(ctx, "filename", header.Filename)
	middleware.SetLogField(ctx, "mode", string(mode))

	if async, _ := strconv.ParseBool(r.FormValue("async")); async {
		h.enqueue(w, r, req)
		return
	}

	result, err := h.importer.Import(ctx, req)
	if err != nil {
		status, message := importErrorStatus(err)
		middleware.WriteError(w, status, message)
		return
	}
	middleware.SetLogField(ctx, "imported", result.Total)
	middleware.SetLogField(ctx, "rejected", result.Rejected)

	middleware.WriteJSON(w, http.StatusOK, ImportResponse{
		Success:      true,
		Message:      result.Message(),
		ImportResult: result,
	})
}

func (h *ImportHandler) enqueue(w http.ResponseWriter, r *http.Request, req pipeline.ImportRequest) {
	log := logger.FromContext(r.Context())
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Background imports are not enabled")
		return
	}

	job := &jobs.ImportJob{
		UserID:   req.UserID,
		Filename: req.Filename,
		Mode:     req.Mode,
		Data:     req.Data,
	}
	if err := h.publisher.PublishImport(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import")
		return
	}

	middleware.SetLogField(r.Context(), "job_id", job.JobID)
	log.Info().Str("job_id", job.JobID).Msg("Import job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "Import queued",
		"jobId":   job.JobID,
	})
}

// importErrorStatus maps an Import error to a status and a client message.
func importErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "Unsupported file format. Use JSON, CSV, XLSX or XLS"
	case errors.Is(err, pipeline.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, pipeline.ErrEmptyFile):
		return http.StatusBadRequest, "File is empty"
	case errors.Is(err, pipeline.ErrTooFewRows):
		return http.StatusBadRequest, "File must contain a header row and at least one data row"
	case errors.Is(err, pipeline.ErrInvalidJSON):
		return http.StatusBadRequest, "Invalid JSON: expected an array of transaction objects"
	default:
		return http.StatusInternalServerError, "Failed to import file: " + rootCause(err).Error()
	}
}

// rootCause strips the step and function prefixes added while wrapping.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

func allowedMIME(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType == ""
	}
	return allowedMIMETypes[strings.ToLower(mediaType)]
}

func tooLargeMessage(maxBytes int64) string {
	return fmt.Sprintf("File too large. Maximum size is %d MB", maxBytes>>20)
}

// DataHandler serves the user's stored data.
type DataHandler struct {
	importer *pipeline.Importer
}

// NewDataHandler creates a new data handler.
func NewDataHandler(importer *pipeline.Importer) *DataHandler {
	return &DataHandler{importer: importer}
}

// CountTransactions handles GET /api/transactions/count
func (h *DataHandler) CountTransactions(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	n, err := h.importer.CountTransactions(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to count transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]int64{"totalTransactions": n})
}

// GetSettings handles GET /api/settings
func (h *DataHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	settings, err := h.importer.Settings(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, settings)
}

// ResetData handles DELETE /api/data
func (h *DataHandler) ResetData(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	deleted, err := h.importer.ResetUserData(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset user data")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to reset data")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Deleted %d transactions and reset settings", deleted),
		"deleted": deleted,
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}. Jobs of other users are reported as missing.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	jobID := r.PathValue("id")
	job, err := h.store.GetJob(ctx, jobID)
	if err != nil || job.UserID != userID {
		if err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
			log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		}
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: userID,
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
