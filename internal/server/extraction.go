package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/common"
	"github.com/udayam-ai/extraction-gateway/internal/coordinator"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
	"github.com/udayam-ai/extraction-gateway/internal/storage"
)

// uploadResponse mirrors the shape the frontend already consumes.
type uploadResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message"`
	JobID   string                   `json:"job_id,omitempty"`
	FileURL string                   `json:"file_url,omitempty"`
	Data    *entity.ExtractionResult `json:"data,omitempty"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"detail": fmt.Sprintf("File too large. Max size: %.1fMB", float64(s.maxUploadBytes)/(1024*1024)),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid multipart request"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "file is required"})
		return
	}
	defer file.Close()

	if !constants.ExtensionAllowed(header.Filename) {
		allowed := make([]string, 0, len(constants.AllowedExtensions))
		for ext := range constants.AllowedExtensions {
			allowed = append(allowed, ext)
		}
		sort.Strings(allowed)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail": "Invalid file type. Allowed: " + strings.Join(allowed, ", "),
		})
		return
	}

	document, err := io.ReadAll(file)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"detail": fmt.Sprintf("File too large. Max size: %.1fMB", float64(s.maxUploadBytes)/(1024*1024)),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "failed to read upload"})
		return
	}
	if len(document) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "uploaded file is empty"})
		return
	}

	targetLanguage := r.FormValue("target_language")
	if targetLanguage == "" {
		targetLanguage = "en"
	}
	preserveNames := true
	if v := r.FormValue("preserve_names"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			preserveNames = parsed
		}
	}

	res, err := s.coord.StartExtraction(r.Context(), coordinator.StartRequest{
		Document:       document,
		FileName:       header.Filename,
		MimeType:       constants.ContentTypeFor(header.Filename),
		UserID:         common.UserIDFromContext(r.Context()),
		TargetLanguage: targetLanguage,
		PreserveNames:  preserveNames,
	})
	if err != nil {
		writeJSON(w, common.HTTPStatus(err), uploadResponse{
			Success: false,
			Message: extractFailureMessage(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: "Extraction completed successfully",
		JobID:   res.JobID,
		FileURL: res.FileURL,
		Data:    res.Result,
	})
}

// extractFailureMessage distinguishes "retry later" conditions from
// "fix your input" ones for the client.
func extractFailureMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrEngineTimeout):
		return "Extraction timed out; the document may be too large or complex. Please retry."
	case errors.Is(err, common.ErrEngineUnavailable):
		return "Extraction service is unavailable. Please retry shortly."
	case errors.Is(err, common.ErrEngineRejected):
		return "The extraction service rejected this document: " + err.Error()
	case errors.Is(err, common.ErrStorageFailure):
		return "Could not store the uploaded document. Please retry."
	default:
		return "Extraction failed: " + err.Error()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	job, err := s.coord.GetStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{
		"job_id": jobID,
		"status": job.Status,
	}
	if job.FileURL != "" {
		response["file_url"] = job.FileURL
	}
	if job.Status == constants.JobStatusCompleted && job.Result != nil {
		response["data"] = job.Result
	}
	if job.Status == constants.JobStatusFailed {
		response["error"] = job.Error
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid json body"})
		return
	}
	if len(body.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "data field is required"})
		return
	}
	if err := validateJSONAgainstSchema(resultSchema(), body.Data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail": "invalid extraction data: " + err.Error(),
		})
		return
	}

	var result entity.ExtractionResult
	if err := json.Unmarshal(body.Data, &result); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid extraction data"})
		return
	}

	if err := s.coord.UpdateResult(r.Context(), jobID, &result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Extraction data updated successfully",
	})
}

// jobView matches the field names the frontend's job endpoints expect.
func jobView(job entity.ExtractionJob) map[string]any {
	fileName := job.FileName
	if fileName == "" {
		fileName = "Uploaded File"
	}
	return map[string]any{
		"id":        job.ID,
		"fileName":  fileName,
		"fileUrl":   job.FileURL,
		"status":    job.Status,
		"createdAt": job.CreatedAt,
		"updatedAt": job.UpdatedAt,
		"error":     job.Error,
		"result":    job.Result,
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coord.GetStatus(r.Context(), r.PathValue("jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	jobs, stats, err := s.coord.ListJobs(r.Context(), common.UserIDFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}

	successRate := 0.0
	if stats.Total > 0 {
		successRate = 100 * float64(stats.Completed) / float64(stats.Total)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": views,
		"stats": map[string]any{
			"totalDocuments":     stats.Total,
			"processedThisMonth": stats.Completed,
			"successRate":        successRate,
			"processingTime":     "N/A",
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	_, stats, err := s.coord.ListJobs(r.Context(), "", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	successRate := 0.0
	if stats.Total > 0 {
		successRate = 100 * float64(stats.Completed) / float64(stats.Total)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalDocuments":     stats.Total,
		"processedThisMonth": stats.Completed,
		"successRate":        successRate,
		"processingTime":     "N/A",
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	_, stats, err := s.coord.ListJobs(r.Context(), "", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentsProcessed": stats.Completed,
		"documentsLimit":     100,
		"storageUsed":        0,
		"storageLimit":       1000,
		"apiCalls":           stats.Total,
		"apiCallsLimit":      1000,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	job, err := s.coord.GetStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Status != constants.JobStatusCompleted || job.Result == nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"detail": fmt.Sprintf("job is %s; only completed jobs can be exported", job.Status),
		})
		return
	}

	data, err := s.exporter.ResultXLSX(jobID, job.Result)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "export failed"})
		return
	}

	name := strings.TrimSuffix(job.FileName, filepath.Ext(job.FileName))
	if name == "" {
		name = jobID
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+url.PathEscape(name)+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	job, err := s.coord.GetStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.FileName == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "no original document recorded for this job"})
		return
	}

	signed, err := s.blobs.SignedURL(r.Context(), storage.OriginalKey(jobID, job.FileName), s.signedURLTTL)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"detail": "could not sign download URL"})
		return
	}
	http.Redirect(w, r, signed, http.StatusTemporaryRedirect)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "engine": "ok"}
	healthy := true

	ctx, cancel := context.WithTimeout(r.Context(), s.dbHealthWait)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := s.engine.Health(r.Context()); err != nil {
		checks["engine"] = err.Error()
		healthy = false
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"service": "extraction-gateway",
		"checks":  checks,
	})
}
