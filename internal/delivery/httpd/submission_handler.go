package httpd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service"
	"github.com/go-chi/chi/v5"
)

const multipartMemory = 32 << 20

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		writeError(w, http.StatusBadRequest, "Content-Type must be multipart/form-data")
		return
	}

	if h.config.MaxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "Request is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := readUploadedFiles(r.MultipartForm.File["files"])
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read uploaded file")
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	identity, _ := IdentityFrom(r.Context())

	result, err := h.submissionService.Submit(r.Context(), &models.SubmitRequest{
		AssignmentID: chi.URLParam(r, "assignment_id"),
		StudentID:    identity.UserID,
		StudentName:  identity.Name,
		Comment:      r.FormValue("comment"),
		Files:        files,
	})
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	if !result.Accepted {
		writeRejection(w, result.Rejection)
		return
	}

	writeSubmission(w, http.StatusCreated, result.Message, result.Submission)
}

func readUploadedFiles(headers []*multipart.FileHeader) ([]models.UploadedFile, error) {
	files := make([]models.UploadedFile, 0, len(headers))

	for _, fh := range headers {
		content, err := readFileHeader(fh)
		if err != nil {
			return nil, err
		}

		files = append(files, models.UploadedFile{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Content:  content,
		})
	}

	return files, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return content, nil
}

func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	limit, offset := pagination(r)

	response, err := h.submissionService.ListByAssignment(r.Context(), assignmentID, limit, offset)
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, response)
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	submission, err := h.submissionService.GetSubmission(r.Context(), chi.URLParam(r, "submission_id"))
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	// Students only see their own work.
	identity, _ := IdentityFrom(r.Context())
	if identity.Type != RoleTeacher && identity.UserID != submission.StudentID {
		writeError(w, http.StatusForbidden, "Not authorized")
		return
	}

	writeSuccess(w, http.StatusOK, submission)
}

func (h *Handler) GradeSubmission(w http.ResponseWriter, r *http.Request) {
	var req models.GradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	submission, err := h.submissionService.Grade(r.Context(), chi.URLParam(r, "submission_id"), &req)
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	writeSubmission(w, http.StatusOK, models.MessageGraded, submission)
}

func (h *Handler) GetSimilarityReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.submissionService.GetSimilarityReport(r.Context(), chi.URLParam(r, "submission_id"))
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, report)
}

func (h *Handler) RescoreSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if err := h.submissionService.Rescore(r.Context(), submissionID); err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":       models.MessageRescoreAccepted,
		"submission_id": submissionID,
	})
}

func (h *Handler) handleSubmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrTooManyFiles),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidGrade):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUnsupportedFileType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrSubmissionNotFound):
		writeError(w, http.StatusNotFound, "Submission not found")
	case errors.Is(err, service.ErrReportPending):
		writeError(w, http.StatusConflict, "Similarity report is not ready yet")
	case errors.Is(err, service.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrStorageUpload):
		h.logger.Error().Err(err).Msg("Storage upload error")
		writeError(w, http.StatusInternalServerError, "Failed to store file")
	default:
		h.logger.Error().Err(err).Msg("Submission request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
