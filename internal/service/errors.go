package service

import "errors"

// Handlers map these to HTTP status codes.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNoFiles             = errors.New("no files uploaded")
	ErrTooManyFiles        = errors.New("too many files")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrInvalidGrade        = errors.New("grade must be between 0 and 100")

	ErrSubmissionNotFound = errors.New("submission not found")
	ErrReportPending      = errors.New("similarity report not ready")

	ErrStorageUpload = errors.New("failed to store attachment")
	ErrBusy          = errors.New("assignment is busy, retry later")
)
