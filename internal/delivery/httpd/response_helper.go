package httpd

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// pagination reads limit and offset, clamping values a list query would
// reject.
func pagination(r *http.Request) (limit, offset int) {
	limit = queryInt(r, "limit", defaultPageLimit)
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	offset = queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
			"type":    http.StatusText(status),
		},
		"success":   false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeSubmission is the body returned after a submission is created or
// changed: a human readable message next to the stored record.
func writeSubmission(w http.ResponseWriter, status int, message string, submission *models.Submission) {
	writeJSON(w, status, map[string]interface{}{
		"message":    message,
		"submission": submission,
	})
}

// writeRejection answers a submission turned away by the duplicate gate.
// The body is the rejection itself so clients read message and details at
// the top level.
func writeRejection(w http.ResponseWriter, rejection *models.Rejection) {
	writeJSON(w, http.StatusBadRequest, rejection)
}
