package extractor

import (
	"path/filepath"
	"strings"
)

const (
	MimePDF      = "application/pdf"
	MimeDOC      = "application/msword"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeJPEG     = "image/jpeg"
	MimePNG      = "image/png"
	MimeText     = "text/plain"
	MimeOctetStr = "application/octet-stream"
)

// AllowedTypes are the document types accepted for submission.
var AllowedTypes = []string{MimePDF, MimeDOC, MimeDOCX, MimeJPEG, MimePNG, MimeText}

var extensionTypes = map[string]string{
	".pdf":  MimePDF,
	".doc":  MimeDOC,
	".docx": MimeDOCX,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".png":  MimePNG,
	".txt":  MimeText,
}

// DetectMimeType normalizes the declared type and falls back to the file
// extension when the client sent nothing useful.
func DetectMimeType(fileName, declared string) string {
	mimeType := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	if mimeType != "" && mimeType != MimeOctetStr {
		return mimeType
	}

	if byExt, ok := extensionTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return byExt
	}

	return MimeOctetStr
}

// IsAllowed reports whether mimeType is in allowed. Entries starting with a
// dot are matched against the file extension instead.
func IsAllowed(mimeType, fileName string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	for _, a := range allowed {
		if strings.HasPrefix(a, ".") {
			if ext == a {
				return true
			}
			continue
		}
		if mimeType == a {
			return true
		}
	}

	return false
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}
