package report

import (
	"regexp"
	"strings"
)

const (
	ContentTypeXLSX   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeBinary = "application/octet-stream"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName is the attachment name offered for a device's report.
func FileName(deviceID string) string {
	id := unsafeFileChars.ReplaceAllString(strings.TrimSpace(deviceID), "_")
	if id == "" {
		id = "unknown"
	}
	return "route-history-" + id + ".xlsx"
}

// ContentType keeps a specific backend content type and labels generic ones as xlsx.
func ContentType(backend string) string {
	ct := strings.TrimSpace(backend)
	if ct == "" || strings.HasPrefix(ct, contentTypeBinary) {
		return ContentTypeXLSX
	}
	return ct
}

// Download is a report offered as a file.
type Download struct {
	FileName    string
	ContentType string
	Data        []byte
}
