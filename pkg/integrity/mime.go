package integrity

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMIME sniffs the content type of the file at path, falling back to
// the extension table and then to application/octet-stream. Parameters
// such as charset are dropped.
func DetectMIME(path string) string {
	if m, err := mimetype.DetectFile(path); err == nil {
		if t := baseType(m.String()); t != "" && t != "application/octet-stream" {
			return t
		}
	}
	if t := baseType(mime.TypeByExtension(filepath.Ext(path))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
