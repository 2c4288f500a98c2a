package validation

import (
	"path/filepath"
	"regexp"
	"strings"
)

var filenameSafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// AllowedImageExtensions are the upload extensions accepted across all purposes.
var AllowedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// ValidateImageExtension checks the file extension against the image allowlist.
func ValidateImageExtension(filename string) bool {
	return AllowedImageExtensions[strings.ToLower(filepath.Ext(filename))]
}

// MimeTypeAllowed reports whether mimeType is in the allowlist. An empty
// allowlist accepts any image/* type.
func MimeTypeAllowed(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return strings.HasPrefix(mimeType, "image/")
	}
	for _, a := range allowed {
		if strings.EqualFold(a, mimeType) {
			return true
		}
	}
	return false
}

// SanitizeFilename strips path components and anything outside a conservative
// character set, keeping the extension intact.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "\x00", "")
	name = filenameSafe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
