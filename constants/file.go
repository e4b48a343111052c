package constants

import "strings"

// AllowedExtensions holds the allowed file extensions for extraction uploads.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"tiff": {},
	"bmp":  {},
	"gif":  {},
	"webp": {},
}

// ContentTypes maps a normalized extension to its MIME type for blob
// uploads and signed URLs. Unknown extensions fall back to octet-stream.
var ContentTypes = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"tiff": "image/tiff",
	"tif":  "image/tiff",
	"bmp":  "image/bmp",
	"json": "application/json",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ContentTypeFor returns the MIME type for a filename based on its extension.
func ContentTypeFor(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "application/octet-stream"
	}
	if ct, ok := ContentTypes[NormalizeExt(filename[idx:])]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ExtensionAllowed reports whether the filename carries an allowed extension.
func ExtensionAllowed(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	_, ok := AllowedExtensions[NormalizeExt(filename[idx:])]
	return ok
}
