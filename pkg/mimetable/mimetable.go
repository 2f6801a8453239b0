// Package mimetable holds the fixed mapping from remote-native document
// MIME types to an export MIME type and a file-name extension.
package mimetable

import "strings"

const googleAppsPrefix = "application/vnd.google-apps"

// Translation is one remote-MIME -> export-MIME/extension mapping.
type Translation struct {
	ExportMime string
	Extension  string
}

var table = map[string]Translation{
	"application/vnd.google-apps.document": {
		ExportMime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Extension:  ".docx",
	},
	"application/vnd.google-apps.spreadsheet": {
		ExportMime: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Extension:  ".xlsx",
	},
	"application/vnd.google-apps.presentation": {
		ExportMime: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		Extension:  ".pptx",
	},
	"application/vnd.google-apps.drawing": {
		ExportMime: "image/png",
		Extension:  ".png",
	},
}

// Lookup returns the export translation for a remote MIME type, if any.
func Lookup(remoteMime string) (Translation, bool) {
	t, ok := table[remoteMime]
	return t, ok
}

// IsGoogleAppsType reports whether mime belongs to the google-apps family
// (documents, spreadsheets, presentations, drawings, forms, sites, ...).
func IsGoogleAppsType(mime string) bool {
	return strings.HasPrefix(mime, googleAppsPrefix)
}

// IsUnsupportedGoogleAppsType reports whether mime is a google-apps type
// with no export translation — these items are skipped, not archived.
func IsUnsupportedGoogleAppsType(mime string) bool {
	if !IsGoogleAppsType(mime) {
		return false
	}
	_, ok := table[mime]
	return !ok
}
