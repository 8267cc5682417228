package domain

import "errors"

var (
	ErrNotAllowed           = errors.New("not allowed")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrNotADirectory        = errors.New("not a directory")
	ErrIsADirectory         = errors.New("is a directory")
	ErrUnsupportedMedia     = errors.New("unsupported media")
	ErrDecodeFailed         = errors.New("decode failed")
	ErrDirectoryNotEmpty    = errors.New("directory not empty")
	ErrRangeNotSatisfiable  = errors.New("range not satisfiable")
	ErrToolUnavailable      = errors.New("upstream tool unavailable")
	ErrThumbnailUnavailable = errors.New("thumbnail unavailable")
	ErrFeatureDisabled      = errors.New("feature disabled")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrBusy                 = errors.New("busy")
)

// Order matters: a thumbnail failure caused by a missing tool reports the tool.
var codes = []struct {
	err  error
	code string
	msg  string
}{
	// Boundary violations look exactly like missing files.
	{ErrForbidden, "not_found", "not found"},
	{ErrNotFound, "not_found", "not found"},
	{ErrNotAllowed, "not_allowed", "not allowed"},
	{ErrFeatureDisabled, "feature_disabled", "feature disabled"},
	{ErrNotADirectory, "not_a_directory", "not a directory"},
	{ErrIsADirectory, "is_a_directory", "is a directory"},
	{ErrUnsupportedMedia, "unsupported_media", "unsupported media type"},
	{ErrDecodeFailed, "decode_failed", "could not decode file"},
	{ErrDirectoryNotEmpty, "directory_not_empty", "directory not empty"},
	{ErrRangeNotSatisfiable, "range_not_satisfiable", "range not satisfiable"},
	{ErrToolUnavailable, "tool_unavailable", "media tool unavailable"},
	{ErrThumbnailUnavailable, "thumbnail_unavailable", "thumbnail unavailable"},
	{ErrAlreadyExists, "already_exists", "already exists"},
	{ErrInvalidRequest, "invalid_request", "invalid request"},
	{ErrBusy, "busy", "operation already running"},
}

// Code returns the stable client facing code for err.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// PublicMessage returns a message safe to show clients; it never includes paths.
func PublicMessage(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.msg
		}
	}
	return "internal error"
}
