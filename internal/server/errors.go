package server

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/Paintersrp/quill/internal/export"
	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/pathutil"
	"github.com/Paintersrp/quill/internal/volume"
)

// Error codes carried in the "code" field of error responses.
const (
	CodePathTraversal     = "PATH_TRAVERSAL"
	CodeOutsideWorkspace  = "PATH_OUTSIDE_WORKSPACE"
	CodeUnknownVolume     = "UNKNOWN_VOLUME"
	CodeFilenameTooLong   = "FILENAME_TOO_LONG"
	CodeFileExists        = "FILE_EXISTS"
	CodeCrossVolumeMove   = "CROSS_VOLUME_MOVE"
	CodeVolumeRoot        = "VOLUME_ROOT"
	CodeUnsupportedImage  = "UNSUPPORTED_IMAGE"
	CodeNotMarkdown       = "NOT_MARKDOWN"
	CodeUnknownFormat     = "UNKNOWN_FORMAT"
	CodeNotFound          = "NOT_FOUND"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeInvalidBody       = "INVALID_BODY"
	CodeInvalidParameter  = "INVALID_PARAMETER"
	CodeStreamUnsupported = "STREAM_UNSUPPORTED"
	CodeServerError       = "SERVER_ERROR"
)

type errorClass struct {
	err    error
	status int
	code   string
}

// errorClasses is checked in order; the first match wins.
var errorClasses = []errorClass{
	{pathutil.ErrPathTraversal, http.StatusBadRequest, CodePathTraversal},
	{pathutil.ErrPathOutsideWorkspace, http.StatusBadRequest, CodeOutsideWorkspace},
	{volume.ErrUnknownVolume, http.StatusBadRequest, CodeUnknownVolume},
	{pathutil.ErrFilenameTooLong, http.StatusBadRequest, CodeFilenameTooLong},
	{handler.ErrCrossVolumeMove, http.StatusBadRequest, CodeCrossVolumeMove},
	{handler.ErrVolumeRoot, http.StatusBadRequest, CodeVolumeRoot},
	{handler.ErrUnsupportedImage, http.StatusBadRequest, CodeUnsupportedImage},
	{handler.ErrNotMarkdown, http.StatusBadRequest, CodeNotMarkdown},
	{export.ErrUnknownFormat, http.StatusBadRequest, CodeUnknownFormat},
	{handler.ErrFileAlreadyExists, http.StatusConflict, CodeFileExists},
	{fs.ErrNotExist, http.StatusNotFound, CodeNotFound},
	{export.ErrNotImplemented, http.StatusNotImplemented, CodeNotImplemented},
}

// statusFor maps an error to its HTTP status and code. Unknown errors are
// server errors.
func statusFor(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, CodeServerError
}

// Sentinel returns the error a code was produced from, or nil for codes
// without one. Clients use it to restore errors.Is checks across HTTP.
func Sentinel(code string) error {
	for _, c := range errorClasses {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// errorMessage hides the detail of unexpected failures.
func errorMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "Server error"
	}
	return err.Error()
}
