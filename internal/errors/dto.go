package errors

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorDetail is the serialisable form of an error reported for a failed run
type ErrorDetail struct {
	Code          string         `json:"code"`
	Display       string         `json:"message"`
	InternalError string         `json:"internal_error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// ToErrorDetail flattens err into an ErrorDetail
func ToErrorDetail(err error) ErrorDetail {
	if err == nil {
		return ErrorDetail{}
	}

	display := err.Error()
	// GetAllHints is a post-order traversal, the first non-empty hint wins
	for _, hint := range errors.GetAllHints(err) {
		if hint = strings.TrimSpace(hint); hint != "" {
			display = hint
			break
		}
	}

	details := ReportableDetails(err)
	if len(details) == 0 {
		details = nil
	}

	return ErrorDetail{
		Code:          Code(err),
		Display:       display,
		InternalError: err.Error(),
		Details:       details,
	}
}
