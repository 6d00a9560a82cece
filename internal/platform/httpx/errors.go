// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
)

// ErrorRule maps a domain error to a problem response.
type ErrorRule struct {
	Err    error
	Status int
	Title  string
	// Type is the optional RFC7807 problem type.
	Type string
}

var defaultRules = []ErrorRule{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

// RespondError maps domain errors to HTTP responses using RFC7807. rules are
// checked in order before the transport defaults; unmatched errors become 500
// without leaking detail.
func RespondError(w http.ResponseWriter, err error, rules ...ErrorRule) {
	for _, set := range [][]ErrorRule{rules, defaultRules} {
		for _, rule := range set {
			if errors.Is(err, rule.Err) {
				JSON(w, rule.Status, ProblemDetail{
					Type:   rule.Type,
					Title:  rule.Title,
					Status: rule.Status,
					Detail: err.Error(),
				})
				return
			}
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
