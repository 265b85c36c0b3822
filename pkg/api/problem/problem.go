// Package problem implements RFC 7807 Problem Detail responses for the
// escrow API. Every taxonomy error maps to a stable machine-readable code
// so clients can branch without parsing message text.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bridgelock/escrow/pkg/contracts"
)

// Detail implements RFC 7807 (Problem Details for HTTP APIs), extended with
// the taxonomy code.
type Detail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Code is the machine-readable taxonomy code, e.g. "INVALID_PREIMAGE".
	Code string `json:"code"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (p *Detail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Write writes a Problem Detail JSON response.
func Write(w http.ResponseWriter, status int, code, title, detail string) {
	p := &Detail{
		Type:   fmt.Sprintf("https://bridgelock.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Code:   code,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError maps a taxonomy error to its HTTP status and code and writes
// the response.
func WriteError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	Write(w, status, contracts.ErrorCode(err), http.StatusText(status), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrDuplicateCommitment),
		errors.Is(err, contracts.ErrAlreadyInitialized),
		errors.Is(err, contracts.ErrInvalidTransition),
		errors.Is(err, contracts.ErrExpired),
		errors.Is(err, contracts.ErrNotYetExpired):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrInvalidPreimage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contracts.ErrInsufficientBalance),
		errors.Is(err, contracts.ErrInvalidParameters),
		errors.Is(err, contracts.ErrArithmeticOverflow):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// WriteUnauthorized writes a 401 response for missing or invalid credentials.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	Write(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Unauthorized", detail)
}

// WriteBadRequest writes a 400 response for malformed requests.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	Write(w, http.StatusBadRequest, "INVALID_PARAMETERS", "Bad Request", detail)
}

// WriteTooManyRequests writes a 429 response.
func WriteTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	Write(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too Many Requests", "per-actor rate limit exceeded")
}
