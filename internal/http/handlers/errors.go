// Package handlers defines the error codes returned by the admin API.
//
// Clients branch on code; message is for humans. Example:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_idempotency_key",
//	  "message": "invalid idempotency key: must not be empty"
//	}
package handlers

import (
	"net/http"

	"github.com/tbourn/go-newsletter-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidKey      = "invalid_idempotency_key"
	ErrCodeInvalidDraft    = "invalid_newsletter"
	ErrCodeRequestInFlight = "request_in_flight"
	ErrCodePublishFailed   = "publish_failed"
	ErrCodeListFailed      = "list_failed"
)

// statusForKind maps a service error kind to the HTTP status and code
// returned to the client. Lock waits and persistence failures are both
// 500: the request may be retried with the same key.
func statusForKind(k services.Kind) (int, string) {
	switch k {
	case services.KindValidation:
		return http.StatusBadRequest, ErrCodeBadRequest
	case services.KindLockWait:
		return http.StatusInternalServerError, ErrCodeRequestInFlight
	case services.KindPersistence:
		return http.StatusInternalServerError, ErrCodePublishFailed
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
