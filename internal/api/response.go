package api

import (
	"encoding/json"
	"net/http"

	"github.com/strefethen/sonosstream/internal/apperrors"
)

// =============================================================================
// Stripe API Standard Response Types
// =============================================================================

// StripeListResponse is the Stripe-style list response for all collection endpoints.
// Example: {"object": "list", "data": [...], "has_more": false, "url": "/v1/fleet"}
type StripeListResponse struct {
	Object  string `json:"object"`   // Always "list"
	Data    any    `json:"data"`     // Array of resources
	HasMore bool   `json:"has_more"` // Whether more items exist beyond this page
	URL     string `json:"url"`      // The URL for this list endpoint
}

// StripeErrorResponse wraps errors in Stripe format.
type StripeErrorResponse struct {
	Error apperrors.StripeErrorBody `json:"error"`
}

// =============================================================================
// Core Response Functions
// =============================================================================

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an AppError into the Stripe-style error response.
// Response format: {"error": {"type": "...", "code": "...", "message": "..."}}
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)

	response := StripeErrorResponse{
		Error: appErr.StripeErrorBody(),
	}

	_ = WriteJSON(w, appErr.StatusCode, response)
}

// =============================================================================
// Stripe-Style Response Helpers
// =============================================================================

// WriteList writes a Stripe-style list response.
// Example: WriteList(w, "/v1/fleet", speakers, false)
// Produces: {"object": "list", "data": [...], "has_more": false, "url": "/v1/fleet"}
func WriteList(w http.ResponseWriter, url string, data any, hasMore bool) error {
	return WriteJSON(w, http.StatusOK, StripeListResponse{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
		URL:     url,
	})
}

// WriteResource writes a single resource directly (Stripe-style, no wrapper).
// The resource should already have an "object" field set.
func WriteResource(w http.ResponseWriter, status int, resource any) error {
	return WriteJSON(w, status, resource)
}
