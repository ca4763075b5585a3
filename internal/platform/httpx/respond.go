// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts are emitted as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// ProblemDetail represents RFC7807 problem details wrapped in the API envelope.
type ProblemDetail struct {
	Success bool         `json:"success"`
	Type    string       `json:"type,omitempty"`
	Title   string       `json:"title"`
	Status  int          `json:"status"`
	Detail  string       `json:"detail,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// Envelope is the success response shape shared by every JSON endpoint.
type Envelope struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends a success envelope.
func OK(w http.ResponseWriter, data any, warnings ...string) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data, Warnings: warnings})
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes JSON request body into the target struct, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return NewValidationError("body", err.Error())
	}
	return nil
}
