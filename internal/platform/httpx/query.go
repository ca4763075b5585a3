package httpx

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query reads typed query parameters and collects malformed values as field errors.
type Query struct {
	values url.Values
	errs   *ValidationError
}

// NewQuery wraps the request's query string.
func NewQuery(r *http.Request) *Query {
	return &Query{values: r.URL.Query(), errs: &ValidationError{}}
}

// Has reports whether name is present and non-blank.
func (q *Query) Has(name string) bool {
	return strings.TrimSpace(q.values.Get(name)) != ""
}

// Int returns the integer value of name, or 0 when absent.
func (q *Query) Int(name string) int {
	if v := q.OptionalInt(name); v != nil {
		return *v
	}
	return 0
}

// OptionalInt returns nil when name is absent.
func (q *Query) OptionalInt(name string) *int {
	raw := strings.TrimSpace(q.values.Get(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		q.errs.Add(name, "must be an integer")
		return nil
	}
	return &v
}

// Bool returns true for "true", "1" and "yes".
func (q *Query) Bool(name string) bool {
	raw := strings.ToLower(strings.TrimSpace(q.values.Get(name)))
	switch raw {
	case "":
		return false
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	q.errs.Add(name, "must be a boolean")
	return false
}

// Err returns the collected field errors, or nil.
func (q *Query) Err() error {
	return q.errs.OrNil()
}
