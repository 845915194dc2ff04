package common

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in query strings.
const DateLayout = "2006-01-02"

// QueryInt returns the integer query parameter or def when absent or invalid.
func QueryInt(r *http.Request, key string, def int) int {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// QueryInt64 parses an optional positive id parameter.
func QueryInt64(r *http.Request, key string) (*int64, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return nil, BadRequest(key+" must be a positive integer", err)
	}
	return &parsed, nil
}

// QueryBool treats "true" and "1" as true.
func QueryBool(r *http.Request, key string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key))) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// QueryDate accepts YYYY-MM-DD or RFC3339 values.
func QueryDate(r *http.Request, key string) (*time.Time, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return nil, nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return nil, BadRequest(key+" must be a date (YYYY-MM-DD)", err)
	}
	return &t, nil
}

// QueryEndDate parses an end date naming the last day to include and returns
// the exclusive bound one day later.
func QueryEndDate(r *http.Request, key string) (*time.Time, error) {
	t, err := QueryDate(r, key)
	if err != nil || t == nil {
		return t, err
	}
	next := t.AddDate(0, 0, 1)
	return &next, nil
}

// ParseDate parses a calendar date or a full timestamp.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

// PathInt64 converts a route parameter to a positive id.
func PathInt64(value, name string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, BadRequest("invalid "+name, err)
	}
	return parsed, nil
}
