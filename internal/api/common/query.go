package common

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// QueryParam returns the trimmed query parameter, rejecting values that contain
// whitespace
func QueryParam(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if strings.ContainsAny(value, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", name)
	}
	return value, nil
}

// TimeQueryParam parses an RFC 3339 query parameter. A missing parameter yields
// nil.
func TimeQueryParam(r *http.Request, name string) (*time.Time, error) {
	value, err := QueryParam(r, name)
	if err != nil || value == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}
