package api

import (
	"net/http"
	"strconv"
	"time"
)

const (
	// Pagination defaults and limits.
	defaultLimit = 20
	maxLimit     = 100
	minLimit     = 1
)

type (
	// listParams holds parsed pagination and time-range query parameters shared
	// by the list endpoints.
	listParams struct {
		since  *time.Time
		until  *time.Time
		limit  int
		offset int
	}

	// paramError represents a query parameter validation error.
	paramError struct {
		param string
		msg   string
	}
)

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}

// parseListParams parses since/until/limit/offset with validation.
func parseListParams(r *http.Request) (*listParams, error) {
	q := r.URL.Query()

	params := &listParams{
		limit:  defaultLimit,
		offset: 0,
	}

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, &paramError{param: "since", msg: "must be valid ISO8601 timestamp"}
		}

		params.since = &t
	}

	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return nil, &paramError{param: "until", msg: "must be valid ISO8601 timestamp"}
		}

		params.until = &t
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, &paramError{param: "limit", msg: "must be a valid integer"}
		}

		if limit < minLimit || limit > maxLimit {
			return nil, &paramError{param: "limit", msg: "must be between 1 and 100"}
		}

		params.limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, &paramError{param: "offset", msg: "must be a valid integer"}
		}

		if offset < 0 {
			return nil, &paramError{param: "offset", msg: "must be >= 0"}
		}

		params.offset = offset
	}

	return params, nil
}

// parseFloatParam parses an optional float query parameter in [0,1].
func parseFloatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil //nolint:nilnil // absent parameter, not an error
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &paramError{param: name, msg: "must be a valid number"}
	}

	if value < 0 || value > 1 {
		return nil, &paramError{param: name, msg: "must be between 0 and 1"}
	}

	return &value, nil
}
