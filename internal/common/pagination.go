package common

import (
	"net/http"
	"strconv"
)

const maxPerPage = 100

// AtoiDefault converts the provided string to an integer falling back to the
// default when parsing fails.
func AtoiDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// Offset returns the row offset for the current page.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// ParsePagination extracts page and limit parameters from query values,
// clamping the per-page size to a sane upper bound.
func ParsePagination(r *http.Request, defaultPerPage int) (page, perPage int) {
	page = AtoiDefault(r.URL.Query().Get("page"), 1)
	if page < 1 {
		page = 1
	}
	perPage = AtoiDefault(r.URL.Query().Get("limit"), defaultPerPage)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return
}
