package ui

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query parameters understood by the list view
const (
	ParamPage        = "page"
	ParamCountOnPage = "count"
	ParamSort        = "sort"
	ParamDirection   = "direction"
)

// PageURLBuilder provides a fluent interface for building list view URLs
type PageURLBuilder struct {
	basePath string
	params   url.Values
}

// NewPageURL creates a new URL builder for the given path
func NewPageURL(basePath string) *PageURLBuilder {
	return &PageURLBuilder{
		basePath: basePath,
		params:   make(url.Values),
	}
}

// PreserveFromRequest copies all user-facing parameters from the current request
func (b *PageURLBuilder) PreserveFromRequest(r *http.Request) *PageURLBuilder {
	for k, v := range r.URL.Query() {
		if !isInternalParam(k) {
			b.params[k] = v
		}
	}
	return b
}

// WithSort sets sorting parameters
func (b *PageURLBuilder) WithSort(field, direction string) *PageURLBuilder {
	if field != "" {
		b.params.Set(ParamSort, field)
		if direction != "" {
			b.params.Set(ParamDirection, direction)
		}
	}
	return b
}

// WithPage sets the zero-based page, dropping the parameter on the first page
func (b *PageURLBuilder) WithPage(page int) *PageURLBuilder {
	if page <= 0 {
		b.params.Del(ParamPage)
		return b
	}
	b.params.Set(ParamPage, strconv.Itoa(page))
	return b
}

// WithCountOnPage sets the page size
func (b *PageURLBuilder) WithCountOnPage(count int) *PageURLBuilder {
	if count > 0 {
		b.params.Set(ParamCountOnPage, strconv.Itoa(count))
	}
	return b
}

// WithFilter adds a filter parameter
func (b *PageURLBuilder) WithFilter(key, value string) *PageURLBuilder {
	if key != "" && value != "" {
		b.params.Set(key, value)
	}
	return b
}

// String builds and returns the final URL
func (b *PageURLBuilder) String() string {
	if len(b.params) == 0 {
		return b.basePath
	}
	return b.basePath + "?" + b.params.Encode()
}

// isInternalParam checks if a parameter is internal and should not be preserved
// when building new URLs based on current request
func isInternalParam(key string) bool {
	internalParams := []string{
		"success", // Success messages
		"error",   // Error messages
	}

	for _, param := range internalParams {
		if strings.EqualFold(key, param) {
			return true
		}
	}
	return false
}
