// ABOUTME: Structured error for non-2xx Sunshine responses
// ABOUTME: Carries HTTP status plus the code list from the response body

package sunshine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// APIError is returned for every non-2xx response.
type APIError struct {
	Op     string
	Status int
	Codes  []string
	Titles []string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sunshine: %s: status %d", e.Op, e.Status)
	if len(e.Codes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Codes, ", "))
	}
	if len(e.Titles) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Titles, "; "))
	}
	return b.String()
}

// RemoteStatus reports the HTTP status of the failed call.
func (e *APIError) RemoteStatus() int { return e.Status }

// Has reports whether the response carried code.
func (e *APIError) Has(code string) bool {
	return slices.Contains(e.Codes, code)
}

// HasCode reports whether err is an *APIError carrying code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Has(code)
}

type errorBody struct {
	Errors []struct {
		Code  string `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

func (b *errorBody) toAPIError(op string, status int) *APIError {
	e := &APIError{Op: op, Status: status}
	for _, item := range b.Errors {
		e.Codes = append(e.Codes, item.Code)
		title := item.Title
		if title == "" {
			title = item.Code
		}
		e.Titles = append(e.Titles, title)
	}
	return e
}
