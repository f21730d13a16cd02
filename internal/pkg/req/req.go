/*
Package req provides helper functions for HTTP request parsing and data binding.

It encapsulates JSON body binding with strict field checking, so malformed or
unexpected input is rejected before it reaches business logic.
*/
package req

import (
	"encoding/json"
	"net/http"
	"strings"

	"kwite/internal/pkg/errs"
)

// MaxBodySize defines the maximum allowed size (64 KB) for a JSON request body.
const MaxBodySize int64 = 64 << 10

// BindJSON attempts to bind the JSON data from the HTTP request body to the destination struct dst.
// Unknown fields and trailing content are rejected.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}
