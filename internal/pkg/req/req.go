/*
Package req provides helper functions for HTTP request parsing and data binding.
*/
package req

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"relaychat/internal/pkg/errs"
)

// MaxJSONBodySize caps the size of a JSON request body.
const MaxJSONBodySize int64 = 1 << 20 // 1 MB

// BindJSON binds the JSON request body to dst. Unknown fields and trailing data are rejected.
func BindJSON(r *http.Request, dst any) *errs.CustomError {
	raw, customErr := readJSONBody(r)
	if customErr != nil {
		return customErr
	}

	return decodeStrict(raw, dst)
}

// BindOneOrMany binds a body that is either a single JSON object or an array of objects.
// batch reports whether the client sent an array.
func BindOneOrMany[T any](r *http.Request) (items []T, batch bool, customErr *errs.CustomError) {
	raw, customErr := readJSONBody(r)
	if customErr != nil {
		return nil, false, customErr
	}

	if bytes.HasPrefix(raw, []byte("[")) {
		if customErr := decodeStrict(raw, &items); customErr != nil {
			return nil, true, customErr
		}
		if len(items) == 0 {
			return nil, true, errs.NewError(errs.ErrInvalidParams)
		}
		return items, true, nil
	}

	var item T
	if customErr := decodeStrict(raw, &item); customErr != nil {
		return nil, false, customErr
	}

	return []T{item}, false, nil
}

func readJSONBody(r *http.Request) (json.RawMessage, *errs.CustomError) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return nil, errs.NewError(errs.ErrUnsupportedMediaType)
	}

	var raw json.RawMessage
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxJSONBodySize))

	if err := decoder.Decode(&raw); err != nil {
		return nil, errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return nil, errs.NewError(errs.ErrExtraContentInBody)
	}

	return bytes.TrimSpace(raw), nil
}

func decodeStrict(raw []byte, dst any) *errs.CustomError {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	return nil
}
