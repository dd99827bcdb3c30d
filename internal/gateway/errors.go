package gateway

import (
	"encoding/json"
	"net/http"
	"sort"

	"loopline/internal/models"
)

// decodeError maps an error response onto the taxonomy. Bodies may be
// {"detail": msg}, a field map {"field": [msg, ...]}, or {"error", "code"}.
func decodeError(status int, data []byte) *models.AppError {
	switch {
	case status == http.StatusUnauthorized:
		return models.NewAuthError(messageOr(data, "Authentication credentials were not provided."))
	case status == http.StatusForbidden:
		return models.NewForbiddenError(messageOr(data, "You do not have permission to perform this action."))
	case status == http.StatusNotFound:
		e := models.NewNotFoundError("resource", "")
		e.Message = messageOr(data, "Not found.")
		return e
	case status >= 400 && status < 500:
		fields := fieldErrors(data)
		msg := messageOr(data, "")
		if msg == "" {
			msg = firstFieldMessage(fields, "Invalid input.")
		}
		e := models.NewValidationError(msg, fields)
		e.Status = status
		return e
	default:
		e := models.NewTransientError(status, nil)
		if msg := messageOr(data, ""); msg != "" {
			e.Message = msg
		}
		return e
	}
}

// messageOr returns the detail/error message of a JSON body, or fallback.
func messageOr(data []byte, fallback string) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return fallback
	}
	for _, key := range []string{"detail", "error", "message"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return fallback
}

func fieldErrors(data []byte) map[string][]string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	fields := make(map[string][]string)
	for key, raw := range body {
		switch key {
		case "detail", "error", "code", "message", "details":
			continue
		}
		var list []string
		if json.Unmarshal(raw, &list) == nil {
			fields[key] = list
			continue
		}
		var single string
		if json.Unmarshal(raw, &single) == nil {
			fields[key] = []string{single}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func firstFieldMessage(fields map[string][]string, fallback string) string {
	if msgs := fields["non_field_errors"]; len(msgs) > 0 {
		return msgs[0]
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(fields[k]) > 0 {
			return k + ": " + fields[k][0]
		}
	}
	return fallback
}
