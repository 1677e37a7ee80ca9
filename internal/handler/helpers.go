package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeSuccess wraps data in a successful envelope.
func writeSuccess(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, model.Success(msg, data))
}

// writeError writes a failed envelope. The HTTP status carries the error
// class; the envelope code is always CodeFailed.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.Failure(message))
}

var errEmptyBody = errors.New("request body is empty")

// readJSON decodes the request body into v. Numbers decode as json.Number
// when v holds interface values.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// queryInt extracts an integer query parameter. A missing parameter yields
// defaultVal; a malformed one is an error.
func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// classifyError maps an error to an HTTP status and a client-safe message.
// Driver text is never returned for 5xx responses.
func classifyError(err error, fallbackMsg string) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, database.ErrInvalidQuery),
		errors.Is(err, condition.ErrInvalidCondition):
		return http.StatusBadRequest, cleanMessage(err)
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, fallbackMsg + ": record does not exist"
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, cleanMessage(err)
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrInactiveUser):
		return http.StatusForbidden, cleanMessage(err)
	case errors.Is(err, database.ErrQuery):
		return classifyDBError(err, fallbackMsg)
	}
	return http.StatusInternalServerError, fallbackMsg
}

// cleanMessage drops the sentinel prefixes the executor adds, keeping the
// part a client can act on.
func cleanMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{
		database.ErrInvalidQuery.Error() + ": ",
		condition.ErrInvalidCondition.Error() + ": ",
		service.ErrValidation.Error() + ": ",
	} {
		msg = strings.ReplaceAll(msg, prefix, "")
	}
	return msg
}

// classifyDBError maps constraint violations reported by the driver to 4xx
// statuses. Anything else is a storage error.
func classifyDBError(err error, fallbackMsg string) (int, string) {
	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry") ||
		strings.Contains(lower, "violation of unique"):
		return http.StatusConflict, fallbackMsg + ": a record with the same unique value already exists"

	case strings.Contains(lower, "not null constraint") ||
		strings.Contains(lower, "cannot insert null") ||
		strings.Contains(lower, "null value in column") ||
		strings.Contains(lower, "column cannot be null"):
		return http.StatusBadRequest, fallbackMsg + ": a required field is missing"

	case strings.Contains(lower, "foreign key") ||
		strings.Contains(lower, "fk constraint"):
		return http.StatusBadRequest, fallbackMsg + ": a referenced record does not exist or is still in use"

	case strings.Contains(lower, "check constraint"):
		return http.StatusBadRequest, fallbackMsg + ": a value violates a check constraint"
	}
	return http.StatusInternalServerError, fallbackMsg
}

// pathID parses a positive integer id from a route parameter.
func pathID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
