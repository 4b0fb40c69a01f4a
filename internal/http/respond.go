package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"conti/internal/core"
	"conti/internal/formula"
	"conti/internal/log"
	"conti/internal/services"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var evalErr *formula.EvalError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrGoalAutoTracked):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoPublisher):
		return http.StatusServiceUnavailable
	case core.IsValidation(err), errors.As(err, &evalErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and their
// detail is withheld from the client.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().
				WithUser(UserID(r.Context())).
				WithOperation(op).
				WithError(err).
				WithErrorType(log.ErrorTypeInternal).
				ToSlice()...)
		writeError(w, r, status, http.StatusText(status))
		return
	}
	writeError(w, r, status, err.Error())
}

// decodeJSON reads one JSON value from the body into v, rejecting unknown fields
// and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var vErr *core.ValidationError
		if errors.As(err, &vErr) {
			return err
		}
		return core.NewValidationError("invalid request body: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return core.NewValidationError("invalid request body: trailing data")
	}
	return nil
}

func pathInt(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.NewValidationError(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return n, nil
}

func pathYear(r *http.Request) (int, error) {
	year, err := pathInt(r, "year")
	if err != nil {
		return 0, err
	}
	if year < 1900 || year > 9999 {
		return 0, core.NewValidationError(fmt.Sprintf("year %d out of range", year))
	}
	return year, nil
}

func queryDate(r *http.Request, name string) (core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(raw)
}
