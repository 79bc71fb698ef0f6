package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// maxBodyBytes bounds request bodies; signed requests are a few KiB.
const maxBodyBytes = 64 << 10

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusOf maps an error kind to its HTTP status.
var statusOf = map[string]int{
	"InvalidAmount":     http.StatusBadRequest,
	"AssetMismatch":     http.StatusBadRequest,
	"InvalidAddress":    http.StatusBadRequest,
	"Unauthorized":      http.StatusForbidden,
	"MarketNotFound":    http.StatusNotFound,
	"NotFound":          http.StatusNotFound,
	"DuplicateMarket":   http.StatusConflict,
	"InsufficientFunds": http.StatusUnprocessableEntity,
	"NumericalOverflow": http.StatusUnprocessableEntity,
	"RateLimited":       http.StatusTooManyRequests,
	"RequestExpired":    http.StatusBadRequest,
	"Replayed":          http.StatusConflict,
	"TransferFailed":    http.StatusInternalServerError,
}

// writeServiceError reports err with its kind. Internal failures are logged
// and their detail withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.ErrorKind(err)
	status, ok := statusOf[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		if kind == "Internal" {
			msg = "internal server error"
		}
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// decodeJSON reads a single JSON object from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// parseListOpts reads limit (default 50, at most 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, 500)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	return opts
}

// addressParam parses the named path segment as an address.
func addressParam(r *http.Request, name string) (domain.Address, error) {
	addr, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		return domain.Address{}, fmt.Errorf("path %s: %w", name, err)
	}
	return addr, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
