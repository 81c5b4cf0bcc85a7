package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mohammed-shakir/farm-segmentation/internal/logger"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
	"github.com/mohammed-shakir/farm-segmentation/internal/segment"
	"github.com/mohammed-shakir/farm-segmentation/internal/tiles"
)

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

const (
	CodeBadRequest        = "bad_request"
	CodeConfiguration     = "configuration_error"
	CodeTileFetchFailed   = "tile_fetch_failed"
	CodeOracleUnavailable = "oracle_unavailable"
	CodeOracleFailed      = "oracle_failed"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal_error"
)

// classify maps a pipeline error onto a status, code and client message.
func classify(err error) (int, string, string) {
	var (
		ve *segment.ValidationError
		ce *segment.ConfigurationError
		fe *tiles.FetchError
		ie *oracle.InitError
		pe *segment.PredictError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, CodeBadRequest, ve.Error()
	case errors.As(err, &ce):
		return http.StatusInternalServerError, CodeConfiguration, ce.Error()
	case errors.As(err, &fe):
		return http.StatusBadGateway, CodeTileFetchFailed, fe.Error()
	case errors.As(err, &ie):
		return http.StatusServiceUnavailable, CodeOracleUnavailable, ie.Error()
	case errors.As(err, &pe):
		return http.StatusBadGateway, CodeOracleFailed, pe.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal server error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Status:    status,
		Code:      code,
		Message:   msg,
		RequestID: logger.RequestID(r.Context()),
	})
}
