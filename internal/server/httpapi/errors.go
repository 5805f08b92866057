package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

var errTooManyRequests = errors.New("too many requests")

func errorBody(err error) api.ErrorResponse {
	return api.ErrorResponse{Error: err.Error()}
}

// statusFor maps service errors onto HTTP. Wrong secrets, lockouts and the
// provisioning states each get a distinct status so the client can tell
// them apart without parsing messages.
func statusFor(err error) (int, api.ErrorResponse) {
	var locked *common.LockedOutError
	switch {
	case errors.As(err, &locked):
		body := api.ErrorResponse{Error: locked.Error(), Permanent: locked.Permanent}
		if !locked.Permanent {
			body.RetryAt = locked.RetryAt.UnixMilli()
		}
		return http.StatusLocked, body
	case errors.Is(err, common.ErrWrongSecret):
		return http.StatusUnauthorized, errorBody(common.ErrWrongSecret)
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, errorBody(common.ErrorUnauthorized)
	case errors.Is(err, common.ErrNeedsSetup):
		return http.StatusConflict, api.ErrorResponse{Error: err.Error(), NeedsSetup: true}
	case errors.Is(err, common.ErrNeedsDeviceSetup):
		return http.StatusConflict, api.ErrorResponse{Error: err.Error(), NeedsDeviceSetup: true}
	case errors.Is(err, common.ErrSchemeMismatch),
		errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict, errorBody(err)
	case errors.Is(err, common.ErrInvalidSecret),
		errors.Is(err, common.ErrInvalidRequest):
		return http.StatusBadRequest, errorBody(err)
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, errorBody(common.ErrorNotFound)
	default:
		return http.StatusInternalServerError, errorBody(common.ErrorInternal)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, body)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.ErrInvalidRequest
	}
	return nil
}
