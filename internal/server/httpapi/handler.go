package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *HTTPServer) Login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.sessions.Login(r.Context(), services.Assertion{UserID: req.UserID, Credential: req.Credential})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.LoginResponse{Token: token})
}

func (s *HTTPServer) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), claimsFrom(r.Context()).SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) Setup(w http.ResponseWriter, r *http.Request) {
	var req api.SetupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	userID := claimsFrom(r.Context()).UserID
	if err := s.keys.Setup(r.Context(), userID, req.Salt, req.Wrapped, req.IV); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "encryption set up", "user_id", userID)
	w.WriteHeader(http.StatusCreated)
}

func (s *HTTPServer) Unwrap(w http.ResponseWriter, r *http.Request) {
	var req api.UnwrapRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	passcode := []byte(req.Passcode)
	defer common.WipeByteArray(passcode)

	dirKey, err := s.keys.Unwrap(r.Context(), claimsFrom(r.Context()).UserID, passcode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer common.WipeByteArray(dirKey)
	s.writeJSON(w, http.StatusOK, api.UnwrapResponse{DirectoryKey: dirKey})
}

func (s *HTTPServer) ChangePasscode(w http.ResponseWriter, r *http.Request) {
	var req api.ChangePasscodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	oldPasscode, newPasscode := []byte(req.OldPasscode), []byte(req.NewPasscode)
	defer common.WipeByteArray(oldPasscode)
	defer common.WipeByteArray(newPasscode)

	if err := s.keys.RewrapOnPasscodeChange(r.Context(), claimsFrom(r.Context()).UserID, oldPasscode, newPasscode); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) GetDirectory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	bundle, err := s.keys.FetchDirectory(r.Context(), claims.UserID, claims.SessionID)
	if errors.Is(err, common.ErrNeedsDeviceSetup) && bundle != nil {
		s.writeJSON(w, http.StatusConflict, api.ErrorResponse{
			Error:            err.Error(),
			NeedsDeviceSetup: true,
			Scheme:           string(bundle.Scheme),
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, api.DirectoryResponse{
		Scheme:      string(bundle.Scheme),
		DeviceKey:   bundle.DeviceKey,
		DeviceKeyIV: bundle.DeviceKeyIV,
		Directory:   bundle.Directory,
	})
}

func (s *HTTPServer) PutDirectory(w http.ResponseWriter, r *http.Request) {
	var blob api.DirectoryBlob
	if err := decodeJSON(r, &blob); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.keys.PutDirectory(r.Context(), claimsFrom(r.Context()).UserID, blob); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) UpgradeDevice(w http.ResponseWriter, r *http.Request) {
	var req api.DeviceKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	claims := claimsFrom(r.Context())
	if err := s.keys.UpgradeDeviceToPRF(r.Context(), claims.UserID, claims.SessionID, req.Wrapped, req.IV); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "device key stored", "user_id", claims.UserID, "session_id", claims.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) UploadFile(w http.ResponseWriter, r *http.Request) {
	var req api.UploadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	objectID, url, err := s.keys.FileUpload(r.Context(), claimsFrom(r.Context()).UserID, req.DEK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.UploadResponse{ObjectID: objectID, URL: url})
}

func (s *HTTPServer) DownloadFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.keys.FileDownload(r.Context(), claimsFrom(r.Context()).UserID, chi.URLParam(r, "objectID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FileResponse{URL: file.URL, DEK: file.DEK})
}
