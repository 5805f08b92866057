// Package httpapi exposes the key service, the session service and the
// migration relay over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/auth"
	"github.com/dmitrijs2005/dirkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
	"github.com/dmitrijs2005/dirkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	maxBodySize     = 1 << 20
	shutdownTimeout = 10 * time.Second
	limiterTTL      = 10 * time.Minute
	limiterSweep    = time.Minute
)

// KeyService is the part of services.KeyService the handlers use.
type KeyService interface {
	Setup(ctx context.Context, userID string, salt, wrapped, iv []byte) error
	Unwrap(ctx context.Context, userID string, passcode []byte) ([]byte, error)
	RewrapOnPasscodeChange(ctx context.Context, userID string, oldPasscode, newPasscode []byte) error
	FetchDirectory(ctx context.Context, userID, sessionID string) (*models.DirectoryBundle, error)
	PutDirectory(ctx context.Context, userID string, blob models.DirectoryBlob) error
	UpgradeDeviceToPRF(ctx context.Context, userID, sessionID string, wrapped, iv []byte) error
	FileDownload(ctx context.Context, userID, objectID string) (*models.FileDownload, error)
	FileUpload(ctx context.Context, userID string, dek models.WrappedDEK) (objectID, url string, err error)
}

// SessionService is the part of services.SessionService the handlers use.
type SessionService interface {
	Login(ctx context.Context, a services.Assertion) (string, error)
	Authorize(ctx context.Context, token string) (*auth.Claims, error)
	Logout(ctx context.Context, sessionID string) error
}

// Config tunes the HTTP front. TrustProxy honours X-Forwarded-For and
// X-Real-IP; enable it only behind a proxy that overwrites them.
type Config struct {
	Address     string
	UnwrapRate  float64
	UnwrapBurst int
	TrustProxy  bool
}

type HTTPServer struct {
	address    string
	trustProxy bool
	keys       KeyService
	sessions   SessionService
	relay      http.Handler
	metrics    *metrics.Metrics
	limiter    *multiLimiter
	logger     logging.Logger
}

// NewHTTPServer wires the handlers. relay and m may be nil, in which case
// the relay socket and the scrape endpoint are not mounted.
func NewHTTPServer(cfg Config, l logging.Logger, keys KeyService, sessions SessionService,
	relay http.Handler, m *metrics.Metrics) *HTTPServer {
	return &HTTPServer{
		address:    cfg.Address,
		trustProxy: cfg.TrustProxy,
		keys:       keys,
		sessions:   sessions,
		relay:      relay,
		metrics:    m,
		limiter:    newMultiLimiter(rate.Limit(cfg.UnwrapRate), cfg.UnwrapBurst, limiterTTL),
		logger:     l.With("module", "http_server"),
	}
}

// Router builds the chi routing tree.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(s.requestLogger)

	r.Get(api.PathHealth, s.Health)
	if s.metrics != nil {
		r.Handle(api.PathMetrics, s.metrics.Handler())
	}
	if s.relay != nil {
		r.Handle(api.PathRelay, s.relay)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limitBody)
		r.Post(api.PathSession, s.Login)

		r.Group(func(r chi.Router) {
			r.Use(s.accessTokenMiddleware)

			r.Delete(api.PathSession, s.Logout)
			r.Post(api.PathSetup, s.Setup)
			r.With(s.rateLimit).Post(api.PathUnwrap, s.Unwrap)
			r.With(s.rateLimit).Post(api.PathPasscode, s.ChangePasscode)
			r.Get(api.PathDirectory, s.GetDirectory)
			r.Put(api.PathDirectory, s.PutDirectory)
			r.Post(api.PathDevicePRF, s.UpgradeDevice)
			r.Post(api.PathFiles, s.UploadFile)
			r.Get(api.PathFiles+"/{objectID}", s.DownloadFile)
		})
	})
	return r
}

func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown", "error", err)
		}
	}()

	go s.limiter.cleanup(ctx, limiterSweep)

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
