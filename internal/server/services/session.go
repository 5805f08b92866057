package services

import (
	"context"
	"crypto/hmac"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/auth"
	"github.com/dmitrijs2005/dirkeeper/internal/server/config"
	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Assertion is what a client presents at login. Its verification is
// delegated to an Authenticator.
type Assertion struct {
	UserID     string
	Credential string
}

// Authenticator verifies a login assertion and returns the account it proves.
type Authenticator interface {
	Authenticate(ctx context.Context, a Assertion) (userID string, err error)
}

// DevAuthenticator accepts hex(HMAC-SHA256(secret, userID)) as the credential.
// It stands in for a real identity provider in development and tests.
type DevAuthenticator struct {
	Secret []byte
}

func (d DevAuthenticator) Authenticate(_ context.Context, a Assertion) (string, error) {
	if a.UserID == "" || len(d.Secret) == 0 {
		return "", common.ErrorUnauthorized
	}
	got, err := hex.DecodeString(a.Credential)
	if err != nil || !hmac.Equal(got, cryptox.DevCredential(d.Secret, a.UserID)) {
		return "", common.ErrorUnauthorized
	}
	return a.UserID, nil
}

// SessionService issues device sessions and their tokens.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	authn       Authenticator
	jwtSecret   []byte
	ttl         time.Duration
	logger      logging.Logger
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, authn Authenticator,
	cfg *config.Config, logger logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		authn:       authn,
		jwtSecret:   []byte(cfg.SecretKey),
		ttl:         cfg.SessionTTL,
		logger:      logger.With("module", "sessions"),
	}
}

// Login verifies the assertion, creates a session row for the device and
// returns its signed token.
func (s *SessionService) Login(ctx context.Context, a Assertion) (string, error) {
	userID, err := s.authn.Authenticate(ctx, a)
	if err != nil {
		return "", common.ErrorUnauthorized
	}

	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.repomanager.Sessions(s.db).Create(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	token, err := auth.GenerateToken(userID, sess.ID, s.jwtSecret, s.ttl)
	if err != nil {
		return "", common.ErrorInternal
	}
	s.logger.Info(ctx, "session created", "user_id", userID, "session_id", sess.ID)
	return token, nil
}

// Authorize checks a token and that its session still exists, so a logout
// revokes the token immediately.
func (s *SessionService) Authorize(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, err
	}

	sess, err := s.repomanager.Sessions(s.db).Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, common.ErrorUnauthorized
	}
	return claims, nil
}

// Logout destroys the device record together with its wrapped key.
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	if err := s.repomanager.Sessions(s.db).Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info(ctx, "session destroyed", "session_id", sessionID)
	return nil
}

// PurgeExpired drops sessions past their expiry.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repomanager.Sessions(s.db).DeleteExpired(ctx, time.Now())
}
