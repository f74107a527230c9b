package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"openfms/console/internal/model"
	"openfms/console/internal/querycache"
)

// SessionService opens and closes the backend session the API client carries.
type SessionService struct {
	backend Backend
	cache   *querycache.Cache
	logger  *zap.Logger
	onClose []func()

	mu       sync.RWMutex
	operator string
}

func NewSessionService(backend Backend, cache *querycache.Cache, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{backend: backend, cache: cache, logger: logger}
}

// OnLogout registers cleanup run after every logout.
func (s *SessionService) OnLogout(fn func()) {
	s.onClose = append(s.onClose, fn)
}

// Login posts the credentials url-encoded; the backend answers with a session cookie.
func (s *SessionService) Login(ctx context.Context, creds model.Credentials) error {
	if err := model.Validate(creds); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("email", creds.Email)
	form.Set("password", creds.Password)
	if err := s.backend.PostForm(ctx, "/session", form); err != nil {
		s.logger.Info("login rejected", zap.String("email", creds.Email), zap.Error(err))
		return fmt.Errorf("login: %w", err)
	}
	// cached collections belonged to whoever was logged in before
	s.cache.Clear()
	s.mu.Lock()
	s.operator = creds.Email
	s.mu.Unlock()
	return nil
}

// Operator is the email of the logged-in operator, or "" when logged out.
func (s *SessionService) Operator() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operator
}

// Logout closes the backend session on a best-effort basis and always drops
// local cookies and cached data.
func (s *SessionService) Logout(ctx context.Context) {
	if err := s.backend.Delete(ctx, "/session"); err != nil {
		s.logger.Warn("backend logout failed", zap.Error(err))
	}
	s.backend.ResetSession()
	s.cache.Clear()
	s.mu.Lock()
	s.operator = ""
	s.mu.Unlock()
	for _, fn := range s.onClose {
		fn()
	}
}
