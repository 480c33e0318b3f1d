package config

import (
	"errors"
	"net"

	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/internal/ratelimiter"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/schema"
	"github.com/marmos91/dittoldap/pkg/session"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
)

// SessionFactory creates sessions sharing the directory, schema, sorter and
// metrics built from configuration.
type SessionFactory struct {
	manager        directory.OperationManager
	schema         *schema.Schema
	sorter         *extsort.Sorter
	metrics        *MetricsResult
	limiter        *ratelimiter.RateLimiter
	allowAnonymous bool
}

// NewSessionFactory wires the components a session needs.
// Sessions share one rate limiter when server.rate_limit is set.
func NewSessionFactory(cfg *Config, manager directory.OperationManager, s *schema.Schema, sorter *extsort.Sorter, m *MetricsResult) *SessionFactory {
	f := &SessionFactory{
		manager:        manager,
		schema:         s,
		sorter:         sorter,
		metrics:        m,
		allowAnonymous: cfg.Server.AllowAnonymous,
	}
	rl := cfg.Server.RateLimit
	limiter := ratelimiter.New(rl.RequestsPerSecond, rl.Burst)
	if limiter.Unlimited() {
		logger.Debug("Operation rate limit disabled")
		return f
	}
	f.limiter = limiter
	logger.Info("Operation rate limit: %d/s (%.0f tokens of burst)", rl.RequestsPerSecond, limiter.Tokens())
	return f
}

// ErrAnonymousDisabled is returned when an anonymous session is requested
// but server.allow_anonymous is false.
var ErrAnonymousDisabled = errors.New("anonymous sessions are disabled")

// NewSession opens a session for principal. A nil principal requests an
// anonymous session.
//
// Parameters:
//   - principal: Authenticated principal, or nil
//   - client, service: Connection endpoints (may be nil)
//
// Returns:
//   - *session.Session: The new session
//   - error: ErrAnonymousDisabled when anonymous access is not allowed
func (f *SessionFactory) NewSession(principal *directory.Principal, client, service net.Addr) (*session.Session, error) {
	if principal.IsAnonymous() && !f.allowAnonymous {
		return nil, ErrAnonymousDisabled
	}

	cfg := session.Config{
		Principal:   principal,
		ClientAddr:  client,
		ServiceAddr: service,
		Schema:      f.schema,
	}
	if f.sorter != nil {
		cfg.Sorter = f.sorter
	}
	if f.metrics != nil {
		cfg.Metrics = f.metrics.Session
	}
	if f.limiter != nil {
		cfg.Limiter = f.limiter
	}
	return session.New(f.manager, cfg), nil
}
