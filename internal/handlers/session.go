package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/services"
)

var (
	errSessionFactoryRequired = errors.New("session registry: factory is required")
	errSessionHashKeyRequired = errors.New("session registry: hash key is required")
)

// Authenticator forwards login and logout to the commerce API for one session.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (commerce.Identity, error)
	Logout(ctx context.Context) error
}

// Session is the per-browser application context: one cart engine, one checkout
// orchestrator and the board they project onto.
type Session struct {
	ID       string
	Auth     Authenticator
	Carts    *services.CartSyncEngine
	Checkout *services.CheckoutOrchestrator
	Board    *projection.Board

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// SessionFactory builds and initialises the application context for a new session id.
type SessionFactory func(ctx context.Context, id string) (*Session, error)

// SessionOptions configures the cookie codec and eviction.
type SessionOptions struct {
	CookieName string
	HashKey    []byte
	BlockKey   []byte
	Secure     bool
	IdleTTL    time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// SessionRegistry maps signed session cookies to live sessions.
type SessionRegistry struct {
	codec   *securecookie.SecureCookie
	cookie  string
	secure  bool
	idleTTL time.Duration
	factory SessionFactory
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	creating singleflight.Group
}

type sessionContextKey struct{}

// NewSessionRegistry constructs a registry issuing cookies signed with opts.HashKey.
func NewSessionRegistry(factory SessionFactory, opts SessionOptions) (*SessionRegistry, error) {
	if factory == nil {
		return nil, errSessionFactoryRequired
	}
	if len(opts.HashKey) == 0 {
		return nil, errSessionHashKeyRequired
	}
	var block []byte
	if len(opts.BlockKey) > 0 {
		block = opts.BlockKey
	}
	codec := securecookie.New(opts.HashKey, block)
	if opts.IdleTTL > 0 {
		codec.MaxAge(int(opts.IdleTTL.Seconds()))
	}

	name := strings.TrimSpace(opts.CookieName)
	if name == "" {
		name = "storefront_session"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &SessionRegistry{
		codec:    codec,
		cookie:   name,
		secure:   opts.Secure,
		idleTTL:  opts.IdleTTL,
		factory:  factory,
		logger:   logger,
		now:      func() time.Time { return clock().UTC() },
		sessions: make(map[string]*Session),
	}, nil
}

// Middleware resolves the caller's session, issuing a fresh cookie when the existing one is
// missing or fails verification, and stores it on the request context.
func (reg *SessionRegistry) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id, ok := reg.decode(r)
			if !ok {
				id = uuid.NewString()
				if err := reg.issue(w, id); err != nil {
					requestctx.Logger(ctx).Error("session cookie encode failed", zap.Error(err))
					httpx.WriteError(ctx, w, httpx.NewError("session_error", "unable to start session", http.StatusInternalServerError))
					return
				}
			}

			session, err := reg.Get(ctx, id)
			if err != nil {
				requestctx.Logger(ctx).Error("session init failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "session could not be initialised", http.StatusServiceUnavailable))
				return
			}

			ctx = requestctx.WithSessionID(ctx, session.ID)
			ctx = context.WithValue(ctx, sessionContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (reg *SessionRegistry) decode(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(reg.cookie)
	if err != nil {
		return "", false
	}
	var id string
	if err := reg.codec.Decode(reg.cookie, cookie.Value, &id); err != nil {
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

func (reg *SessionRegistry) issue(w http.ResponseWriter, id string) error {
	encoded, err := reg.codec.Encode(reg.cookie, id)
	if err != nil {
		return err
	}
	cookie := &http.Cookie{
		Name:     reg.cookie,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   reg.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if reg.idleTTL > 0 {
		cookie.MaxAge = int(reg.idleTTL.Seconds())
	}
	http.SetCookie(w, cookie)
	return nil
}

// Get returns the live session for id, creating it once when concurrent requests race.
func (reg *SessionRegistry) Get(ctx context.Context, id string) (*Session, error) {
	now := reg.now()
	reg.evictIdle(now)

	reg.mu.Lock()
	session, ok := reg.sessions[id]
	reg.mu.Unlock()
	if ok {
		session.touch(now)
		return session, nil
	}

	v, err, _ := reg.creating.Do(id, func() (any, error) {
		reg.mu.Lock()
		existing, ok := reg.sessions[id]
		reg.mu.Unlock()
		if ok {
			return existing, nil
		}
		created, err := reg.factory(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		created.ID = id
		reg.mu.Lock()
		reg.sessions[id] = created
		reg.mu.Unlock()
		reg.logger.Debug("session created", zap.String("session", id))
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	session = v.(*Session)
	session.touch(now)
	return session, nil
}

// Len reports how many sessions are live.
func (reg *SessionRegistry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.sessions)
}

func (reg *SessionRegistry) evictIdle(now time.Time) {
	if reg.idleTTL <= 0 {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, session := range reg.sessions {
		if session.idleSince(now) > reg.idleTTL {
			delete(reg.sessions, id)
			reg.logger.Debug("session evicted", zap.String("session", id))
		}
	}
}

// SessionFromContext returns the session attached by the registry middleware.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	session, ok := ctx.Value(sessionContextKey{}).(*Session)
	return session, ok && session != nil
}

func requireSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("session_required", "session is required", http.StatusUnauthorized))
		return nil, false
	}
	return session, true
}
