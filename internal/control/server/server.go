package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/control/auth"
	"github.com/xela07ax/opencontrol/internal/control/handler"
	"github.com/xela07ax/opencontrol/internal/infra"
)

// Server — Boundary Adapter control plane: принимает bearer-токены,
// резолвит их в аутентифицированный контекст и транслирует доменные
// ошибки в единый HTTP-конверт.
type Server struct {
	router  *chi.Mux
	logger  *zap.Logger
	metrics *infra.Metrics

	resolver auth.TokenResolver

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler     // /v1/auth/device/*
	identityHandler *handler.IdentityHandler // /v1/me, /v1/org
	sessionHandler  *handler.SessionHandler  // /v1/sessions
}

// New собирает сервер со всеми зависимостями.
func New(
	logger *zap.Logger,
	metrics *infra.Metrics,
	resolver auth.TokenResolver,
	authH *handler.AuthHandler,
	identityH *handler.IdentityHandler,
	sessionH *handler.SessionHandler,
) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		logger:          logger.Named("control-api"),
		metrics:         metrics,
		resolver:        resolver,
		authHandler:     authH,
		identityHandler: identityH,
		sessionHandler:  sessionH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(s.metrics))

	writeErr := handler.WriteError(s.logger)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (без токена) ---
	r.Group(func(r chi.Router) {
		r.Post("/v1/auth/device/start", s.authHandler.DeviceStart)
		r.Post("/v1/auth/device/approve", s.authHandler.DeviceApprove)
		r.Post("/v1/auth/device/complete", s.authHandler.DeviceComplete)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЁННЫЙ ПЕРИМЕТР (только access-токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.resolver, s.logger, writeErr))

		r.Get("/v1/me", s.identityHandler.Me)
		r.Get("/v1/org", s.identityHandler.Org)
		r.Post("/v1/me/workspace", s.identityHandler.SwitchWorkspace)

		r.Get("/v1/sessions", s.sessionHandler.List)
		r.Post("/v1/sessions", s.sessionHandler.Create)
	})

	// --- 4. DUAL-MODE РОУТЫ (access-токен ИЛИ session-токен) ---
	// Общая auth-миддлвара тут не годится: session-токен не резолвится
	// в AuthContext. Хендлеры разбирают bearer сами.
	r.Group(func(r chi.Router) {
		r.Route("/v1/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.sessionHandler.Get)
			r.Post("/status", s.sessionHandler.Transition)
			r.Post("/usage", s.sessionHandler.Usage)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
