package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"semaphore/bursar/internal/config"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/identity"
	"semaphore/bursar/internal/ledger"
	"semaphore/bursar/internal/metrics"
	"semaphore/bursar/internal/model"
)

type Server struct {
	cfg      config.Config
	guard    *guard.Guard
	identity *identity.Service
	ledger   *ledger.Service
	log      *zap.Logger
	validate *validator.Validate
}

func NewServer(cfg config.Config, g *guard.Guard, ids *identity.Service, fees *ledger.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		guard:    g,
		identity: ids,
		ledger:   fees,
		log:      log,
		validate: newValidator(),
	}
}

var (
	managers   = []model.Role{model.RolePlatformSuper, model.RoleTenantAdmin}
	collectors = []model.Role{model.RoleTenantAdmin, model.RoleInstructor}
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/sessions", s.handleLogin)
	r.Route("/sessions/current", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleGetSession)
		r.Delete("/", s.handleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireRoles(model.RolePlatformSuper)).Post("/tenants", s.handleCreateTenant)
		r.Get("/tenants/{tenantID}", s.handleGetTenant)
		r.With(s.requireRoles(model.RolePlatformSuper)).Patch("/tenants/{tenantID}", s.handleUpdateTenant)

		r.Route("/users", func(r chi.Router) {
			r.Post("/me/password", s.handleChangePassword)
			r.With(s.requireRoles(managers...)).Post("/", s.handleCreateUser)
			r.Get("/{userID}", s.handleGetUser)
			r.With(s.requireRoles(managers...)).Patch("/{userID}", s.handleUpdateUser)
			r.With(s.requireRoles(managers...)).Post("/{userID}/wards", s.handleLinkWard)
			r.With(s.requireRoles(managers...)).Put("/{userID}/enrollments", s.handleEnroll)
			r.With(s.requireRoles(managers...)).Post("/{userID}/revoke-sessions", s.handleRevokeSessions)
		})

		r.Route("/fee-definitions", func(r chi.Router) {
			r.With(s.requireRoles(managers...)).Post("/", s.handleCreateDefinition)
			r.Get("/", s.handleListDefinitions)
			r.Get("/{definitionID}", s.handleGetDefinition)
			r.With(s.requireRoles(managers...)).Patch("/{definitionID}", s.handleUpdateDefinition)
			r.With(s.requireRoles(managers...)).Post("/{definitionID}/assign", s.handleAssign)
			r.With(s.requireRoles(managers...)).Post("/{definitionID}/students/{studentID}", s.handleAssignStudent)
		})

		r.Route("/obligations", func(r chi.Router) {
			r.Get("/", s.handleListObligations)
			r.Get("/{obligationID}", s.handleGetObligation)
			r.Get("/{obligationID}/payments", s.handleListPayments)
			r.With(s.requireRoles(collectors...)).Post("/{obligationID}/payments", s.handleRecordPayment)
		})

		r.With(s.requireRoles(managers...)).Post("/payments/{paymentID}/reversal", s.handleReversePayment)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/outstanding", s.handleOutstanding)
			r.With(s.requireRoles(managers...)).Get("/collected", s.handleCollected)
		})
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.guard.Authenticate(r.Context(), bearerToken(r.Header.Get("Authorization")))
		if err != nil {
			if appErr, ok := asAuthError(err); ok {
				metrics.AuthFailures.WithLabelValues(appErr.Code).Inc()
				s.log.Debug("authentication failed", zap.String("code", appErr.Code), zap.String("path", r.URL.Path))
			}
			s.writeAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(guard.WithUser(r.Context(), user)))
	})
}

// requireRoles rejects the request before the handler runs. Services repeat
// the check against the stored resource.
func (s *Server) requireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := guard.UserFromContext(r.Context())
			if !ok {
				writeErrorMessage(w, http.StatusUnauthorized, "unauthenticated", "please re-authenticate")
				return
			}
			if err := guard.Authorize(user, roles...); err != nil {
				guard.LogDenied(s.log, user, r.Method+" "+routePattern(r), err)
				metrics.AuthFailures.WithLabelValues("insufficient_role").Inc()
				s.writeAppError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r)),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// currentUser is only called behind authMiddleware.
func currentUser(r *http.Request) guard.AuthenticatedUser {
	user, _ := guard.UserFromContext(r.Context())
	return user
}
