package sso

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/consolesso/pkg/auth"
	"github.com/platinummonkey/consolesso/pkg/httputil"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/users"
)

// SessionIssuer writes and destroys the browser session
type SessionIssuer interface {
	Login(w http.ResponseWriter, r *http.Request, userID int64) error
	Destroy(w http.ResponseWriter, r *http.Request) error
}

// DeviceTokens issues and revokes mobile bearer tokens
type DeviceTokens interface {
	Issue(ctx context.Context, userID int64, name string) (string, *auth.DeviceToken, error)
	Revoke(ctx context.Context, token *auth.DeviceToken) error
}

// ProviderURLs builds browser-facing provider URLs
type ProviderURLs interface {
	LoginURL(state string) string
	LogoutURL(redirect string) string
}

// RedirectValidator filters redirect targets
type RedirectValidator interface {
	Validate(raw, def string) string
}

// Handlers handles SSO-related HTTP requests
type Handlers struct {
	flow            *Flow
	sessions        SessionIssuer
	devices         DeviceTokens
	urls            ProviderURLs
	redirects       RedirectValidator
	defaultRedirect string
	audit           *auth.AuditLogger
	metrics         *observability.Metrics
	throttle        func(http.Handler) http.Handler
}

// HandlersConfig collects the collaborators of Handlers. Audit, Metrics
// and LoginThrottle are optional.
type HandlersConfig struct {
	Flow      *Flow
	Sessions  SessionIssuer
	Devices   DeviceTokens
	URLs      ProviderURLs
	Redirects RedirectValidator
	// DefaultRedirect replaces a rejected logout redirect target
	DefaultRedirect string
	Audit           *auth.AuditLogger
	Metrics         *observability.Metrics
	// LoginThrottle wraps the callback route only
	LoginThrottle func(http.Handler) http.Handler
}

// NewHandlers creates a new SSO handlers instance
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.DefaultRedirect == "" {
		cfg.DefaultRedirect = "/"
	}
	return &Handlers{
		flow:            cfg.Flow,
		sessions:        cfg.Sessions,
		devices:         cfg.Devices,
		urls:            cfg.URLs,
		redirects:       cfg.Redirects,
		defaultRedirect: cfg.DefaultRedirect,
		audit:           cfg.Audit,
		metrics:         cfg.Metrics,
		throttle:        cfg.LoginThrottle,
	}
}

// RegisterRoutes registers SSO routes. authenticate guards the routes
// that act on the current user.
func (h *Handlers) RegisterRoutes(router *mux.Router, authenticate func(http.Handler) http.Handler) {
	callback := http.Handler(http.HandlerFunc(h.Callback))
	if h.throttle != nil {
		callback = h.throttle(callback)
	}
	router.Handle("/sso/callback", callback).Methods("POST")
	router.HandleFunc("/sso/login-url", h.LoginURL).Methods("GET")
	router.HandleFunc("/sso/global-logout-url", h.GlobalLogoutURL).Methods("GET")

	router.Handle("/sso/logout", authenticate(http.HandlerFunc(h.Logout))).Methods("POST")
	router.Handle("/sso/user", authenticate(http.HandlerFunc(h.User))).Methods("GET")
}

type callbackRequest struct {
	Code       string `json:"code" validate:"required"`
	DeviceName string `json:"device_name" validate:"max=255"`
}

// Callback completes a login. A device_name issues a bearer token instead
// of a session cookie.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	sess, err := h.flow.Login(ctx, req.Code)
	if err != nil {
		h.failLogin(w, r, err)
		return
	}
	userID := sess.User.ID

	if req.DeviceName != "" {
		plaintext, token, err := h.devices.Issue(ctx, userID, req.DeviceName)
		if err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("Failed to issue device token")
			h.metrics.ObserveLogin("error")
			httputil.WriteInternalError(w)
			return
		}
		sess.Token = plaintext
		h.audit.Log(r, auth.AuditEvent{
			Action:       auth.ActionTokenIssue,
			Status:       auth.StatusSuccess,
			UserID:       userID,
			ResourceType: "device_token",
			ResourceID:   strconv.FormatInt(token.ID, 10),
		})
	} else if err := h.sessions.Login(w, r, userID); err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to start session")
		h.metrics.ObserveLogin("error")
		httputil.WriteInternalError(w)
		return
	}

	h.metrics.ObserveLogin("success")
	h.audit.Log(r, auth.AuditEvent{Action: auth.ActionLoginSuccess, Status: auth.StatusSuccess, UserID: userID})
	_ = httputil.WriteSuccess(w, sess)
}

func (h *Handlers) failLogin(w http.ResponseWriter, r *http.Request, err error) {
	var outcome, reason string
	var e *Error
	if errors.As(err, &e) {
		outcome, reason = "rejected", e.Code
	} else {
		outcome, reason = "error", "internal"
		observability.FromContext(r.Context()).WithError(err).Error("Login failed")
	}
	h.metrics.ObserveLogin(outcome)
	h.audit.Log(r, auth.AuditEvent{Action: auth.ActionLoginFailure, Status: auth.StatusFailure, Reason: reason})
	httputil.WriteError(w, err)
}

// Logout revokes the user's provider tokens and ends the presenting
// credential: the device token for bearer requests, the session otherwise.
// Provider and cache failures never fail the request.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		httputil.WriteError(w, errUnauthenticated())
		return
	}
	ctx := r.Context()
	logger := observability.FromContext(ctx).WithField("user_id", authCtx.User.ID)

	if err := h.flow.Logout(ctx, authCtx.Principal()); err != nil {
		logger.WithError(err).Error("Failed to clear tokens on logout")
	}

	if authCtx.Method == auth.MethodDevice && authCtx.Token != nil {
		if err := h.devices.Revoke(ctx, authCtx.Token); err != nil {
			logger.WithError(err).Error("Failed to revoke device token")
		} else {
			h.audit.Log(r, auth.AuditEvent{
				Action:       auth.ActionTokenRevoke,
				Status:       auth.StatusSuccess,
				UserID:       authCtx.User.ID,
				ResourceType: "device_token",
				ResourceID:   strconv.FormatInt(authCtx.Token.ID, 10),
			})
		}
	} else if err := h.sessions.Destroy(w, r); err != nil {
		logger.WithError(err).Error("Failed to destroy session")
	}

	h.audit.Log(r, auth.AuditEvent{Action: auth.ActionLogout, Status: auth.StatusSuccess, UserID: authCtx.User.ID})
	_ = httputil.WriteMessage(w, "Logged out.")
}

// User returns the authenticated user with their organizations
func (h *Handlers) User(w http.ResponseWriter, r *http.Request) {
	var user *users.User
	if authCtx := auth.FromContext(r.Context()); authCtx != nil {
		user = authCtx.User
	}
	current, err := h.flow.CurrentUser(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, current)
}

// GlobalLogoutURL returns the provider logout URL. An unsafe redirect_uri
// is replaced by the default redirect.
func (h *Handlers) GlobalLogoutURL(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("redirect_uri")
	if target != "" {
		target = h.redirects.Validate(target, h.defaultRedirect)
	}
	_ = httputil.WriteSuccess(w, map[string]string{"logout_url": h.urls.LogoutURL(target)})
}

// LoginURL returns the provider authorization URL with a fresh state value
// the client must compare on callback.
func (h *Handlers) LoginURL(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	_ = httputil.WriteSuccess(w, map[string]string{
		"login_url": h.urls.LoginURL(state),
		"state":     state,
	})
}
