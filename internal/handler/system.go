package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/server/middleware"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// Pinger reports the reachability of every named database.
type Pinger interface {
	PingAll(ctx context.Context) map[string]error
}

// SystemHandler serves the endpoints that are not generated from a table:
// login, the caller's profile and menu, role permissions and health.
type SystemHandler struct {
	auth    *service.AuthService
	rbac    *service.RBACService
	pinger  Pinger
	version string
	logger  *slog.Logger
}

// NewSystemHandler creates a SystemHandler. logger may be nil.
func NewSystemHandler(auth *service.AuthService, rbac *service.RBACService, pinger Pinger, version string, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SystemHandler{auth: auth, rbac: rbac, pinger: pinger, version: version, logger: logger}
}

// MountPublic registers the routes that need no token.
func (h *SystemHandler) MountPublic(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/readyz", h.Ready)
}

// MountLogin registers the token endpoint on the /api router.
func (h *SystemHandler) MountLogin(r chi.Router) {
	r.Post("/sys/auth/login", h.Login)
}

// MountProtected registers the routes behind authentication. r must
// already run middleware.Authenticate.
func (h *SystemHandler) MountProtected(r chi.Router) {
	authOnly := middleware.Require(h.auth, service.RequiredAuth{})
	r.With(authOnly).Get("/sys/auth/me", h.Me)
	r.With(authOnly).Get("/sys/auth/menu", h.Menu)

	r.With(middleware.Require(h.auth, service.RequiredAuth{Module: "Role", Permissions: []string{PermUpdate}})).
		Put("/role/permissions", h.SetRolePermissions)
	r.With(middleware.Require(h.auth, service.RequiredAuth{Module: "Role", Permissions: []string{PermRead}})).
		Get("/role/{id}/permissions", h.GetRolePermissions)
}

// Root returns a greeting with the server version.
// GET /
func (h *SystemHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "success", map[string]string{
		"name":    "gatekeep",
		"version": h.version,
	})
}

// Health reports liveness only.
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "success", map[string]string{"status": "ok"})
}

// Ready pings every named database.
// GET /readyz
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var results map[string]error
	if h.pinger != nil {
		results = h.pinger.PingAll(r.Context())
	}
	status := make(map[string]string, len(results))
	healthy := true
	for name, err := range results {
		if err != nil {
			healthy = false
			status[name] = "unreachable"
			h.logger.Warn("database ping failed", "database", name, "error", err)
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, model.Envelope{Code: model.CodeFailed, Msg: "not ready", Data: status})
		return
	}
	writeSuccess(w, http.StatusOK, "success", status)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for a bearer token. The body is
// either an OAuth2 password-flow form or JSON.
// POST /api/sys/auth/login
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	default:
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	tok, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		status, msg := classifyError(err, "Login failed")
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("login failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful", tok)
}

// Me returns the caller's user record.
// GET /api/sys/auth/me
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	user, err := h.auth.CurrentUser(r.Context(), *p)
	if err != nil {
		h.fail(w, err, "Failed to load user")
		return
	}
	writeSuccess(w, http.StatusOK, "success", user)
}

// Menu returns the module tree the caller's role can reach.
// GET /api/sys/auth/menu
func (h *SystemHandler) Menu(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	menu, err := h.rbac.Menu(r.Context(), p.RoleID)
	if err != nil {
		h.fail(w, err, "Failed to load menu")
		return
	}
	writeSuccess(w, http.StatusOK, "success", menu)
}

// SetRolePermissions replaces the permission sets of the listed roles.
// PUT /api/role/permissions
func (h *SystemHandler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req service.SetRolePermissionsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.rbac.SetRolePermissions(r.Context(), req)
	if err != nil {
		h.fail(w, err, "Failed to set role permissions")
		return
	}
	writeSuccess(w, http.StatusOK, "Permissions updated successfully", res)
}

// GetRolePermissions returns one role's permissions grouped by parent
// module.
// GET /api/role/{id}/permissions
func (h *SystemHandler) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := h.rbac.GetRolePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Role")
		return
	}
	writeSuccess(w, http.StatusOK, "success", perms)
}

func (h *SystemHandler) fail(w http.ResponseWriter, err error, msg string) {
	status, text := classifyError(err, msg)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	}
	writeError(w, status, text)
}
