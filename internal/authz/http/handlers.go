// Package authzhttp exposes the authorization engine over a JSON admin
// API. Parsing and transport concerns live here; every rule lives in the
// authz package.
package authzhttp

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nimbus-iam/nimbus-iam/internal/authz"
	"github.com/nimbus-iam/nimbus-iam/internal/identity"
	"github.com/nimbus-iam/nimbus-iam/internal/platform/httpx"
)

// Handler wires the admin endpoints for the authorization engine.
type Handler struct {
	logger   *slog.Logger
	service  *authz.Service
	engine   *authz.Engine
	validate *validator.Validate
	titler   cases.Caser
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *authz.Service, engine *authz.Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		engine:   engine,
		validate: validator.New(),
		titler:   cases.Title(language.English),
	}
}

type authorizeRequest struct {
	RoleID       string `json:"roleId" validate:"required"`
	PermissionID string `json:"permissionId" validate:"required"`
	Context      struct {
		Now           time.Time `json:"now"`
		CallerIP      string    `json:"callerIp"`
		ResourceScope string    `json:"resourceScope"`
		OwnsResource  bool      `json:"ownsResource"`
	} `json:"context"`
}

// handleAuthorize returns the decision as a value: DENY is a 200, not an
// error status, so callers cannot mistake denial for an engine failure.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	reqCtx := authz.Context{
		Now:           req.Context.Now,
		CallerIP:      req.Context.CallerIP,
		ResourceScope: authz.Scope(req.Context.ResourceScope),
		OwnsResource:  req.Context.OwnsResource,
	}
	if reqCtx.Now.IsZero() {
		reqCtx.Now = time.Now()
	}
	if reqCtx.ResourceScope != "" && !reqCtx.ResourceScope.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown resourceScope")
		return
	}
	decision := h.engine.Authorize(r.Context(), req.RoleID, req.PermissionID, reqCtx)
	httpx.JSON(w, http.StatusOK, decision)
}

type permissionRequest struct {
	ID           string   `json:"id" validate:"required"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Resource     string   `json:"resource" validate:"required"`
	Actions      []string `json:"actions" validate:"required,min=1,dive,required"`
	Scope        string   `json:"scope" validate:"required,oneof=GLOBAL DEPARTMENT PROJECT PERSONAL"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`
}

func (h *Handler) handleRegisterPermission(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "caller identity missing")
		return
	}
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perm := authz.Permission{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Resource:     req.Resource,
		Actions:      req.Actions,
		Scope:        authz.Scope(req.Scope),
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
	}
	if err := h.service.RegisterPermission(r.Context(), perm, caller); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

type permissionView struct {
	authz.Permission
	CategoryLabel string `json:"categoryLabel,omitempty"`
}

func (h *Handler) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms := h.engine.Snapshot().Permissions()
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		view := permissionView{Permission: p}
		if p.Category != "" {
			view.CategoryLabel = h.titler.String(p.Category)
		}
		views = append(views, view)
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) handleResolveDependencies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	closure, err := h.engine.ResolveDependencies(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"permissionId": id,
		"dependencies": closure,
	})
}

type timeRangeBody struct {
	Start int `json:"start" validate:"min=0,max=1439"`
	End   int `json:"end" validate:"min=0,max=1440"`
}

type restrictionsBody struct {
	MaxUsers    *int           `json:"maxUsers"`
	TimeRange   *timeRangeBody `json:"timeRange"`
	IPAllowlist []string       `json:"ipAllowlist"`
	Features    []string       `json:"features"`
}

func (b *restrictionsBody) toDomain() authz.Restrictions {
	if b == nil {
		return authz.Restrictions{}
	}
	out := authz.Restrictions{
		MaxUsers:    b.MaxUsers,
		IPAllowlist: b.IPAllowlist,
		Features:    b.Features,
	}
	if b.TimeRange != nil {
		out.TimeRange = &authz.TimeRange{Start: b.TimeRange.Start, End: b.TimeRange.End}
	}
	return out
}

type createRoleRequest struct {
	ID           string            `json:"id" validate:"required"`
	Name         string            `json:"name" validate:"required"`
	Description  string            `json:"description"`
	Level        int               `json:"level" validate:"min=0"`
	State        string            `json:"state" validate:"omitempty,oneof=DRAFT REVIEWED COMMITTED"`
	Permissions  []string          `json:"permissions"`
	Restrictions *restrictionsBody `json:"restrictions"`
	InheritsFrom string            `json:"inheritsFrom"`
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "caller identity missing")
		return
	}
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	spec := authz.RoleSpec{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Level:        req.Level,
		State:        authz.RoleState(req.State),
		Permissions:  req.Permissions,
		Restrictions: req.Restrictions.toDomain(),
		InheritsFrom: req.InheritsFrom,
	}
	role, err := h.service.CreateRole(r.Context(), spec, caller)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type updateRoleRequest struct {
	ExpectedUpdatedAt time.Time         `json:"expectedUpdatedAt" validate:"required"`
	Name              *string           `json:"name"`
	Description       *string           `json:"description"`
	Level             *int              `json:"level"`
	State             *string           `json:"state" validate:"omitempty,oneof=DRAFT REVIEWED COMMITTED"`
	Permissions       *[]string         `json:"permissions"`
	Restrictions      *restrictionsBody `json:"restrictions"`
	InheritsFrom      *string           `json:"inheritsFrom"`
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "caller identity missing")
		return
	}
	id := chi.URLParam(r, "id")
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	patch := authz.RolePatch{
		Name:        req.Name,
		Description: req.Description,
		Level:       req.Level,
		Permissions: req.Permissions,
	}
	if req.State != nil {
		state := authz.RoleState(*req.State)
		patch.State = &state
	}
	if req.Restrictions != nil {
		restrictions := req.Restrictions.toDomain()
		patch.Restrictions = &restrictions
	}
	patch.InheritsFrom = req.InheritsFrom
	role, err := h.service.UpdateRole(r.Context(), id, patch, caller, req.ExpectedUpdatedAt)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "caller identity missing")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteRole(r.Context(), id, caller); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.engine.Snapshot().Roles())
}

func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.engine.Snapshot().Role(chi.URLParam(r, "id"))
	if !ok {
		h.respondError(w, authz.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.engine.EffectivePermissions(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

type assignRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (h *Handler) handleAssignUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "caller identity missing")
		return
	}
	roleID := chi.URLParam(r, "id")
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := h.service.AssignUser(r.Context(), roleID, req.UserID, caller)
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if !decision.Allowed() {
		// The cap rejection is a decision value, not a transport failure.
		status = http.StatusConflict
	}
	httpx.JSON(w, status, decision)
}

func (h *Handler) handleUnassignUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "caller identity missing")
		return
	}
	roleID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")
	if err := h.service.UnassignUser(r.Context(), roleID, userID, caller); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondError maps the authz error taxonomy onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		validation *authz.ValidationError
		duplicate  *authz.DuplicateIDError
		dangling   *authz.DanglingDependencyError
		depCycle   *authz.DependencyCycleError
		inhCycle   *authz.CyclicInheritanceError
		conflict   *authz.ConflictError
		violation  *authz.DependencyViolation
		protected  *authz.ProtectedResourceError
		authority  *authz.AuthorityError
		inUse      *authz.RoleInUseError
	)
	switch {
	case errors.Is(err, authz.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &validation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &duplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.As(err, &dangling):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Dangling Dependency", err.Error())
	case errors.As(err, &depCycle):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Dependency Cycle", err.Error())
	case errors.As(err, &inhCycle):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Inheritance Cycle", err.Error())
	case errors.As(err, &conflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.As(err, &violation):
		httpx.Problem(w, http.StatusConflict, "Dependency Violation", err.Error())
	case errors.As(err, &protected):
		httpx.Problem(w, http.StatusForbidden, "Protected Role", err.Error())
	case errors.As(err, &authority):
		httpx.Problem(w, http.StatusForbidden, "Insufficient Authority", err.Error())
	case errors.As(err, &inUse):
		httpx.Problem(w, http.StatusConflict, "Role In Use", err.Error())
	default:
		h.logger.Error("authz handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
