package authzhttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the admin API routes on the provided router. The
// identity middleware is expected to run above this group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authorize", h.handleAuthorize)

	r.Route("/permissions", func(r chi.Router) {
		r.Get("/", h.handleListPermissions)
		r.Post("/", h.handleRegisterPermission)
		r.Get("/{id}/dependencies", h.handleResolveDependencies)
	})

	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.handleListRoles)
		r.Post("/", h.handleCreateRole)
		r.Get("/{id}", h.handleGetRole)
		r.Patch("/{id}", h.handleUpdateRole)
		r.Delete("/{id}", h.handleDeleteRole)
		r.Get("/{id}/effective-permissions", h.handleEffectivePermissions)
		r.Post("/{id}/assignments", h.handleAssignUser)
		r.Delete("/{id}/assignments/{userID}", h.handleUnassignUser)
	})
}
