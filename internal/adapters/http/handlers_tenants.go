package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/application"
)

func (h *Handler) currentTenant(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	tenant, err := h.service.CurrentTenant(r.Context(), principal)
	if err != nil {
		writeMappedError(r.Context(), w, "current_tenant", err)
		return
	}
	writeSuccess(w, http.StatusOK, tenant)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req application.AddMemberRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "add_member", err)
		return
	}
	member, err := h.service.AddMember(r.Context(), principal, req)
	if err != nil {
		writeMappedError(r.Context(), w, "add_member", err)
		return
	}
	writeSuccess(w, http.StatusCreated, member)
}

func (h *Handler) deactivateMember(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	userID, err := pathUUID(r, "user_id")
	if err != nil {
		writeMappedError(r.Context(), w, "deactivate_member", err)
		return
	}
	if err := h.service.DeactivateMember(r.Context(), principal, userID); err != nil {
		writeMappedError(r.Context(), w, "deactivate_member", err)
		return
	}
	writeMessage(w, http.StatusOK, "member deactivated")
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req application.CreateRoleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_role", err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), principal, req)
	if err != nil {
		writeMappedError(r.Context(), w, "create_role", err)
		return
	}
	writeSuccess(w, http.StatusCreated, role)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	roles, err := h.service.ListRoles(r.Context(), principal)
	if err != nil {
		writeMappedError(r.Context(), w, "list_roles", err)
		return
	}
	writeSuccess(w, http.StatusOK, roles)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	userID, err := pathUUID(r, "user_id")
	if err != nil {
		writeMappedError(r.Context(), w, "assign_role", err)
		return
	}
	if err := h.service.AssignRole(r.Context(), principal, userID, chi.URLParam(r, "role")); err != nil {
		writeMappedError(r.Context(), w, "assign_role", err)
		return
	}
	writeMessage(w, http.StatusOK, "role assigned")
}

func (h *Handler) listMemberRoles(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	userID, err := pathUUID(r, "user_id")
	if err != nil {
		writeMappedError(r.Context(), w, "list_member_roles", err)
		return
	}
	roles, err := h.service.ListMemberRoles(r.Context(), principal, userID)
	if err != nil {
		writeMappedError(r.Context(), w, "list_member_roles", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"roles":   roles,
	})
}
