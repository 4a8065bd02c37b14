package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/zapgate/zapgate/internal/domain/session"
)

// sessionUpsertRequest is the dashboard backend's registration payload.
// ExpiresAt defaults to now + the configured session timeout.
type sessionUpsertRequest struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	UserToken string     `json:"user_token,omitempty"`
	AccountID string     `json:"account_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleSessionUpsert registers or refreshes a session. The dashboard
// backend calls this on login and on session renewal.
func (h *Handler) handleSessionUpsert(w http.ResponseWriter, r *http.Request) {
	var req sessionUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid session payload")
		return
	}

	role := session.Role(req.Role)
	if req.ID == "" || req.AccountID == "" || !role.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id, account_id and a valid role are required")
		return
	}

	now := time.Now().UTC()
	expires := now.Add(h.sessionTTL)
	if req.ExpiresAt != nil {
		expires = req.ExpiresAt.UTC()
	}

	sess := &session.Session{
		ID:         req.ID,
		Role:       role,
		UserToken:  req.UserToken,
		AccountID:  req.AccountID,
		CreatedAt:  now,
		ExpiresAt:  expires,
		LastAccess: now,
	}

	// Create overwrites: re-registering an existing handle refreshes it.
	if err := h.sessions.Create(r.Context(), sess); err != nil {
		h.logger.Error("failed to register session", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "SESSION_ERROR", "failed to register session")
		return
	}
	h.authority.Invalidate(req.ID)

	h.logger.Info("session registered",
		"account_id", req.AccountID,
		"role", string(role),
		"token_fp", session.TokenFingerprint(req.UserToken),
		"expires_at", expires)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleSessionDelete removes a session by handle. Idempotent.
func (h *Handler) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := h.authority.Resolve(r.Context(), id)
	if err == nil {
		if endErr := h.overlay.EndForOperatorLogout(r.Context(), sess.AccountID); endErr != nil {
			h.logger.Warn("failed to end impersonation on session delete",
				"operator_id", sess.AccountID, "error", endErr)
		}
	}

	if err := h.sessions.Delete(r.Context(), id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		h.logger.Error("failed to delete session", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "SESSION_ERROR", "failed to delete session")
		return
	}
	h.authority.Invalidate(id)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
