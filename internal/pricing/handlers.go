package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kwesidev/backend-bundles/internal/common"
	"github.com/kwesidev/backend-bundles/internal/events"
)

var validate = validator.New()

// Handler exposes administrative endpoints for profiles, tiers, and
// assignments. Profile edits and assignments are announced on the event bus
// so downstream notifiers can react.
type Handler struct {
	Store *Store
	Bus   *events.Bus
}

// List returns every profile with tiers preloaded.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store not configured", nil)
		return
	}
	profiles, err := h.Store.ListProfiles(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list profiles", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": profiles})
}

// Get returns one profile by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store not configured", nil)
		return
	}
	profile, err := h.Store.GetProfile(r.Context(), chi.URLParam(r, "profileId"))
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "profile not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load profile", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": profile})
}

// Create inserts a new profile.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store not configured", nil)
		return
	}
	input, ok := decodeProfileInput(w, r)
	if !ok {
		return
	}
	profile, err := h.Store.CreateProfile(r.Context(), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": profile})
}

// Update rewrites a profile and its tiers.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store not configured", nil)
		return
	}
	input, ok := decodeProfileInput(w, r)
	if !ok {
		return
	}
	profile, err := h.Store.UpdateProfile(r.Context(), chi.URLParam(r, "profileId"), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.emitProfileEvent(r.Context(), events.TopicProfileUpdated, profile.ID, map[string]any{
		"profileId": profile.ID,
		"name":      profile.Name,
	})
	common.JSON(w, http.StatusOK, map[string]any{"data": profile})
}

// Delete removes a profile and its tiers.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store not configured", nil)
		return
	}
	if err := h.Store.DeleteProfile(r.Context(), chi.URLParam(r, "profileId")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	ProfileID string `json:"profileId" validate:"required"`
}

// Assign maps a user to a profile, replacing any prior assignment.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store not configured", nil)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "profileId is required", nil)
		return
	}
	userID := chi.URLParam(r, "userId")
	if err := h.Store.AssignProfile(r.Context(), userID, req.ProfileID); err != nil {
		writeStoreError(w, err)
		return
	}
	h.emitProfileEvent(r.Context(), events.TopicProfileAssigned, userID, map[string]any{
		"userId":    userID,
		"profileId": req.ProfileID,
	})
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{
		"userId":    userID,
		"profileId": req.ProfileID,
	}})
}

// Unassign removes the user's profile assignment.
func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store not configured", nil)
		return
	}
	if err := h.Store.UnassignProfile(r.Context(), chi.URLParam(r, "userId")); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to unassign profile", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// emitProfileEvent records the change on the bus. A failed emit never fails
// the admin write that already committed.
func (h *Handler) emitProfileEvent(ctx context.Context, topic, aggregateID string, payload map[string]any) {
	if h.Bus == nil {
		return
	}
	_, _ = h.Bus.Emit(ctx, topic, aggregateID, payload)
}

func decodeProfileInput(w http.ResponseWriter, r *http.Request) (ProfileInput, bool) {
	var input ProfileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return ProfileInput{}, false
	}
	if err := validate.Struct(input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
		return ProfileInput{}, false
	}
	return input, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProfileNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "profile not found", nil)
	case errors.Is(err, ErrModeImmutable):
		common.JSONError(w, http.StatusConflict, "MODE_IMMUTABLE", "profile pricing mode cannot change", nil)
	case errors.Is(err, ErrDuplicateTier):
		common.JSONError(w, http.StatusBadRequest, "DUPLICATE_TIER", "duplicate allocation size in tiers", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing store error", nil)
	}
}
