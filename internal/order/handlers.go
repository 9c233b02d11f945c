package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kwesidev/backend-bundles/internal/common"
	"github.com/kwesidev/backend-bundles/internal/pricing"
)

var validate = validator.New()

// Handler exposes customer-facing order endpoints.
type Handler struct {
	Service *Service
}

// Submit accepts a new bulk order for the authenticated user.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := common.IdentityFrom(r.Context())
	if !ok || identity.UserID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var in SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := validate.Struct(in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid order payload", nil)
		return
	}

	o, entries, err := h.Service.Submit(r.Context(), identity, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"order":   o,
			"entries": entries,
		},
	})
}

// List returns the authenticated user's orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	offset := (page - 1) * perPage

	total, err := h.Service.Orders.CountForUser(r.Context(), userID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to count orders", nil)
		return
	}
	orders, err := h.Service.Orders.ListForUser(r.Context(), userID, perPage, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": orders,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}

// Get returns one of the authenticated user's orders with its entries.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	orderID := chi.URLParam(r, "orderId")
	o, entries, err := h.Service.Orders.GetOrderForUser(r.Context(), orderID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"order":   o,
			"entries": entries,
		},
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var rejection *PricingRejection
	switch {
	case errors.As(err, &rejection):
		common.JSONError(w, http.StatusBadRequest, "PRICING_INVALID", "one or more entries could not be priced", map[string]any{
			"invalidEntries": rejection.InvalidEntries,
		})
	case errors.Is(err, pricing.ErrNoAssignment):
		common.JSONError(w, http.StatusForbidden, "NO_PRICING_PROFILE", "no pricing profile assigned", nil)
	case errors.Is(err, pricing.ErrProfileNotFound):
		common.JSONError(w, http.StatusConflict, "PROFILE_MISSING", "assigned pricing profile no longer exists", nil)
	case errors.Is(err, ErrOrderNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrAlreadyProcessed):
		common.JSONError(w, http.StatusConflict, "ALREADY_PROCESSED", "order is already processed", nil)
	case errors.Is(err, ErrProcessingLocked):
		common.JSONError(w, http.StatusConflict, "PROCESSING_IN_FLIGHT", "order is being processed", nil)
	case errors.Is(err, ErrNoEntries):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "at least one entry is required", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
	}
}
