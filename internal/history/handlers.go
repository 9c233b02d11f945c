package history

import (
	"net/http"
	"strconv"

	"github.com/kwesidev/backend-bundles/internal/common"
)

// Handler exposes history listing endpoints.
type Handler struct {
	Store Store
}

// ListMine returns the authenticated user's history entries.
func (h Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	h.list(w, r, userID)
}

// ListAll returns every history entry, admin only (enforced by routing).
func (h Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

func (h Handler) list(w http.ResponseWriter, r *http.Request, userID string) {
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	offset := (page - 1) * perPage

	total, err := h.Store.Count(r.Context(), userID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to count history", nil)
		return
	}
	var entries []Entry
	if userID == "" {
		entries, err = h.Store.List(r.Context(), perPage, offset)
	} else {
		entries, err = h.Store.ListForUser(r.Context(), userID, perPage, offset)
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list history", nil)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": entries,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}
