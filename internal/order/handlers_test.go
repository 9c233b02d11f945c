package order

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kwesidev/backend-bundles/internal/common"
	"github.com/kwesidev/backend-bundles/internal/pricing"
)

func authedRequest(method, target, body string, identity common.Identity) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(common.WithIdentity(r.Context(), identity))
}

func TestSubmitHandlerCreated(t *testing.T) {
	svc := newService(&stubProfiles{profile: tieredProfile()}, newMemStore())
	h := Handler{Service: svc}

	body := `{"entries":[{"number":"0241000001","allocationGb":"1"},{"number":"0241000002","allocationGb":"2"}]}`
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/orders", body, caller()))

	require.Equal(t, http.StatusCreated, rec.Code)
	var payload struct {
		Data struct {
			Order Order `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, StatusPending, payload.Data.Order.Status)
	require.Equal(t, "40", payload.Data.Order.EstimatedCost.String())
}

func TestSubmitHandlerSurfacesInvalidEntries(t *testing.T) {
	svc := newService(&stubProfiles{profile: tieredProfile()}, newMemStore())
	h := Handler{Service: svc}

	body := `{"entries":[{"number":"0241000001","allocationGb":"1.5"}]}`
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/orders", body, caller()))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				InvalidEntries []pricing.EntryError `json:"invalidEntries"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "PRICING_INVALID", payload.Error.Code)
	require.Len(t, payload.Error.Details.InvalidEntries, 1)
	require.Contains(t, payload.Error.Details.InvalidEntries[0].Reason, "no tier")
}

func TestSubmitHandlerNoProfile(t *testing.T) {
	svc := newService(&stubProfiles{err: pricing.ErrNoAssignment}, newMemStore())
	h := Handler{Service: svc}

	body := `{"entries":[{"number":"0241000001","allocationGb":"1"}]}`
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/orders", body, caller()))

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitHandlerUnauthenticated(t *testing.T) {
	svc := newService(&stubProfiles{profile: tieredProfile()}, newMemStore())
	h := Handler{Service: svc}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	h.Submit(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitHandlerBadBody(t *testing.T) {
	svc := newService(&stubProfiles{profile: tieredProfile()}, newMemStore())
	h := Handler{Service: svc}

	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/orders", "{not json", caller()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
