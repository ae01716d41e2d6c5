package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/cart"
	"github.com/lapak-dev/backend-lapak/internal/common"
)

type cartResponse struct {
	Data cart.View `json:"data"`
}

type cartErrorResponse struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func authedRequest(method, target, body, userID string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req = req.WithContext(common.WithUserID(req.Context(), userID))
	}
	return req
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCartHandlers(t *testing.T) {
	svc, _ := newCartService(t)
	handler := &cart.Handler{Svc: svc}

	t.Run("requires authentication", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Get(rec, authedRequest(http.MethodGet, "/api/v1/cart", "", ""))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		var resp cartErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "UNAUTHORIZED", resp.Error.Code)
	})

	t.Run("empty cart", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Get(rec, authedRequest(http.MethodGet, "/api/v1/cart", "", userA))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp cartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Empty(t, resp.Data.Items)
	})

	t.Run("add item", func(t *testing.T) {
		body := `{"product_id":"` + mouseID + `","qty":2}`
		rec := httptest.NewRecorder()
		handler.AddItem(rec, authedRequest(http.MethodPost, "/api/v1/cart/items", body, userA))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp cartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data.Items, 1)
		require.Equal(t, int64(360000), resp.Data.Total)
	})

	t.Run("add unknown product", func(t *testing.T) {
		body := `{"product_id":"99999999-9999-9999-9999-999999999999","qty":1}`
		rec := httptest.NewRecorder()
		handler.AddItem(rec, authedRequest(http.MethodPost, "/api/v1/cart/items", body, userA))
		require.Equal(t, http.StatusNotFound, rec.Code)
		var resp cartErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "PRODUCT_NOT_FOUND", resp.Error.Code)
	})

	t.Run("add with non positive qty", func(t *testing.T) {
		body := `{"product_id":"` + mouseID + `","qty":0}`
		rec := httptest.NewRecorder()
		handler.AddItem(rec, authedRequest(http.MethodPost, "/api/v1/cart/items", body, userA))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update item qty", func(t *testing.T) {
		req := authedRequest(http.MethodPut, "/api/v1/cart/items/"+mouseID, `{"qty":7}`, userA)
		req = withURLParam(req, "productID", mouseID)
		rec := httptest.NewRecorder()
		handler.UpdateItem(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp cartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, int32(7), resp.Data.Items[0].Qty)
	})

	t.Run("update absent line", func(t *testing.T) {
		req := authedRequest(http.MethodPut, "/api/v1/cart/items/"+laptopID, `{"qty":1}`, userA)
		req = withURLParam(req, "productID", laptopID)
		rec := httptest.NewRecorder()
		handler.UpdateItem(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
		var resp cartErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "CART_ITEM_NOT_FOUND", resp.Error.Code)
	})

	t.Run("remove item", func(t *testing.T) {
		req := authedRequest(http.MethodDelete, "/api/v1/cart/items/"+mouseID, "", userA)
		req = withURLParam(req, "productID", mouseID)
		rec := httptest.NewRecorder()
		handler.RemoveItem(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp cartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Empty(t, resp.Data.Items)
	})

	t.Run("clear cart", func(t *testing.T) {
		body := `{"product_id":"` + mouseID + `","qty":1}`
		rec := httptest.NewRecorder()
		handler.AddItem(rec, authedRequest(http.MethodPost, "/api/v1/cart/items", body, userA))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		handler.Clear(rec, authedRequest(http.MethodDelete, "/api/v1/cart", "", userA))
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		handler.Get(rec, authedRequest(http.MethodGet, "/api/v1/cart", "", userA))
		var resp cartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Empty(t, resp.Data.Items)
	})
}
