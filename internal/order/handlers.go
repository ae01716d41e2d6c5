package order

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lapak-dev/backend-lapak/internal/cart"
	"github.com/lapak-dev/backend-lapak/internal/common"
	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
)

// Queries is the read surface order history needs.
type Queries interface {
	CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	ListOrdersByUser(ctx context.Context, arg dbgen.ListOrdersByUserParams) ([]dbgen.Order, error)
	GetOrderByID(ctx context.Context, id pgtype.UUID) (dbgen.Order, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]dbgen.OrderItem, error)
	GetPaymentByOrderID(ctx context.Context, orderID pgtype.UUID) (dbgen.Payment, error)
}

// Handler serves the authed user's order history.
type Handler struct {
	Q Queries
}

// Summary is one row in the order list.
type Summary struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	TotalAmount   int64     `json:"total_amount"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
}

// Item is one purchased line inside an order detail.
type Item struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int32  `json:"qty"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// PaymentView mirrors the payment row attached to an order.
type PaymentView struct {
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	Method      string    `json:"method"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Detail is the full order view with items and payment.
type Detail struct {
	Summary
	Items   []Item       `json:"items"`
	Payment *PaymentView `json:"payment,omitempty"`
}

// List handles GET /api/v1/orders, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order queries not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	uid, err := cart.ToUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	total, err := h.Q.CountOrdersByUser(r.Context(), uid)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to count orders", nil)
		return
	}
	orders, err := h.Q.ListOrdersByUser(r.Context(), dbgen.ListOrdersByUserParams{
		UserID:     uid,
		PageLimit:  int32(perPage),
		PageOffset: int32((page - 1) * perPage),
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to list orders", nil)
		return
	}
	summaries := make([]Summary, 0, len(orders))
	for _, ord := range orders {
		summaries = append(summaries, summarize(ord))
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSONList(w, http.StatusOK, summaries, common.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
	})
}

// Get handles GET /api/v1/orders/{orderID}. An order belonging to somebody
// else reads as not found, so order ids cannot be probed.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order queries not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	oid, err := cart.ToUUID(chi.URLParam(r, "orderID"))
	if err != nil {
		h.notFound(w)
		return
	}
	ord, err := h.Q.GetOrderByID(r.Context(), oid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.notFound(w)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load order", nil)
		return
	}
	if cart.UUIDString(ord.UserID) != userID {
		h.notFound(w)
		return
	}
	rows, err := h.Q.ListOrderItems(r.Context(), ord.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load order items", nil)
		return
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			ProductID:   cart.UUIDString(row.ProductID),
			ProductName: row.ProductName,
			Qty:         row.Qty,
			UnitPrice:   row.UnitPrice,
			Subtotal:    row.Subtotal,
		})
	}
	detail := Detail{Summary: summarize(ord), Items: items}
	pay, err := h.Q.GetPaymentByOrderID(r.Context(), ord.ID)
	switch {
	case err == nil:
		detail.Payment = &PaymentView{
			Status:      string(pay.Status),
			Amount:      pay.Amount,
			Method:      pay.Method,
			ProviderRef: pay.ProviderRef,
			CreatedAt:   toTime(pay.CreatedAt),
		}
	case errors.Is(err, pgx.ErrNoRows):
		// a PENDING order has no payment row yet
	default:
		common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load payment", nil)
		return
	}
	common.JSONData(w, http.StatusOK, detail)
}

func (h *Handler) notFound(w http.ResponseWriter) {
	common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
}

func summarize(ord dbgen.Order) Summary {
	return Summary{
		ID:            cart.UUIDString(ord.ID),
		Status:        string(ord.Status),
		TotalAmount:   ord.TotalAmount,
		PaymentMethod: ord.PaymentMethod,
		CreatedAt:     toTime(ord.CreatedAt),
	}
}

func toTime(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}
