package checkout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lapak-dev/backend-lapak/internal/common"
	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/lock"
	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/payment"
	"github.com/lapak-dev/backend-lapak/internal/pricing"
)

// TxQueries is the query surface available inside a checkout transaction.
type TxQueries interface {
	GetCartByUserID(ctx context.Context, userID pgtype.UUID) (dbgen.Cart, error)
	ListCartItems(ctx context.Context, cartID pgtype.UUID) ([]dbgen.ListCartItemsRow, error)
	GetProductForUpdate(ctx context.Context, id pgtype.UUID) (dbgen.Product, error)
	CreateOrder(ctx context.Context, arg dbgen.CreateOrderParams) (dbgen.Order, error)
	CreateOrderItem(ctx context.Context, arg dbgen.CreateOrderItemParams) (dbgen.OrderItem, error)
	DecrementProductStock(ctx context.Context, arg dbgen.DecrementProductStockParams) (int64, error)
	RestoreProductStock(ctx context.Context, arg dbgen.RestoreProductStockParams) error
	SetOrderStatus(ctx context.Context, arg dbgen.SetOrderStatusParams) (dbgen.Order, error)
	CreatePayment(ctx context.Context, arg dbgen.CreatePaymentParams) (dbgen.Payment, error)
	ClearCartItems(ctx context.Context, cartID pgtype.UUID) error
}

// TxRunner executes fn inside a single database transaction. A non-nil error
// from fn rolls the transaction back; nil commits it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(TxQueries) error) error
}

// PoolRunner is the production TxRunner on a pgx connection pool.
type PoolRunner struct {
	Pool *pgxpool.Pool
	Q    *dbgen.Queries
}

// RunInTx implements TxRunner.
func (r PoolRunner) RunInTx(ctx context.Context, fn func(TxQueries) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(r.Q.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Service converts a cart into an order, a stock decrement and a payment in
// one transaction. A declined payment still commits, as a FAILED order and
// payment pair with the stock put back; only transport-level gateway
// failures and storage errors roll everything back.
type Service struct {
	Runner  TxRunner
	Gateway payment.Gateway
	Events  *events.Bus
	Locker  *lock.Locker
	LockTTL time.Duration
}

// OrderLine is one purchased line with its price snapshot.
type OrderLine struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int32  `json:"qty"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// PaymentInfo mirrors the stored payment row.
type PaymentInfo struct {
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

// Result is the finalized order returned to the caller.
type Result struct {
	OrderID       string      `json:"order_id"`
	Status        string      `json:"status"`
	TotalAmount   int64       `json:"total_amount"`
	PaymentMethod string      `json:"payment_method"`
	Items         []OrderLine `json:"items"`
	Payment       PaymentInfo `json:"payment"`
	CreatedAt     time.Time   `json:"created_at"`
}

// outcome carries the transaction's results past the commit point.
type outcome struct {
	order    dbgen.Order
	payment  dbgen.Payment
	items    []OrderLine
	declined bool
	reason   string
}

// Checkout runs the whole flow for one user. Concurrent checkouts for the
// same user are serialised through a Redis lock when one is configured;
// checkouts of different users only meet at the product row locks.
func (s *Service) Checkout(ctx context.Context, userID, method string) (Result, error) {
	if s == nil || s.Runner == nil || s.Gateway == nil {
		return Result{}, errors.New("checkout service not configured")
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return Result{}, common.NewAppError("BAD_REQUEST", "payment_method is required", http.StatusBadRequest, nil)
	}
	uid, err := parseUUID(userID)
	if err != nil {
		return Result{}, common.NewAppError("BAD_REQUEST", "invalid user id", http.StatusBadRequest, err)
	}

	if s.Locker != nil {
		var result Result
		lockErr := s.Locker.WithLock(ctx, "checkout:user:"+userID, s.lockTTL(), func(ctx context.Context) error {
			var innerErr error
			result, innerErr = s.checkout(ctx, uid, userID, method)
			return innerErr
		})
		return result, lockErr
	}
	return s.checkout(ctx, uid, userID, method)
}

func (s *Service) checkout(ctx context.Context, uid pgtype.UUID, userID, method string) (Result, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "checkout.process")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.user_id", userID))

	started := time.Now()
	result := "success"
	defer func() {
		span.SetAttributes(attribute.String("checkout.result", result))
		if obs.CheckoutTotal != nil {
			obs.CheckoutTotal.WithLabelValues(result).Inc()
		}
		if obs.CheckoutDuration != nil {
			obs.CheckoutDuration.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(started)))
		}
	}()

	var out outcome
	err := s.Runner.RunInTx(ctx, func(q TxQueries) error {
		return s.process(ctx, q, uid, userID, method, &out)
	})
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			result = resultLabel(appErr.Code)
			span.RecordError(err)
			return Result{}, err
		}
		result = "storage_error"
		span.RecordError(err)
		return Result{}, common.NewAppError("STORAGE_ERROR", "checkout could not be completed, retry safely", http.StatusInternalServerError, err)
	}

	// The transaction is committed; both outcomes below are durable.
	span.SetAttributes(attribute.String("checkout.order_id", uuidString(out.order.ID)))
	s.emitEvents(ctx, userID, out)

	if out.declined {
		result = "payment_declined"
		return Result{}, common.NewAppError("PAYMENT_FAILED", "payment was declined", http.StatusPaymentRequired, nil).
			WithDetails(map[string]any{
				"order_id": uuidString(out.order.ID),
				"reason":   out.reason,
			})
	}
	return assemble(out), nil
}

// process is the transactional body. Returning an error rolls back; filling
// out and returning nil commits.
func (s *Service) process(ctx context.Context, q TxQueries, uid pgtype.UUID, userID, method string, out *outcome) error {
	cart, err := q.GetCartByUserID(ctx, uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return emptyCart(err)
		}
		return fmt.Errorf("load cart: %w", err)
	}
	lines, err := q.ListCartItems(ctx, cart.ID)
	if err != nil {
		return fmt.Errorf("list cart items: %w", err)
	}
	if len(lines) == 0 {
		return emptyCart(nil)
	}

	// Lock product rows in a fixed order so concurrent checkouts that share
	// products cannot deadlock.
	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i].ProductID.Bytes[:], lines[j].ProductID.Bytes[:]) < 0
	})

	items := make([]OrderLine, 0, len(lines))
	priced := make([]pricing.Line, 0, len(lines))
	for _, line := range lines {
		product, err := q.GetProductForUpdate(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NewAppError("PRODUCT_NOT_FOUND", "product no longer exists", http.StatusNotFound, err).
					WithDetails(map[string]any{"product_id": uuidString(line.ProductID)})
			}
			return fmt.Errorf("lock product: %w", err)
		}
		if product.Stock < line.Qty {
			return insufficientStock(product.ID, line.Qty, product.Stock)
		}
		// price snapshot from the locked row, not from add-to-cart time
		p := pricing.Line{Qty: line.Qty, UnitPrice: product.Price}
		priced = append(priced, p)
		items = append(items, OrderLine{
			ProductID:   uuidString(product.ID),
			ProductName: product.Name,
			Qty:         line.Qty,
			UnitPrice:   product.Price,
			Subtotal:    p.Subtotal(),
		})
	}
	total := pricing.Total(priced)

	order, err := q.CreateOrder(ctx, dbgen.CreateOrderParams{
		UserID:        uid,
		Status:        dbgen.OrderStatusPENDING,
		TotalAmount:   total,
		PaymentMethod: method,
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	for _, item := range items {
		productID, err := parseUUID(item.ProductID)
		if err != nil {
			return fmt.Errorf("order item product id: %w", err)
		}
		if _, err := q.CreateOrderItem(ctx, dbgen.CreateOrderItemParams{
			OrderID:     order.ID,
			ProductID:   productID,
			ProductName: item.ProductName,
			Qty:         item.Qty,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}); err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}
	for _, line := range lines {
		affected, err := q.DecrementProductStock(ctx, dbgen.DecrementProductStockParams{
			Qty: line.Qty,
			ID:  line.ProductID,
		})
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if affected == 0 {
			// the conditional guard refused: treat as sold out
			return insufficientStock(line.ProductID, line.Qty, 0)
		}
	}

	charge, err := s.Gateway.Charge(ctx, payment.ChargeRequest{
		OrderID: uuidString(order.ID),
		UserID:  userID,
		Amount:  total,
		Method:  method,
	})
	if err != nil {
		// provider unreachable: abort the whole transaction, nothing persists
		return common.NewAppError("PAYMENT_UNAVAILABLE", "payment provider is unavailable, retry later", http.StatusServiceUnavailable, err)
	}

	if charge.Approved {
		paid, err := q.SetOrderStatus(ctx, dbgen.SetOrderStatusParams{Status: dbgen.OrderStatusPAID, ID: order.ID})
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		pay, err := q.CreatePayment(ctx, dbgen.CreatePaymentParams{
			OrderID:     order.ID,
			Status:      dbgen.PaymentStatusSUCCESS,
			Amount:      total,
			Method:      method,
			ProviderRef: charge.ProviderRef,
		})
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		if err := q.ClearCartItems(ctx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		out.order = paid
		out.payment = pay
		out.items = items
		return nil
	}

	// Declined: keep the FAILED order and payment as an audit trail, put the
	// stock back, leave the cart so the user can retry.
	for _, line := range lines {
		if err := q.RestoreProductStock(ctx, dbgen.RestoreProductStockParams{Qty: line.Qty, ID: line.ProductID}); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}
	failed, err := q.SetOrderStatus(ctx, dbgen.SetOrderStatusParams{Status: dbgen.OrderStatusFAILED, ID: order.ID})
	if err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	pay, err := q.CreatePayment(ctx, dbgen.CreatePaymentParams{
		OrderID:     order.ID,
		Status:      dbgen.PaymentStatusFAILED,
		Amount:      total,
		Method:      method,
		ProviderRef: charge.ProviderRef,
	})
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	out.order = failed
	out.payment = pay
	out.items = items
	out.declined = true
	out.reason = charge.DeclineReason
	return nil
}

// emitEvents publishes the post-commit events. Failures here never undo the
// committed checkout; the bus already logs fan-out problems.
func (s *Service) emitEvents(ctx context.Context, userID string, out outcome) {
	if s.Events == nil {
		return
	}
	base := map[string]any{
		"order_id": uuidString(out.order.ID),
		"user_id":  userID,
		"total":    out.order.TotalAmount,
		"status":   string(out.order.Status),
	}
	_, _ = s.Events.Emit(ctx, events.TopicOrderCreated, out.order.ID, base)
	if out.declined {
		payload := map[string]any{
			"order_id": uuidString(out.order.ID),
			"user_id":  userID,
			"amount":   out.payment.Amount,
			"reason":   out.reason,
		}
		_, _ = s.Events.Emit(ctx, events.TopicPaymentFailed, out.order.ID, payload)
		return
	}
	payload := map[string]any{
		"order_id":     uuidString(out.order.ID),
		"user_id":      userID,
		"amount":       out.payment.Amount,
		"provider_ref": out.payment.ProviderRef,
	}
	_, _ = s.Events.Emit(ctx, events.TopicOrderPaid, out.order.ID, payload)
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 15 * time.Second
}

func assemble(out outcome) Result {
	return Result{
		OrderID:       uuidString(out.order.ID),
		Status:        string(out.order.Status),
		TotalAmount:   out.order.TotalAmount,
		PaymentMethod: out.order.PaymentMethod,
		Items:         out.items,
		Payment: PaymentInfo{
			Status:      string(out.payment.Status),
			Amount:      out.payment.Amount,
			Method:      out.payment.Method,
			ProviderRef: out.payment.ProviderRef,
		},
		CreatedAt: toTime(out.order.CreatedAt),
	}
}

func emptyCart(err error) *common.AppError {
	return common.NewAppError("EMPTY_CART", "cart is empty", http.StatusConflict, err)
}

func insufficientStock(productID pgtype.UUID, requested, available int32) *common.AppError {
	if available < 0 {
		available = 0
	}
	return common.NewAppError("INSUFFICIENT_STOCK", "not enough stock for product", http.StatusConflict, nil).
		WithDetails(map[string]any{
			"product_id": uuidString(productID),
			"requested":  requested,
			"available":  available,
		})
}

func resultLabel(code string) string {
	switch code {
	case "EMPTY_CART":
		return "empty_cart"
	case "INSUFFICIENT_STOCK":
		return "insufficient_stock"
	case "PRODUCT_NOT_FOUND":
		return "product_not_found"
	case "PAYMENT_UNAVAILABLE":
		return "payment_unavailable"
	case "BAD_REQUEST":
		return "bad_request"
	default:
		return "error"
	}
}

func parseUUID(value string) (pgtype.UUID, error) {
	var id pgtype.UUID
	parsed, err := uuid.Parse(value)
	if err != nil {
		return id, err
	}
	if err := id.Scan(parsed.String()); err != nil {
		return pgtype.UUID{}, err
	}
	return id, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

func toTime(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}
