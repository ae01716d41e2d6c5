package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/cart"
	"github.com/lapak-dev/backend-lapak/internal/common"
	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/obs"
)

// Queries is the read surface the receipt mail needs.
type Queries interface {
	GetUserByID(ctx context.Context, id pgtype.UUID) (dbgen.User, error)
	GetOrderByID(ctx context.Context, id pgtype.UUID) (dbgen.Order, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]dbgen.OrderItem, error)
}

// EmailHandler processes the email task types. Send failures are retryable;
// malformed payloads and vanished rows are not.
type EmailHandler struct {
	Q      Queries
	Sender common.EmailSender
	Logger zerolog.Logger
}

// HandleWelcome processes email:welcome tasks.
func (h *EmailHandler) HandleWelcome(ctx context.Context, t *asynq.Task) error {
	var p WelcomeEmailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		count("welcome", "dropped")
		return fmt.Errorf("decode welcome payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.Email == "" {
		count("welcome", "dropped")
		return fmt.Errorf("welcome payload has no email: %w", asynq.SkipRetry)
	}
	name := p.Name
	if name == "" {
		name = "there"
	}
	subject := "Welcome to Lapak"
	body := fmt.Sprintf("<h1>Hi %s,</h1><p>Your account is ready. Happy shopping!</p>", html.EscapeString(name))
	if err := h.Sender.Send(p.Email, subject, body); err != nil {
		count("welcome", "error")
		return fmt.Errorf("send welcome email: %w", err)
	}
	count("welcome", "sent")
	h.Logger.Info().Str("task", TypeEmailWelcome).Str("user_id", p.UserID).Msg("welcome email sent")
	return nil
}

// HandleReceipt processes email:receipt tasks.
func (h *EmailHandler) HandleReceipt(ctx context.Context, t *asynq.Task) error {
	var p ReceiptEmailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		count("receipt", "dropped")
		return fmt.Errorf("decode receipt payload: %v: %w", err, asynq.SkipRetry)
	}
	orderID, err := cart.ToUUID(p.OrderID)
	if err != nil {
		count("receipt", "dropped")
		return fmt.Errorf("receipt payload order id: %v: %w", err, asynq.SkipRetry)
	}
	order, err := h.Q.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			count("receipt", "dropped")
			return fmt.Errorf("order %s no longer exists: %w", p.OrderID, asynq.SkipRetry)
		}
		count("receipt", "error")
		return fmt.Errorf("load order: %w", err)
	}
	if order.Status != dbgen.OrderStatusPAID {
		count("receipt", "dropped")
		return fmt.Errorf("order %s is %s, not PAID: %w", p.OrderID, order.Status, asynq.SkipRetry)
	}
	user, err := h.Q.GetUserByID(ctx, order.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			count("receipt", "dropped")
			return fmt.Errorf("buyer of order %s no longer exists: %w", p.OrderID, asynq.SkipRetry)
		}
		count("receipt", "error")
		return fmt.Errorf("load user: %w", err)
	}
	items, err := h.Q.ListOrderItems(ctx, order.ID)
	if err != nil {
		count("receipt", "error")
		return fmt.Errorf("load order items: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<h1>Thanks for your order, %s!</h1>", html.EscapeString(user.Name))
	fmt.Fprintf(&b, "<p>Order <strong>%s</strong> is paid.</p><ul>", p.OrderID)
	for _, item := range items {
		fmt.Fprintf(&b, "<li>%d x %s = %s</li>",
			item.Qty, html.EscapeString(item.ProductName), formatRupiah(item.Subtotal))
	}
	fmt.Fprintf(&b, "</ul><p>Total: <strong>%s</strong></p>", formatRupiah(order.TotalAmount))

	subject := "Your Lapak receipt for order " + p.OrderID
	if err := h.Sender.Send(user.Email, subject, b.String()); err != nil {
		count("receipt", "error")
		return fmt.Errorf("send receipt email: %w", err)
	}
	count("receipt", "sent")
	h.Logger.Info().Str("task", TypeEmailReceipt).Str("order_id", p.OrderID).Msg("receipt email sent")
	return nil
}

// NewMux routes task types to their handlers.
func NewMux(h *EmailHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEmailWelcome, h.HandleWelcome)
	mux.HandleFunc(TypeEmailReceipt, h.HandleReceipt)
	return mux
}

func count(kind, result string) {
	if obs.EmailTasksTotal != nil {
		obs.EmailTasksTotal.WithLabelValues(kind, result).Inc()
	}
}

// formatRupiah renders minor-unit-free IDR with dot grouping, Rp15.360.000.
func formatRupiah(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	negative := false
	if strings.HasPrefix(digits, "-") {
		negative = true
		digits = digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := "Rp" + b.String()
	if negative {
		out = "-" + out
	}
	return out
}
