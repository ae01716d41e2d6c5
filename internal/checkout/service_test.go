package checkout_test

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lapak-dev/backend-lapak/internal/checkout"
	"github.com/lapak-dev/backend-lapak/internal/common"
	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/lock"
	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/payment"
)

const (
	userA = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	userB = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
)

func newService(store *fakeStore, gw payment.Gateway) *checkout.Service {
	obs.MustRegisterDomainMetrics("lapak_test", prometheus.NewRegistry())
	return &checkout.Service{
		Runner:  &fakeRunner{store: store},
		Gateway: gw,
		Events:  &events.Bus{Store: store},
	}
}

func TestCheckoutSuccess(t *testing.T) {
	store := newFakeStore()
	laptop := store.seedProduct("Laptop Pro 14", 15_000_000, 5)
	mouse := store.seedProduct("Wireless Mouse", 180_000, 10)
	store.seedCart(userA, cartLine{laptop, 1}, cartLine{mouse, 2})
	svc := newService(store, payment.NewSandboxGateway())

	result, err := svc.Checkout(context.Background(), userA, "VA_BCA")
	require.NoError(t, err)

	require.Equal(t, "PAID", result.Status)
	require.EqualValues(t, 15_360_000, result.TotalAmount)
	require.Equal(t, "VA_BCA", result.PaymentMethod)
	require.False(t, result.CreatedAt.IsZero())
	require.ElementsMatch(t, []checkout.OrderLine{
		{ProductID: uuidStr(laptop), ProductName: "Laptop Pro 14", Qty: 1, UnitPrice: 15_000_000, Subtotal: 15_000_000},
		{ProductID: uuidStr(mouse), ProductName: "Wireless Mouse", Qty: 2, UnitPrice: 180_000, Subtotal: 360_000},
	}, result.Items)
	require.Equal(t, "SUCCESS", result.Payment.Status)
	require.Equal(t, "sbx-"+result.OrderID, result.Payment.ProviderRef)

	require.EqualValues(t, 4, store.stockOf(laptop))
	require.EqualValues(t, 8, store.stockOf(mouse))
	require.Zero(t, store.cartSize(userA))

	orders := store.ordersOf(userA)
	require.Len(t, orders, 1)
	require.Equal(t, dbgen.OrderStatusPAID, orders[0].Status)
	require.Len(t, store.itemsOf(result.OrderID), 2)
	pay, ok := store.paymentFor(result.OrderID)
	require.True(t, ok)
	require.Equal(t, dbgen.PaymentStatusSUCCESS, pay.Status)
	require.EqualValues(t, 15_360_000, pay.Amount)

	require.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderPaid}, store.topics())
}

func TestCheckoutEmptyCart(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("Laptop Pro 14", 15_000_000, 5)
	svc := newService(store, payment.NewSandboxGateway())

	t.Run("no cart row", func(t *testing.T) {
		_, err := svc.Checkout(context.Background(), userA, "VA_BCA")
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, "EMPTY_CART", appErr.Code)
		require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	})

	t.Run("cart with no lines", func(t *testing.T) {
		store.seedCart(userA)
		_, err := svc.Checkout(context.Background(), userA, "VA_BCA")
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, "EMPTY_CART", appErr.Code)
	})

	require.Zero(t, store.orderCount())
	require.Empty(t, store.topics())
}

func TestCheckoutInsufficientStock(t *testing.T) {
	store := newFakeStore()
	laptop := store.seedProduct("Laptop Pro 14", 15_000_000, 1)
	mouse := store.seedProduct("Wireless Mouse", 180_000, 10)
	store.seedCart(userA, cartLine{laptop, 2}, cartLine{mouse, 1})
	svc := newService(store, payment.NewSandboxGateway())

	_, err := svc.Checkout(context.Background(), userA, "VA_BCA")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	details, ok := appErr.Details.(map[string]any)
	require.True(t, ok)
	require.Equal(t, uuidStr(laptop), details["product_id"])

	// nothing moved: stock, cart, orders and events are all untouched
	require.EqualValues(t, 1, store.stockOf(laptop))
	require.EqualValues(t, 10, store.stockOf(mouse))
	require.Equal(t, 2, store.cartSize(userA))
	require.Zero(t, store.orderCount())
	require.Empty(t, store.topics())
}

func TestCheckoutUnknownProduct(t *testing.T) {
	store := newFakeStore()
	ghost := newPgID()
	store.seedProduct("Wireless Mouse", 180_000, 10)
	store.mu.Lock()
	cartID := newPgID()
	store.carts[userA] = dbgen.Cart{ID: cartID, UserID: pgID(userA), CreatedAt: nowTz(), UpdatedAt: nowTz()}
	store.items[uuidStr(cartID)] = []dbgen.ListCartItemsRow{{
		ID: newPgID(), CartID: cartID, ProductID: ghost, Qty: 1,
		CreatedAt: nowTz(), UpdatedAt: nowTz(), ProductName: "Ghost", UnitPrice: 1,
	}}
	store.mu.Unlock()
	svc := newService(store, payment.NewSandboxGateway())

	_, err := svc.Checkout(context.Background(), userA, "VA_BCA")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PRODUCT_NOT_FOUND", appErr.Code)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
	require.Zero(t, store.orderCount())
	require.Empty(t, store.topics())
}

func TestCheckoutPaymentDeclined(t *testing.T) {
	store := newFakeStore()
	laptop := store.seedProduct("Laptop Pro 14", 15_000_000, 5)
	store.seedCart(userA, cartLine{laptop, 1})
	gw := payment.NewSandboxGateway()
	gw.Decline(15_000_000, "insufficient funds")
	svc := newService(store, gw)

	_, err := svc.Checkout(context.Background(), userA, "VA_BCA")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PAYMENT_FAILED", appErr.Code)
	require.Equal(t, http.StatusPaymentRequired, appErr.HTTPStatus)
	details, ok := appErr.Details.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "insufficient funds", details["reason"])
	orderID, ok := details["order_id"].(string)
	require.True(t, ok)

	// the failed attempt is committed as an audit trail
	orders := store.ordersOf(userA)
	require.Len(t, orders, 1)
	require.Equal(t, dbgen.OrderStatusFAILED, orders[0].Status)
	require.Equal(t, orderID, uuidStr(orders[0].ID))
	pay, found := store.paymentFor(orderID)
	require.True(t, found)
	require.Equal(t, dbgen.PaymentStatusFAILED, pay.Status)
	require.Equal(t, "sbx-"+orderID, pay.ProviderRef)

	// stock restored, cart intact so the user can retry with another method
	require.EqualValues(t, 5, store.stockOf(laptop))
	require.Equal(t, 1, store.cartSize(userA))

	require.Equal(t, []string{events.TopicOrderCreated, events.TopicPaymentFailed}, store.topics())
}

func TestCheckoutProviderUnreachable(t *testing.T) {
	store := newFakeStore()
	laptop := store.seedProduct("Laptop Pro 14", 15_000_000, 5)
	store.seedCart(userA, cartLine{laptop, 2})
	gw := &downGateway{}
	svc := newService(store, gw)

	_, err := svc.Checkout(context.Background(), userA, "VA_BCA")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PAYMENT_UNAVAILABLE", appErr.Code)
	require.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
	require.Equal(t, 1, gw.chargeCalls())

	// the whole transaction rolled back, so a retry starts clean
	require.EqualValues(t, 5, store.stockOf(laptop))
	require.Equal(t, 1, store.cartSize(userA))
	require.Zero(t, store.orderCount())
	require.Empty(t, store.topics())
}

func TestCheckoutChargesLivePrice(t *testing.T) {
	store := newFakeStore()
	keyboard := store.seedProduct("Mechanical Keyboard", 100_000, 10)
	store.seedCart(userA, cartLine{keyboard, 2})
	// the price changes between add-to-cart and checkout
	store.setPrice(keyboard, 150_000)
	svc := newService(store, payment.NewSandboxGateway())

	result, err := svc.Checkout(context.Background(), userA, "VA_BCA")
	require.NoError(t, err)
	require.EqualValues(t, 300_000, result.TotalAmount)
	require.EqualValues(t, 150_000, result.Items[0].UnitPrice)
}

func TestCheckoutLastUnitRace(t *testing.T) {
	store := newFakeStore()
	widget := store.seedProduct("Limited Edition Widget", 250_000, 1)
	store.seedCart(userA, cartLine{widget, 1})
	store.seedCart(userB, cartLine{widget, 1})
	svc := newService(store, payment.NewSandboxGateway())

	var mu sync.Mutex
	var outcomes []string
	g := new(errgroup.Group)
	for _, uid := range []string{userA, userB} {
		g.Go(func() error {
			_, err := svc.Checkout(context.Background(), uid, "VA_BCA")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				outcomes = append(outcomes, "ok")
				return nil
			}
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				outcomes = append(outcomes, appErr.Code)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(outcomes)
	require.Equal(t, []string{"INSUFFICIENT_STOCK", "ok"}, outcomes)
	require.EqualValues(t, 0, store.stockOf(widget))
	require.Equal(t, 1, store.orderCount())
}

func TestCheckoutSerialisedPerUser(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeStore()
	laptop := store.seedProduct("Laptop Pro 14", 15_000_000, 5)
	store.seedCart(userA, cartLine{laptop, 1})
	svc := newService(store, payment.NewSandboxGateway())
	svc.Locker = &lock.Locker{Client: client, RetryBackoff: 5 * time.Millisecond}
	svc.LockTTL = time.Second

	result, err := svc.Checkout(context.Background(), userA, "VA_BCA")
	require.NoError(t, err)
	require.Equal(t, "PAID", result.Status)
	require.False(t, mr.Exists("checkout:user:"+userA))
}

func TestCheckoutInputValidation(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, payment.NewSandboxGateway())

	_, err := svc.Checkout(context.Background(), userA, "  ")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "BAD_REQUEST", appErr.Code)

	_, err = svc.Checkout(context.Background(), "not-a-uuid", "VA_BCA")
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "BAD_REQUEST", appErr.Code)
}

func TestCheckoutStorageFailure(t *testing.T) {
	store := newFakeStore()
	laptop := store.seedProduct("Laptop Pro 14", 15_000_000, 5)
	store.seedCart(userA, cartLine{laptop, 1})
	svc := newService(store, payment.NewSandboxGateway())
	svc.Runner = &fakeRunner{store: store, beginErr: errors.New("connection reset")}

	_, err := svc.Checkout(context.Background(), userA, "VA_BCA")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "STORAGE_ERROR", appErr.Code)
	require.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)
	require.EqualValues(t, 5, store.stockOf(laptop))
	require.Zero(t, store.orderCount())
}
