package checkout_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lapak-dev/backend-lapak/internal/checkout"
	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/payment"
)

// fakeStore backs checkout tests with mutable in-memory tables. It implements
// both checkout.TxQueries and events.Store.
type fakeStore struct {
	mu sync.Mutex

	carts      map[string]dbgen.Cart               // user id -> cart
	items      map[string][]dbgen.ListCartItemsRow // cart id -> lines
	products   map[string]dbgen.Product            // product id -> product
	orders     map[string]dbgen.Order              // order id -> order
	orderItems map[string][]dbgen.OrderItem        // order id -> items
	payments   map[string]dbgen.Payment            // order id -> payment
	events     []dbgen.DomainEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		carts:      make(map[string]dbgen.Cart),
		items:      make(map[string][]dbgen.ListCartItemsRow),
		products:   make(map[string]dbgen.Product),
		orders:     make(map[string]dbgen.Order),
		orderItems: make(map[string][]dbgen.OrderItem),
		payments:   make(map[string]dbgen.Payment),
	}
}

// snapshot is a deep copy of the mutable tables, taken at transaction begin.
type snapshot struct {
	carts      map[string]dbgen.Cart
	items      map[string][]dbgen.ListCartItemsRow
	products   map[string]dbgen.Product
	orders     map[string]dbgen.Order
	orderItems map[string][]dbgen.OrderItem
	payments   map[string]dbgen.Payment
}

func (s *fakeStore) clone() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		carts:      make(map[string]dbgen.Cart, len(s.carts)),
		items:      make(map[string][]dbgen.ListCartItemsRow, len(s.items)),
		products:   make(map[string]dbgen.Product, len(s.products)),
		orders:     make(map[string]dbgen.Order, len(s.orders)),
		orderItems: make(map[string][]dbgen.OrderItem, len(s.orderItems)),
		payments:   make(map[string]dbgen.Payment, len(s.payments)),
	}
	for k, v := range s.carts {
		snap.carts[k] = v
	}
	for k, v := range s.items {
		snap.items[k] = append([]dbgen.ListCartItemsRow(nil), v...)
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.orderItems {
		snap.orderItems[k] = append([]dbgen.OrderItem(nil), v...)
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	return snap
}

func (s *fakeStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts = snap.carts
	s.items = snap.items
	s.products = snap.products
	s.orders = snap.orders
	s.orderItems = snap.orderItems
	s.payments = snap.payments
}

func (s *fakeStore) GetCartByUserID(_ context.Context, userID pgtype.UUID) (dbgen.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[uuidStr(userID)]
	if !ok {
		return dbgen.Cart{}, pgx.ErrNoRows
	}
	return cart, nil
}

func (s *fakeStore) ListCartItems(_ context.Context, cartID pgtype.UUID) ([]dbgen.ListCartItemsRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dbgen.ListCartItemsRow(nil), s.items[uuidStr(cartID)]...), nil
}

func (s *fakeStore) GetProductForUpdate(_ context.Context, id pgtype.UUID) (dbgen.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[uuidStr(id)]
	if !ok {
		return dbgen.Product{}, pgx.ErrNoRows
	}
	return product, nil
}

func (s *fakeStore) CreateOrder(_ context.Context, arg dbgen.CreateOrderParams) (dbgen.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := dbgen.Order{
		ID:            newPgID(),
		UserID:        arg.UserID,
		Status:        arg.Status,
		TotalAmount:   arg.TotalAmount,
		PaymentMethod: arg.PaymentMethod,
		CreatedAt:     nowTz(),
		UpdatedAt:     nowTz(),
	}
	s.orders[uuidStr(order.ID)] = order
	return order, nil
}

func (s *fakeStore) CreateOrderItem(_ context.Context, arg dbgen.CreateOrderItemParams) (dbgen.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := dbgen.OrderItem{
		ID:          newPgID(),
		OrderID:     arg.OrderID,
		ProductID:   arg.ProductID,
		ProductName: arg.ProductName,
		Qty:         arg.Qty,
		UnitPrice:   arg.UnitPrice,
		Subtotal:    arg.Subtotal,
		CreatedAt:   nowTz(),
	}
	key := uuidStr(arg.OrderID)
	s.orderItems[key] = append(s.orderItems[key], item)
	return item, nil
}

func (s *fakeStore) DecrementProductStock(_ context.Context, arg dbgen.DecrementProductStockParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[uuidStr(arg.ID)]
	if !ok || product.Stock < arg.Qty {
		return 0, nil
	}
	product.Stock -= arg.Qty
	s.products[uuidStr(arg.ID)] = product
	return 1, nil
}

func (s *fakeStore) RestoreProductStock(_ context.Context, arg dbgen.RestoreProductStockParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[uuidStr(arg.ID)]
	if !ok {
		return pgx.ErrNoRows
	}
	product.Stock += arg.Qty
	s.products[uuidStr(arg.ID)] = product
	return nil
}

func (s *fakeStore) SetOrderStatus(_ context.Context, arg dbgen.SetOrderStatusParams) (dbgen.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[uuidStr(arg.ID)]
	if !ok || order.Status != dbgen.OrderStatusPENDING {
		return dbgen.Order{}, pgx.ErrNoRows
	}
	order.Status = arg.Status
	order.UpdatedAt = nowTz()
	s.orders[uuidStr(arg.ID)] = order
	return order, nil
}

func (s *fakeStore) CreatePayment(_ context.Context, arg dbgen.CreatePaymentParams) (dbgen.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pay := dbgen.Payment{
		ID:          newPgID(),
		OrderID:     arg.OrderID,
		Status:      arg.Status,
		Amount:      arg.Amount,
		Method:      arg.Method,
		ProviderRef: arg.ProviderRef,
		CreatedAt:   nowTz(),
	}
	s.payments[uuidStr(arg.OrderID)] = pay
	return pay, nil
}

func (s *fakeStore) ClearCartItems(_ context.Context, cartID pgtype.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, uuidStr(cartID))
	return nil
}

func (s *fakeStore) InsertDomainEvent(_ context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := dbgen.DomainEvent{
		ID:          newPgID(),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     append([]byte(nil), arg.Payload...),
		OccurredAt:  nowTz(),
	}
	s.events = append(s.events, event)
	return event, nil
}

// seedProduct inserts a product and returns its id.
func (s *fakeStore) seedProduct(name string, price int64, stock int32) pgtype.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := newPgID()
	s.products[uuidStr(id)] = dbgen.Product{
		ID:        id,
		Name:      name,
		Slug:      name,
		Category:  "Electronics",
		Price:     price,
		Stock:     stock,
		CreatedAt: nowTz(),
		UpdatedAt: nowTz(),
	}
	return id
}

type cartLine struct {
	productID pgtype.UUID
	qty       int32
}

// seedCart creates a cart for the user with the given lines.
func (s *fakeStore) seedCart(userID string, lines ...cartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cartID := newPgID()
	s.carts[userID] = dbgen.Cart{ID: cartID, UserID: pgID(userID), CreatedAt: nowTz(), UpdatedAt: nowTz()}
	rows := make([]dbgen.ListCartItemsRow, 0, len(lines))
	for _, line := range lines {
		product := s.products[uuidStr(line.productID)]
		rows = append(rows, dbgen.ListCartItemsRow{
			ID:           newPgID(),
			CartID:       cartID,
			ProductID:    line.productID,
			Qty:          line.qty,
			CreatedAt:    nowTz(),
			UpdatedAt:    nowTz(),
			ProductName:  product.Name,
			UnitPrice:    product.Price,
			ProductStock: product.Stock,
		})
	}
	s.items[uuidStr(cartID)] = rows
}

func (s *fakeStore) stockOf(id pgtype.UUID) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[uuidStr(id)].Stock
}

func (s *fakeStore) setPrice(id pgtype.UUID, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product := s.products[uuidStr(id)]
	product.Price = price
	s.products[uuidStr(id)] = product
}

func (s *fakeStore) cartSize(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return 0
	}
	return len(s.items[uuidStr(cart.ID)])
}

func (s *fakeStore) ordersOf(userID string) []dbgen.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dbgen.Order
	for _, order := range s.orders {
		if uuidStr(order.UserID) == userID {
			out = append(out, order)
		}
	}
	return out
}

func (s *fakeStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *fakeStore) paymentFor(orderID string) (dbgen.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pay, ok := s.payments[orderID]
	return pay, ok
}

func (s *fakeStore) itemsOf(orderID string) []dbgen.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dbgen.OrderItem(nil), s.orderItems[orderID]...)
}

func (s *fakeStore) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.Topic)
	}
	return out
}

// fakeRunner gives the closure transactional semantics: the store mutates in
// place, and a failing closure restores the pre-transaction snapshot. txMu
// plays the role of the row locks, serialising concurrent checkouts.
type fakeRunner struct {
	store    *fakeStore
	txMu     sync.Mutex
	beginErr error
}

func (r *fakeRunner) RunInTx(_ context.Context, fn func(checkout.TxQueries) error) error {
	if r.beginErr != nil {
		return r.beginErr
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	snap := r.store.clone()
	if err := fn(r.store); err != nil {
		r.store.restore(snap)
		return err
	}
	return nil
}

// downGateway simulates a provider that cannot be reached.
type downGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *downGateway) Name() string { return "down" }

func (g *downGateway) Charge(context.Context, payment.ChargeRequest) (payment.ChargeResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return payment.ChargeResult{}, errors.New("connect: connection refused")
}

func (g *downGateway) chargeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func pgID(value string) pgtype.UUID {
	var id pgtype.UUID
	if err := id.Scan(value); err != nil {
		panic(err)
	}
	return id
}

func newPgID() pgtype.UUID {
	return pgID(uuid.NewString())
}

func uuidStr(id pgtype.UUID) string {
	return uuid.UUID(id.Bytes).String()
}

func nowTz() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
}
