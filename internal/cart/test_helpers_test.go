package cart_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
)

// fakeCartStore keeps carts, cart items and products in memory. Items per
// cart preserve insertion order, matching the ORDER BY of the real query.
type fakeCartStore struct {
	mu       sync.Mutex
	carts    map[string]dbgen.Cart
	items    map[string][]dbgen.CartItem
	products map[string]dbgen.Product
}

func newFakeCartStore(t *testing.T, products ...dbgen.Product) *fakeCartStore {
	t.Helper()
	store := &fakeCartStore{
		carts:    map[string]dbgen.Cart{},
		items:    map[string][]dbgen.CartItem{},
		products: map[string]dbgen.Product{},
	}
	for _, p := range products {
		store.products[uuidStr(p.ID)] = p
	}
	return store
}

func (f *fakeCartStore) CreateCart(_ context.Context, userID pgtype.UUID) (dbgen.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := uuidStr(userID)
	if cart, ok := f.carts[key]; ok {
		cart.UpdatedAt = nowTz()
		f.carts[key] = cart
		return cart, nil
	}
	cart := dbgen.Cart{ID: newID(), UserID: userID, CreatedAt: nowTz(), UpdatedAt: nowTz()}
	f.carts[key] = cart
	return cart, nil
}

func (f *fakeCartStore) GetCartByUserID(_ context.Context, userID pgtype.UUID) (dbgen.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, ok := f.carts[uuidStr(userID)]
	if !ok {
		return dbgen.Cart{}, pgx.ErrNoRows
	}
	return cart, nil
}

func (f *fakeCartStore) ListCartItems(_ context.Context, cartID pgtype.UUID) ([]dbgen.ListCartItemsRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []dbgen.ListCartItemsRow
	for _, item := range f.items[uuidStr(cartID)] {
		product, ok := f.products[uuidStr(item.ProductID)]
		if !ok {
			continue
		}
		rows = append(rows, dbgen.ListCartItemsRow{
			ID:           item.ID,
			CartID:       item.CartID,
			ProductID:    item.ProductID,
			Qty:          item.Qty,
			CreatedAt:    item.CreatedAt,
			UpdatedAt:    item.UpdatedAt,
			ProductName:  product.Name,
			UnitPrice:    product.Price,
			ProductStock: product.Stock,
		})
	}
	return rows, nil
}

func (f *fakeCartStore) UpsertCartItem(_ context.Context, arg dbgen.UpsertCartItemParams) (dbgen.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := uuidStr(arg.CartID)
	for i, item := range f.items[key] {
		if item.ProductID.Bytes == arg.ProductID.Bytes {
			item.Qty += arg.Qty
			item.UpdatedAt = nowTz()
			f.items[key][i] = item
			return item, nil
		}
	}
	item := dbgen.CartItem{
		ID:        newID(),
		CartID:    arg.CartID,
		ProductID: arg.ProductID,
		Qty:       arg.Qty,
		CreatedAt: nowTz(),
		UpdatedAt: nowTz(),
	}
	f.items[key] = append(f.items[key], item)
	return item, nil
}

func (f *fakeCartStore) SetCartItemQty(_ context.Context, arg dbgen.SetCartItemQtyParams) (dbgen.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := uuidStr(arg.CartID)
	for i, item := range f.items[key] {
		if item.ProductID.Bytes == arg.ProductID.Bytes {
			item.Qty = arg.Qty
			item.UpdatedAt = nowTz()
			f.items[key][i] = item
			return item, nil
		}
	}
	return dbgen.CartItem{}, pgx.ErrNoRows
}

func (f *fakeCartStore) DeleteCartItem(_ context.Context, arg dbgen.DeleteCartItemParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := uuidStr(arg.CartID)
	for i, item := range f.items[key] {
		if item.ProductID.Bytes == arg.ProductID.Bytes {
			f.items[key] = append(f.items[key][:i], f.items[key][i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeCartStore) ClearCartItems(_ context.Context, cartID pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[uuidStr(cartID)] = nil
	return nil
}

func (f *fakeCartStore) GetProductByID(_ context.Context, id pgtype.UUID) (dbgen.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[uuidStr(id)]
	if !ok {
		return dbgen.Product{}, pgx.ErrNoRows
	}
	return product, nil
}

func (f *fakeCartStore) setPrice(t *testing.T, productID string, price int64) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[productID]
	require.True(t, ok)
	product.Price = price
	f.products[productID] = product
}

func testProduct(t *testing.T, id, name string, price int64, stock int32) dbgen.Product {
	t.Helper()
	return dbgen.Product{
		ID:        mustID(t, id),
		Name:      name,
		Slug:      name,
		Category:  "Electronics",
		Price:     price,
		Stock:     stock,
		CreatedAt: nowTz(),
		UpdatedAt: nowTz(),
	}
}

func nowTz() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now(), Valid: true}
}

func newID() pgtype.UUID {
	var id pgtype.UUID
	_ = id.Scan(uuid.NewString())
	return id
}

func mustID(t *testing.T, value string) pgtype.UUID {
	t.Helper()
	var id pgtype.UUID
	require.NoError(t, id.Scan(value))
	return id
}

func uuidStr(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
