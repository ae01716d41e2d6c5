package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/pricing"
)

// ErrProductNotFound indicates the referenced product does not exist.
var ErrProductNotFound = errors.New("cart: product not found")

// ErrItemNotFound indicates the cart holds no line for the product.
var ErrItemNotFound = errors.New("cart: item not found")

// ErrInvalidQty is returned when a quantity is zero or negative.
var ErrInvalidQty = errors.New("cart: qty must be positive")

// Queries is the query surface the cart needs.
type Queries interface {
	CreateCart(ctx context.Context, userID pgtype.UUID) (dbgen.Cart, error)
	GetCartByUserID(ctx context.Context, userID pgtype.UUID) (dbgen.Cart, error)
	ListCartItems(ctx context.Context, cartID pgtype.UUID) ([]dbgen.ListCartItemsRow, error)
	UpsertCartItem(ctx context.Context, arg dbgen.UpsertCartItemParams) (dbgen.CartItem, error)
	SetCartItemQty(ctx context.Context, arg dbgen.SetCartItemQtyParams) (dbgen.CartItem, error)
	DeleteCartItem(ctx context.Context, arg dbgen.DeleteCartItemParams) (int64, error)
	ClearCartItems(ctx context.Context, cartID pgtype.UUID) error
	GetProductByID(ctx context.Context, id pgtype.UUID) (dbgen.Product, error)
}

// Service implements the one-cart-per-user shopping cart. Carts are created
// lazily on the first write and never reserve stock; availability is enforced
// at checkout.
type Service struct {
	Q Queries
}

// Line is one cart row joined with the live product.
type Line struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Qty       int32     `json:"qty"`
	UnitPrice int64     `json:"unit_price"`
	Subtotal  int64     `json:"subtotal"`
	Stock     int32     `json:"stock"`
	AddedAt   time.Time `json:"added_at"`
}

// View is the assembled cart payload. Lines appear in insertion order and
// always show the live product price.
type View struct {
	CartID string `json:"cart_id,omitempty"`
	Items  []Line `json:"items"`
	Total  int64  `json:"total"`
}

// EnsureCart loads or lazily creates the user's cart.
func (s *Service) EnsureCart(ctx context.Context, userID string) (dbgen.Cart, error) {
	if s == nil || s.Q == nil {
		return dbgen.Cart{}, errors.New("cart service not configured")
	}
	uid, err := ToUUID(userID)
	if err != nil {
		return dbgen.Cart{}, fmt.Errorf("parse user id: %w", err)
	}
	// upsert keeps one cart per user even when first requests race
	cart, err := s.Q.CreateCart(ctx, uid)
	if err != nil {
		return dbgen.Cart{}, fmt.Errorf("ensure cart: %w", err)
	}
	return cart, nil
}

// AddItem inserts a line or merges qty into the existing one. A merged line
// keeps its original position in the cart.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int32) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	if qty <= 0 {
		return View{}, ErrInvalidQty
	}
	pID, err := ToUUID(productID)
	if err != nil {
		return View{}, ErrProductNotFound
	}
	if _, err := s.Q.GetProductByID(ctx, pID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, ErrProductNotFound
		}
		return View{}, fmt.Errorf("load product: %w", err)
	}
	cart, err := s.EnsureCart(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if _, err := s.Q.UpsertCartItem(ctx, dbgen.UpsertCartItemParams{
		CartID:    cart.ID,
		ProductID: pID,
		Qty:       qty,
	}); err != nil {
		return View{}, fmt.Errorf("upsert cart item: %w", err)
	}
	return s.view(ctx, cart)
}

// UpdateItemQty sets the quantity of an existing line.
func (s *Service) UpdateItemQty(ctx context.Context, userID, productID string, qty int32) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	if qty <= 0 {
		return View{}, ErrInvalidQty
	}
	pID, err := ToUUID(productID)
	if err != nil {
		return View{}, ErrItemNotFound
	}
	cart, err := s.EnsureCart(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if _, err := s.Q.SetCartItemQty(ctx, dbgen.SetCartItemQtyParams{
		Qty:       qty,
		CartID:    cart.ID,
		ProductID: pID,
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, ErrItemNotFound
		}
		return View{}, fmt.Errorf("set cart item qty: %w", err)
	}
	return s.view(ctx, cart)
}

// RemoveItem deletes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	pID, err := ToUUID(productID)
	if err != nil {
		return View{}, ErrItemNotFound
	}
	cart, err := s.EnsureCart(ctx, userID)
	if err != nil {
		return View{}, err
	}
	deleted, err := s.Q.DeleteCartItem(ctx, dbgen.DeleteCartItemParams{CartID: cart.ID, ProductID: pID})
	if err != nil {
		return View{}, fmt.Errorf("delete cart item: %w", err)
	}
	if deleted == 0 {
		return View{}, ErrItemNotFound
	}
	return s.view(ctx, cart)
}

// Clear deletes every line, leaving the cart row in place.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if s == nil || s.Q == nil {
		return errors.New("cart service not configured")
	}
	uid, err := ToUUID(userID)
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}
	cart, err := s.Q.GetCartByUserID(ctx, uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load cart: %w", err)
	}
	if err := s.Q.ClearCartItems(ctx, cart.ID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	return nil
}

// ViewCart assembles the cart contents. A user without a cart row sees an
// empty cart; reading never creates one.
func (s *Service) ViewCart(ctx context.Context, userID string) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	uid, err := ToUUID(userID)
	if err != nil {
		return View{}, fmt.Errorf("parse user id: %w", err)
	}
	cart, err := s.Q.GetCartByUserID(ctx, uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{Items: []Line{}}, nil
		}
		return View{}, fmt.Errorf("load cart: %w", err)
	}
	return s.view(ctx, cart)
}

func (s *Service) view(ctx context.Context, cart dbgen.Cart) (View, error) {
	rows, err := s.Q.ListCartItems(ctx, cart.ID)
	if err != nil {
		return View{}, fmt.Errorf("list cart items: %w", err)
	}
	items := make([]Line, 0, len(rows))
	lines := make([]pricing.Line, 0, len(rows))
	for _, row := range rows {
		line := pricing.Line{Qty: row.Qty, UnitPrice: row.UnitPrice}
		items = append(items, Line{
			ProductID: UUIDString(row.ProductID),
			Name:      row.ProductName,
			Qty:       row.Qty,
			UnitPrice: row.UnitPrice,
			Subtotal:  line.Subtotal(),
			Stock:     row.ProductStock,
			AddedAt:   toTime(row.CreatedAt),
		})
		lines = append(lines, line)
	}
	return View{
		CartID: UUIDString(cart.ID),
		Items:  items,
		Total:  pricing.Total(lines),
	}, nil
}

// ToUUID parses a canonical UUID string into the pgtype form.
func ToUUID(value string) (pgtype.UUID, error) {
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

// UUIDString renders a pgtype UUID as its canonical string, empty when null.
func UUIDString(id pgtype.UUID) string {
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
