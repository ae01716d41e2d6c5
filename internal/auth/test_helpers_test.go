package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
)

var errNotImplemented = errors.New("not implemented")

// fakeQueries keeps users and sessions in memory so the auth flows can run
// end to end without a database. Queries outside the auth surface fail loudly.
type fakeQueries struct {
	mu             sync.Mutex
	usersByEmail   map[string]dbgen.User
	usersByID      map[string]dbgen.User
	sessionsByHash map[string]dbgen.Session
	sessionsByID   map[string]dbgen.Session
	events         []dbgen.DomainEvent
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		usersByEmail:   make(map[string]dbgen.User),
		usersByID:      make(map[string]dbgen.User),
		sessionsByHash: make(map[string]dbgen.Session),
		sessionsByID:   make(map[string]dbgen.Session),
	}
}

func (f *fakeQueries) seedUser(t *testing.T, name, email, password, role string) dbgen.User {
	t.Helper()
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	pgID, _ := pgUUIDFromString(id.String())
	now := time.Now()
	user := dbgen.User{
		ID:           pgID,
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		CreatedAt:    pgTimestamp(now),
		UpdatedAt:    pgTimestamp(now),
	}
	f.usersByEmail[user.Email] = user
	f.usersByID[id.String()] = user
	return user
}

func (f *fakeQueries) activeSessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, session := range f.sessionsByID {
		if !session.RevokedAt.Valid {
			count++
		}
	}
	return count
}

func (f *fakeQueries) CreateUser(ctx context.Context, arg dbgen.CreateUserParams) (dbgen.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(arg.Email)
	if _, exists := f.usersByEmail[key]; exists {
		return dbgen.User{}, &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	}

	id := uuid.New()
	pgID, _ := pgUUIDFromString(id.String())
	now := time.Now()
	user := dbgen.User{
		ID:           pgID,
		Email:        key,
		PasswordHash: arg.PasswordHash,
		Name:         arg.Name,
		Role:         arg.Role,
		CreatedAt:    pgTimestamp(now),
		UpdatedAt:    pgTimestamp(now),
	}
	f.usersByEmail[key] = user
	f.usersByID[id.String()] = user
	return user, nil
}

func (f *fakeQueries) GetUserByEmail(ctx context.Context, email string) (dbgen.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return dbgen.User{}, fmt.Errorf("user not found")
	}
	return user, nil
}

func (f *fakeQueries) GetUserByID(ctx context.Context, id pgtype.UUID) (dbgen.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.usersByID[uuidString(id)]
	if !ok {
		return dbgen.User{}, fmt.Errorf("user not found")
	}
	return user, nil
}

func (f *fakeQueries) CreateSession(ctx context.Context, arg dbgen.CreateSessionParams) (dbgen.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	pgID, _ := pgUUIDFromString(id.String())
	session := dbgen.Session{
		ID:               pgID,
		UserID:           arg.UserID,
		RefreshTokenHash: arg.RefreshTokenHash,
		UserAgent:        arg.UserAgent,
		IP:               arg.IP,
		ExpiresAt:        arg.ExpiresAt,
		CreatedAt:        pgTimestamp(time.Now()),
	}
	f.sessionsByHash[arg.RefreshTokenHash] = session
	f.sessionsByID[id.String()] = session
	return session, nil
}

func (f *fakeQueries) GetSessionByTokenHash(ctx context.Context, refreshTokenHash string) (dbgen.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessionsByHash[refreshTokenHash]
	if !ok {
		return dbgen.Session{}, fmt.Errorf("session not found")
	}
	return session, nil
}

func (f *fakeQueries) RevokeSession(ctx context.Context, id pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := uuidString(id)
	session, ok := f.sessionsByID[key]
	if !ok || session.RevokedAt.Valid {
		return nil
	}
	session.RevokedAt = pgTimestamp(time.Now())
	f.sessionsByID[key] = session
	f.sessionsByHash[session.RefreshTokenHash] = session
	return nil
}

func (f *fakeQueries) RevokeUserSessions(ctx context.Context, userID pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := uuidString(userID)
	for id, session := range f.sessionsByID {
		if uuidString(session.UserID) != key || session.RevokedAt.Valid {
			continue
		}
		session.RevokedAt = pgTimestamp(time.Now())
		f.sessionsByID[id] = session
		f.sessionsByHash[session.RefreshTokenHash] = session
	}
	return nil
}

func (f *fakeQueries) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var removed int64
	for id, session := range f.sessionsByID {
		if session.ExpiresAt.Valid && session.ExpiresAt.Time.Before(now) {
			delete(f.sessionsByID, id)
			delete(f.sessionsByHash, session.RefreshTokenHash)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeQueries) InsertDomainEvent(ctx context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	pgID, _ := pgUUIDFromString(id.String())
	event := dbgen.DomainEvent{
		ID:          pgID,
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     arg.Payload,
		OccurredAt:  pgTimestamp(time.Now()),
	}
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeQueries) ClearCartItems(context.Context, pgtype.UUID) error {
	return errNotImplemented
}

func (f *fakeQueries) CountOrdersByUser(context.Context, pgtype.UUID) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeQueries) CountProducts(context.Context, dbgen.CountProductsParams) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeQueries) CreateCart(context.Context, pgtype.UUID) (dbgen.Cart, error) {
	return dbgen.Cart{}, errNotImplemented
}

func (f *fakeQueries) CreateOrder(context.Context, dbgen.CreateOrderParams) (dbgen.Order, error) {
	return dbgen.Order{}, errNotImplemented
}

func (f *fakeQueries) CreateOrderItem(context.Context, dbgen.CreateOrderItemParams) (dbgen.OrderItem, error) {
	return dbgen.OrderItem{}, errNotImplemented
}

func (f *fakeQueries) CreatePayment(context.Context, dbgen.CreatePaymentParams) (dbgen.Payment, error) {
	return dbgen.Payment{}, errNotImplemented
}

func (f *fakeQueries) CreateProduct(context.Context, dbgen.CreateProductParams) (dbgen.Product, error) {
	return dbgen.Product{}, errNotImplemented
}

func (f *fakeQueries) DecrementProductStock(context.Context, dbgen.DecrementProductStockParams) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeQueries) DeleteCartItem(context.Context, dbgen.DeleteCartItemParams) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeQueries) GetCartByUserID(context.Context, pgtype.UUID) (dbgen.Cart, error) {
	return dbgen.Cart{}, errNotImplemented
}

func (f *fakeQueries) GetOrderByID(context.Context, pgtype.UUID) (dbgen.Order, error) {
	return dbgen.Order{}, errNotImplemented
}

func (f *fakeQueries) GetPaymentByOrderID(context.Context, pgtype.UUID) (dbgen.Payment, error) {
	return dbgen.Payment{}, errNotImplemented
}

func (f *fakeQueries) GetProductByID(context.Context, pgtype.UUID) (dbgen.Product, error) {
	return dbgen.Product{}, errNotImplemented
}

func (f *fakeQueries) GetProductForUpdate(context.Context, pgtype.UUID) (dbgen.Product, error) {
	return dbgen.Product{}, errNotImplemented
}

func (f *fakeQueries) ListCartItems(context.Context, pgtype.UUID) ([]dbgen.ListCartItemsRow, error) {
	return nil, errNotImplemented
}

func (f *fakeQueries) ListCategories(context.Context) ([]string, error) {
	return nil, errNotImplemented
}

func (f *fakeQueries) ListOrderItems(context.Context, pgtype.UUID) ([]dbgen.OrderItem, error) {
	return nil, errNotImplemented
}

func (f *fakeQueries) ListOrdersByUser(context.Context, dbgen.ListOrdersByUserParams) ([]dbgen.Order, error) {
	return nil, errNotImplemented
}

func (f *fakeQueries) ListProducts(context.Context, dbgen.ListProductsParams) ([]dbgen.Product, error) {
	return nil, errNotImplemented
}

func (f *fakeQueries) RestoreProductStock(context.Context, dbgen.RestoreProductStockParams) error {
	return errNotImplemented
}

func (f *fakeQueries) SetCartItemQty(context.Context, dbgen.SetCartItemQtyParams) (dbgen.CartItem, error) {
	return dbgen.CartItem{}, errNotImplemented
}

func (f *fakeQueries) SetOrderStatus(context.Context, dbgen.SetOrderStatusParams) (dbgen.Order, error) {
	return dbgen.Order{}, errNotImplemented
}

func (f *fakeQueries) UpsertCartItem(context.Context, dbgen.UpsertCartItemParams) (dbgen.CartItem, error) {
	return dbgen.CartItem{}, errNotImplemented
}

var _ dbgen.Querier = (*fakeQueries)(nil)
