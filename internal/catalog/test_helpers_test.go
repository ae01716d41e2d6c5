package catalog_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
)

// fakeCatalogQueries implements the catalog query surface in memory. Products
// keep insertion order; ListProducts returns them newest first like the real
// query does.
type fakeCatalogQueries struct {
	mu         sync.Mutex
	products   []dbgen.Product
	listCalls  int
	countCalls int
	getCalls   int
}

func newFakeCatalogQueries(t *testing.T, products ...dbgen.Product) *fakeCatalogQueries {
	t.Helper()
	return &fakeCatalogQueries{products: products}
}

func (f *fakeCatalogQueries) CountProducts(_ context.Context, arg dbgen.CountProductsParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	return int64(len(f.filter(arg.Query, arg.Category))), nil
}

func (f *fakeCatalogQueries) ListProducts(_ context.Context, arg dbgen.ListProductsParams) ([]dbgen.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	filtered := f.filter(arg.Query, arg.Category)
	// newest first
	reversed := make([]dbgen.Product, 0, len(filtered))
	for i := len(filtered) - 1; i >= 0; i-- {
		reversed = append(reversed, filtered[i])
	}
	start := int(arg.PageOffset)
	if start > len(reversed) {
		start = len(reversed)
	}
	end := start + int(arg.PageLimit)
	if end > len(reversed) {
		end = len(reversed)
	}
	return append([]dbgen.Product(nil), reversed[start:end]...), nil
}

func (f *fakeCatalogQueries) GetProductByID(_ context.Context, id pgtype.UUID) (dbgen.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	for _, p := range f.products {
		if p.ID.Bytes == id.Bytes {
			return p, nil
		}
	}
	return dbgen.Product{}, pgx.ErrNoRows
}

func (f *fakeCatalogQueries) ListCategories(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range f.products {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	return out, nil
}

func (f *fakeCatalogQueries) CreateProduct(_ context.Context, arg dbgen.CreateProductParams) (dbgen.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.Slug == arg.Slug {
			return dbgen.Product{}, &pgconn.PgError{Code: "23505", ConstraintName: "products_slug_key"}
		}
	}
	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	created := dbgen.Product{
		ID:          newPgUUID(),
		Name:        arg.Name,
		Slug:        arg.Slug,
		Description: arg.Description,
		Category:    arg.Category,
		Price:       arg.Price,
		Stock:       arg.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.products = append(f.products, created)
	return created, nil
}

func (f *fakeCatalogQueries) filter(query, category string) []dbgen.Product {
	out := make([]dbgen.Product, 0, len(f.products))
	for _, p := range f.products {
		if query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	return out
}

// fakeEventStore captures emitted events for assertions.
type fakeEventStore struct {
	mu     sync.Mutex
	events []dbgen.DomainEvent
}

func (s *fakeEventStore) InsertDomainEvent(_ context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := dbgen.DomainEvent{
		ID:          newPgUUID(),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     append([]byte(nil), arg.Payload...),
		OccurredAt:  pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.events = append(s.events, event)
	return event, nil
}

func (s *fakeEventStore) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Topic)
	}
	return out
}

func sampleProduct(t *testing.T, id, name, category string, price int64, stock int32) dbgen.Product {
	t.Helper()
	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	return dbgen.Product{
		ID:          mustUUID(t, id),
		Name:        name,
		Slug:        fmt.Sprintf("%s-slug", strings.ReplaceAll(strings.ToLower(name), " ", "-")),
		Description: "",
		Category:    category,
		Price:       price,
		Stock:       stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newPgUUID() pgtype.UUID {
	var id pgtype.UUID
	_ = id.Scan(uuid.NewString())
	return id
}

func mustUUID(t *testing.T, value string) pgtype.UUID {
	t.Helper()
	var id pgtype.UUID
	require.NoError(t, id.Scan(value))
	return id
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	u, err := uuid.FromBytes(id.Bytes[:])
	if err != nil {
		return ""
	}
	return u.String()
}
