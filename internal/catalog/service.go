package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lapak-dev/backend-lapak/internal/common"
	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/obs"
)

type queryProvider interface {
	CountProducts(ctx context.Context, arg dbgen.CountProductsParams) (int64, error)
	ListProducts(ctx context.Context, arg dbgen.ListProductsParams) ([]dbgen.Product, error)
	GetProductByID(ctx context.Context, id pgtype.UUID) (dbgen.Product, error)
	ListCategories(ctx context.Context) ([]string, error)
	CreateProduct(ctx context.Context, arg dbgen.CreateProductParams) (dbgen.Product, error)
}

// Service orchestrates catalog queries, DTO assembly, and caching.
type Service struct {
	queries      queryProvider
	cache        *Cache
	bus          *events.Bus
	validate     *validator.Validate
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries      queryProvider
	Cache        *Cache
	Bus          *events.Bus
	Validate     *validator.Validate
	DefaultLimit int
	MaxLimit     int
}

// ListParams captures filters for product listing.
type ListParams struct {
	Query    string
	Category string
	Page     int
	Limit    int
}

// Product is the public product payload.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Price       int64     `json:"price"`
	Stock       int32     `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductListResult contains list data and pagination metadata.
type ProductListResult struct {
	Items []Product
	Total int64
	Page  int
	Limit int
}

// CreateProductInput is the admin create payload. Price is in minor units.
type CreateProductInput struct {
	Name        string `json:"name" validate:"required,min=2,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Category    string `json:"category" validate:"required,min=2,max=100"`
	Price       int64  `json:"price" validate:"required,gt=0"`
	Stock       int32  `json:"stock" validate:"gte=0"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries provider is required")
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &Service{
		queries:      cfg.Queries,
		cache:        cfg.Cache,
		bus:          cfg.Bus,
		validate:     validate,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// ParseListParams normalises raw query values into strongly typed filters.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{
		Page:  1,
		Limit: s.defaultLimit,
	}
	params.Query = strings.TrimSpace(values.Get("q"))
	params.Category = strings.TrimSpace(values.Get("category"))

	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, badRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}

	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return params, badRequest("limit", "limit must be a positive integer", err)
		}
		params.Limit = limit
	}
	if params.Limit > s.maxLimit {
		params.Limit = s.maxLimit
	}
	return params, nil
}

// ListProducts returns a filtered product page, newest first. The unfiltered
// first page is served from Redis when possible.
func (s *Service) ListProducts(ctx context.Context, params ListParams) (ProductListResult, error) {
	key, cacheable := s.listCacheKey(params)
	if cacheable {
		var cached cachedList
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			countCache("hit")
			return ProductListResult{Items: cached.Items, Total: cached.Total, Page: params.Page, Limit: params.Limit}, nil
		}
		countCache("miss")
	}

	total, err := s.queries.CountProducts(ctx, dbgen.CountProductsParams{
		Query:    params.Query,
		Category: params.Category,
	})
	if err != nil {
		return ProductListResult{}, fmt.Errorf("count products: %w", err)
	}
	offset := int32((params.Page - 1) * params.Limit)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.queries.ListProducts(ctx, dbgen.ListProductsParams{
		Query:      params.Query,
		Category:   params.Category,
		PageLimit:  int32(params.Limit),
		PageOffset: offset,
	})
	if err != nil {
		return ProductListResult{}, fmt.Errorf("list products: %w", err)
	}
	items := make([]Product, 0, len(rows))
	for _, row := range rows {
		items = append(items, convertProduct(row))
	}
	result := ProductListResult{Items: items, Total: total, Page: params.Page, Limit: params.Limit}
	if cacheable {
		_ = s.cache.SetJSON(ctx, key, cachedList{Items: items, Total: total})
	}
	return result, nil
}

// GetProduct returns one product by id. Unknown and malformed ids both
// surface as PRODUCT_NOT_FOUND.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	pgID, err := pgUUIDFromString(strings.TrimSpace(id))
	if err != nil {
		return Product{}, notFound(err)
	}

	key := detailCacheKey(id)
	var cached Product
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		countCache("hit")
		return cached, nil
	}
	countCache("miss")

	row, err := s.queries.GetProductByID(ctx, pgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, notFound(err)
		}
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	product := convertProduct(row)
	_ = s.cache.SetJSON(ctx, key, product)
	return product, nil
}

// Categories returns the distinct category names in use.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if rows == nil {
		rows = []string{}
	}
	return rows, nil
}

// CreateProduct inserts a product with a slug derived from its name. A slug
// collision maps to 409 from the unique violation, never from a pre-read.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Category = strings.TrimSpace(input.Category)
	if err := s.validate.Struct(input); err != nil {
		return Product{}, validationError(err)
	}

	slug := Slugify(input.Name)
	if slug == "" {
		return Product{}, badRequest("name", "name must contain letters or digits", nil)
	}

	created, err := s.queries.CreateProduct(ctx, dbgen.CreateProductParams{
		Name:        input.Name,
		Slug:        slug,
		Description: strings.TrimSpace(input.Description),
		Category:    input.Category,
		Price:       input.Price,
		Stock:       input.Stock,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, common.NewAppError("SLUG_TAKEN", "a product with this name already exists", http.StatusConflict, err)
		}
		return Product{}, fmt.Errorf("create product: %w", err)
	}

	s.cache.InvalidateList(ctx)
	if s.bus != nil {
		if _, err := s.bus.Emit(ctx, events.TopicProductCreated, created.ID, map[string]any{
			"product_id": uuidString(created.ID),
			"name":       created.Name,
			"slug":       created.Slug,
			"category":   created.Category,
			"price":      created.Price,
		}); err != nil {
			// Fan-out problems must not fail the write.
			_ = err
		}
	}

	return convertProduct(created), nil
}

// Slugify lowercases the name and collapses every non-alphanumeric run into
// a single dash.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

type cachedList struct {
	Items []Product `json:"items"`
	Total int64     `json:"total"`
}

func (s *Service) listCacheKey(params ListParams) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	if params.Page != 1 || params.Limit != s.defaultLimit {
		return "", false
	}
	if params.Query != "" || params.Category != "" {
		return "", false
	}
	return listCacheKey, true
}

func countCache(result string) {
	if obs.CatalogCacheTotal != nil {
		obs.CatalogCacheTotal.WithLabelValues(result).Inc()
	}
}

func convertProduct(p dbgen.Product) Product {
	return Product{
		ID:          uuidString(p.ID),
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Stock:       p.Stock,
		CreatedAt:   toTime(p.CreatedAt),
		UpdatedAt:   toTime(p.UpdatedAt),
	}
}

func pgUUIDFromString(value string) (pgtype.UUID, error) {
	var id pgtype.UUID
	if err := id.Scan(value); err != nil {
		return pgtype.UUID{}, err
	}
	return id, nil
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

func toTime(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

func notFound(err error) *common.AppError {
	return common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, err)
}

func badRequest(field, message string, err error) *common.AppError {
	appErr := common.NewAppError("BAD_REQUEST", message, http.StatusBadRequest, err)
	if field != "" {
		appErr.Details = map[string]any{"field": field}
	}
	return appErr
}

func validationError(err error) *common.AppError {
	appErr := common.NewAppError("VALIDATION_ERROR", "invalid product payload", http.StatusBadRequest, err)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		appErr.Details = map[string]any{"fields": fields}
	}
	return appErr
}
