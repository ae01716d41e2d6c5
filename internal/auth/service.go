package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/common"
	db "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/events"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Roles assignable to accounts. Registration always produces a customer;
// admins are provisioned out of band.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Service coordinates account registration, credential checks, and session
// persistence.
type Service struct {
	queries    db.Querier
	bus        *events.Bus
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	signer     jwa.SignatureAlgorithm
	validator  TokenValidator
	issuer     string
	audience   string
	clockSkew  time.Duration
}

// Config configures the auth service.
type Config struct {
	Queries         db.Querier
	Bus             *events.Bus
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
}

// User is the safe subset of the user model returned to clients.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claims carries the token claims the rest of the API cares about.
type Claims struct {
	UserID string
	Role   string
}

// LoginResult bundles token material returned after a successful login.
type LoginResult struct {
	User          User      `json:"user"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	AccessExpiry  time.Time `json:"access_expires_at"`
	RefreshExpiry time.Time `json:"refresh_expires_at"`
}

// RefreshResult represents the outcome of a refresh-token rotation.
type RefreshResult struct {
	AccessToken   string    `json:"access_token"`
	AccessExpiry  time.Time `json:"access_expires_at"`
	RefreshToken  string    `json:"refresh_token"`
	RefreshExpiry time.Time `json:"refresh_expires_at"`
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("auth: queries is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}

	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "lapak-api"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "lapak-clients"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}

	return &Service{
		queries:    cfg.Queries,
		bus:        cfg.Bus,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		signer:     jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates a customer account with the supplied credentials. A
// duplicate email is detected from the unique-violation error, never by a
// prior read.
func (s *Service) Register(ctx context.Context, name, email, password string) (User, error) {
	if strings.TrimSpace(name) == "" {
		return User{}, common.NewAppError("VALIDATION_ERROR", "name is required", httpStatusBadRequest, nil)
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" || !strings.Contains(normalizedEmail, "@") {
		return User{}, common.NewAppError("VALIDATION_ERROR", "a valid email is required", httpStatusBadRequest, nil)
	}
	if len(password) < 8 {
		return User{}, common.NewAppError("VALIDATION_ERROR", "password must be at least 8 characters", httpStatusBadRequest, nil)
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.queries.CreateUser(ctx, db.CreateUserParams{
		Name:         strings.TrimSpace(name),
		Email:        normalizedEmail,
		PasswordHash: hash,
		Role:         RoleCustomer,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, common.NewAppError("EMAIL_TAKEN", "email is already registered", httpStatusConflict, err)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	s.emit(ctx, events.TopicUserRegistered, created.ID, map[string]any{
		"user_id": uuidString(created.ID),
		"email":   created.Email,
		"name":    created.Name,
	})

	return convertUser(created), nil
}

// Login verifies credentials and issues a fresh access/refresh token pair.
// Unknown emails and wrong passwords produce the same error.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ip string) (LoginResult, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" || password == "" {
		return LoginResult{}, common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, nil)
	}

	dbUser, err := s.queries.GetUserByEmail(ctx, normalizedEmail)
	if err != nil {
		return LoginResult{}, common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, nil)
	}

	ok, err := argon2id.ComparePasswordAndHash(password, dbUser.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, nil)
	}

	userID := uuidString(dbUser.ID)
	if userID == "" {
		return LoginResult{}, errors.New("auth: invalid user identifier")
	}

	accessToken, accessExpiry, err := s.signAccessToken(userID, dbUser.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshExpiry, err := s.createSession(ctx, dbUser.ID, userAgent, ip)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	return LoginResult{
		User:          convertUser(dbUser),
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Logout revokes the session the refresh token belongs to. Unknown tokens are
// ignored so logout stays idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	session, err := s.queries.GetSessionByTokenHash(ctx, common.Sha256Hex(token))
	if err != nil {
		return nil
	}
	return s.queries.RevokeSession(ctx, session.ID)
}

// Refresh rotates a refresh token: the presented session is revoked and a new
// one issued. Presenting an already-revoked token revokes every session of
// that user, since the token has leaked to a second holder.
func (s *Service) Refresh(ctx context.Context, refreshToken, userAgent, ip string) (RefreshResult, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}

	session, err := s.queries.GetSessionByTokenHash(ctx, common.Sha256Hex(token))
	if err != nil {
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}
	if session.RevokedAt.Valid {
		if err := s.queries.RevokeUserSessions(ctx, session.UserID); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("revoke sessions after refresh token reuse")
		}
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}
	if !session.ExpiresAt.Valid || s.now().After(session.ExpiresAt.Time) {
		_ = s.queries.RevokeSession(ctx, session.ID)
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}

	dbUser, err := s.queries.GetUserByID(ctx, session.UserID)
	if err != nil {
		_ = s.queries.RevokeSession(ctx, session.ID)
		return RefreshResult{}, common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
	}

	accessToken, accessExpiry, err := s.signAccessToken(uuidString(dbUser.ID), dbUser.Role)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("sign access token: %w", err)
	}

	if err := s.queries.RevokeSession(ctx, session.ID); err != nil {
		return RefreshResult{}, fmt.Errorf("revoke session: %w", err)
	}
	newRefresh, refreshExpiry, err := s.createSession(ctx, session.UserID, userAgent, ip)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("create session: %w", err)
	}

	return RefreshResult{
		AccessToken:   accessToken,
		AccessExpiry:  accessExpiry,
		RefreshToken:  newRefresh,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Me fetches the current authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, common.NewAppError("UNAUTHORIZED", "unauthorized", httpStatusUnauthorized, nil)
	}
	id, err := pgUUIDFromString(userID)
	if err != nil {
		return User{}, common.NewAppError("UNAUTHORIZED", "unauthorized", httpStatusUnauthorized, nil)
	}
	dbUser, err := s.queries.GetUserByID(ctx, id)
	if err != nil {
		return User{}, common.NewAppError("UNAUTHORIZED", "unauthorized", httpStatusUnauthorized, nil)
	}
	return convertUser(dbUser), nil
}

// PurgeExpiredSessions deletes sessions past their expiry and reports how
// many rows were removed. Invoked from the background worker.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.queries.DeleteExpiredSessions(ctx)
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "missing token", httpStatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret))
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	claims := Claims{UserID: parsed.Subject()}
	if role, ok := parsed.Get("role"); ok {
		claims.Role, _ = role.(string)
	}
	return claims, nil
}

func (s *Service) signAccessToken(userID, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	builder := jwt.NewBuilder().
		Subject(userID).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim("role", role)
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func (s *Service) createSession(ctx context.Context, userID pgtype.UUID, userAgent, ip string) (string, time.Time, error) {
	if !userID.Valid {
		return "", time.Time{}, errors.New("auth: invalid user identifier")
	}
	token, err := generateToken(48)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.refreshTTL)
	if _, err := s.queries.CreateSession(ctx, db.CreateSessionParams{
		UserID:           userID,
		RefreshTokenHash: common.Sha256Hex(token),
		UserAgent:        userAgent,
		IP:               ip,
		ExpiresAt:        pgTimestamp(expiresAt),
	}); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// emit publishes a domain event. Event failures never fail the operation that
// produced them.
func (s *Service) emit(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("emit domain event")
	}
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func convertUser(u db.User) User {
	return User{
		ID:        uuidString(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: toTime(u.CreatedAt),
		UpdatedAt: toTime(u.UpdatedAt),
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

func pgTimestamp(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func toTime(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

const httpStatusBadRequest = 400
const httpStatusUnauthorized = 401
const httpStatusConflict = 409
