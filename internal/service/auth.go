package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/telemetry"
)

// DefaultTokenExpiry matches the access token lifetime of the login flow.
const DefaultTokenExpiry = 30 * time.Minute

// Store is the storage the auth service reads. *database.Executor
// satisfies it.
type Store interface {
	RunQuery(ctx context.Context, q database.Query) ([]map[string]any, error)
	Update(ctx context.Context, table string, set map[string]any, where condition.Node) (int64, error)
	RoleModuleMask(ctx context.Context, roleID, moduleID int64) (model.Bitmask, error)
}

// Resolver maps names to ids and bits. *permission.Cache satisfies it.
type Resolver interface {
	ModuleID(name string) int64
	PermissionMask(names []string) (model.Bitmask, []string)
}

// Principal is the identity carried by a valid token.
type Principal struct {
	UserID int64 `json:"user_id"`
	RoleID int64 `json:"role_id"`
}

// RequiredAuth declares what an endpoint needs: every listed permission on
// Module. The zero value means authentication only.
type RequiredAuth struct {
	Module      string
	Permissions []string
}

// IsZero reports whether r only requires authentication.
func (r RequiredAuth) IsZero() bool {
	return r.Module == "" && len(r.Permissions) == 0
}

func (r RequiredAuth) String() string {
	if r.IsZero() {
		return "authenticated"
	}
	return r.Module + ":" + strings.Join(r.Permissions, ",")
}

// TokenResponse is the body returned by a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthConfig configures token issuance and password hashing.
type AuthConfig struct {
	Secret     string
	Expiry     time.Duration
	Issuer     string
	BcryptCost int
}

// AuthService issues and validates tokens and decides whether a role may
// perform an action.
type AuthService struct {
	store    Store
	resolver Resolver
	secret   []byte
	expiry   time.Duration
	issuer   string
	cost     int
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time

	// dummyHash is compared against when the username is unknown so that
	// both failure paths spend the same bcrypt time.
	dummyHash func() string
}

// NewAuthService builds an AuthService. metrics and logger may be nil.
func NewAuthService(store Store, resolver Resolver, cfg AuthConfig, metrics *telemetry.Metrics, logger *slog.Logger) *AuthService {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultTokenExpiry
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "gatekeep"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &AuthService{
		store:    store,
		resolver: resolver,
		secret:   []byte(cfg.Secret),
		expiry:   cfg.Expiry,
		issuer:   cfg.Issuer,
		cost:     cfg.BcryptCost,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	s.dummyHash = sync.OnceValue(func() string {
		h, _ := HashPassword("gatekeep-timing-equalizer", s.cost)
		return h
	})
	return s
}

// HashPassword hashes with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	return HashPassword(password, s.cost)
}

type tokenClaims struct {
	UserID *int64 `json:"user_id,omitempty"`
	RoleID *int64 `json:"role_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for the user and role.
func (s *AuthService) IssueToken(userID, roleID int64) (string, error) {
	now := s.now()
	claims := tokenClaims{
		UserID: &userID,
		RoleID: &roleID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			Issuer:    s.issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies the signature and expiry of a token and returns
// its principal. A token without both ids is rejected.
func (s *AuthService) ValidateToken(tokenStr string) (Principal, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.UserID == nil || claims.RoleID == nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: *claims.UserID, RoleID: *claims.RoleID}, nil
}

// Resolve turns a requirement into a module id and permission mask. Any
// name that does not resolve is a configuration error: a partial mask would
// grant less than the endpoint declared.
func (s *AuthService) Resolve(req RequiredAuth) (int64, model.Bitmask, error) {
	if req.Module == "" || len(req.Permissions) == 0 {
		return 0, 0, fmt.Errorf("%w: requirement %s must name a module and at least one permission", ErrConfiguration, req)
	}
	moduleID := s.resolver.ModuleID(req.Module)
	if moduleID == 0 {
		return 0, 0, fmt.Errorf("%w: module %q not found", ErrConfiguration, req.Module)
	}
	mask, missing := s.resolver.PermissionMask(req.Permissions)
	if len(missing) > 0 {
		return 0, 0, fmt.Errorf("%w: permission %q not found", ErrConfiguration, strings.Join(missing, ", "))
	}
	return moduleID, mask, nil
}

// CheckPermission reports whether the role holds every bit of mask on the
// module. Storage errors and an empty mask deny.
func (s *AuthService) CheckPermission(ctx context.Context, roleID, moduleID int64, mask model.Bitmask) bool {
	if mask == 0 {
		return false
	}
	stored, err := s.store.RoleModuleMask(ctx, roleID, moduleID)
	if err != nil {
		s.logger.Warn("permission check failed", "role_id", roleID, "module_id", moduleID, "error", err)
		return false
	}
	return stored.Has(mask)
}

// Authorize returns nil when the principal satisfies req, ErrConfiguration
// when req does not resolve and ErrForbidden otherwise.
func (s *AuthService) Authorize(ctx context.Context, p Principal, req RequiredAuth) error {
	if req.IsZero() {
		return nil
	}
	moduleID, mask, err := s.Resolve(req)
	if err != nil {
		s.metrics.AuthzDecision(req.Module, telemetry.OutcomeMisconfigured)
		s.logger.Error("unresolvable endpoint requirement", "requirement", req.String(), "error", err)
		return err
	}
	if !s.CheckPermission(ctx, p.RoleID, moduleID, mask) {
		s.metrics.AuthzDecision(req.Module, telemetry.OutcomeDenied)
		return fmt.Errorf("%w: %s", ErrForbidden, req)
	}
	s.metrics.AuthzDecision(req.Module, telemetry.OutcomeAllowed)
	return nil
}

// RecordUnauthenticated counts a request rejected before a principal was
// known.
func (s *AuthService) RecordUnauthenticated(req RequiredAuth) {
	s.metrics.AuthzDecision(req.Module, telemetry.OutcomeUnauthenticated)
}

// Login checks a username and password and issues a token. Unknown users
// and wrong passwords both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (TokenResponse, error) {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table:   model.TableUser,
		Columns: []string{"id", "password_hash", "is_active", "role_id"},
		Where:   condition.Eq("username", username),
		Limit:   1,
	})
	if err != nil {
		return TokenResponse{}, fmt.Errorf("look up user: %w", err)
	}
	if len(rows) == 0 {
		CheckPassword(s.dummyHash(), password)
		return TokenResponse{}, ErrInvalidCredentials
	}
	row := rows[0]
	hash, _ := row["password_hash"].(string)
	if !CheckPassword(hash, password) {
		return TokenResponse{}, ErrInvalidCredentials
	}
	if active, ok := row["is_active"].(bool); ok && !active {
		return TokenResponse{}, ErrInactiveUser
	}

	userID, roleID := asInt64(row["id"]), asInt64(row["role_id"])
	if _, err := s.store.Update(ctx, model.TableUser,
		map[string]any{"last_login_time": s.now().UTC()},
		condition.Eq("id", userID)); err != nil {
		s.logger.Warn("failed to record login time", "user_id", userID, "error", err)
	}

	token, err := s.IssueToken(userID, roleID)
	if err != nil {
		return TokenResponse{}, err
	}
	s.logger.Info("user logged in", "user_id", userID, "role_id", roleID)
	return TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.expiry / time.Second),
	}, nil
}

// CurrentUser returns the visible columns of the principal's user row.
func (s *AuthService) CurrentUser(ctx context.Context, p Principal) (map[string]any, error) {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table: model.TableUser,
		Where: condition.Eq("id", p.UserID),
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: user %d not found", ErrInvalidToken, p.UserID)
	}
	return rows[0], nil
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}
