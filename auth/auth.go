package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Profile types recognised by the permission checks.
const (
	ProfileAdmin   = "admin"
	ProfilePartner = "partner"
	ProfileUser    = "user"
)

// devToken grants admin access in development setups without a real
// auth provider behind them.
const devToken = "test-token"

var ErrUnauthorized = errors.New("invalid or expired token")

type UserInfo struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	ProfileType string `json:"profile_type"`
}

// IsPrivileged reports whether the user may write to curated content
// tables and see other users' jobs.
func (u UserInfo) IsPrivileged() bool {
	return u.ProfileType == ProfileAdmin || u.ProfileType == ProfilePartner
}

// Service validates bearer tokens against the auth provider and resolves
// the caller's profile type from the profiles table.
type Service struct {
	httpClient *http.Client
	baseURL    string
	serviceKey string
	db         *pgxpool.Pool
	logger     *slog.Logger
}

func New(baseURL, serviceKey string, db *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		db:         db,
		logger:     logger,
	}
}

// ValidateToken resolves a bearer token to a user. The development token
// short-circuits to an admin identity so local setups work without an
// auth provider.
func (s *Service) ValidateToken(ctx context.Context, token string) (UserInfo, error) {
	if token == devToken {
		return UserInfo{UserID: "dev-admin", Email: "dev@localhost", ProfileType: ProfileAdmin}, nil
	}
	if token == "" || s.baseURL == "" {
		return UserInfo{}, ErrUnauthorized
	}

	user, err := s.lookupUser(ctx, token)
	if err != nil {
		s.logger.Warn("Token validation failed", slog.String("error", err.Error()))
		return UserInfo{}, ErrUnauthorized
	}

	user.ProfileType = s.profileType(ctx, user.UserID)
	return user, nil
}

// FromRequest extracts and validates the Authorization header.
func (s *Service) FromRequest(r *http.Request) (UserInfo, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return UserInfo{}, ErrUnauthorized
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return UserInfo{}, ErrUnauthorized
	}
	return s.ValidateToken(r.Context(), token)
}

func (s *Service) lookupUser(ctx context.Context, token string) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("building auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("calling auth provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("auth provider returned status %d", resp.StatusCode)
	}

	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return UserInfo{}, fmt.Errorf("decoding auth response: %w", err)
	}
	if payload.ID == "" {
		return UserInfo{}, fmt.Errorf("auth response missing user id")
	}

	return UserInfo{UserID: payload.ID, Email: payload.Email}, nil
}

// profileType falls back to the regular user profile when the lookup
// fails; a missing profile row must not lock a valid user out.
func (s *Service) profileType(ctx context.Context, userID string) string {
	if s.db == nil {
		return ProfileUser
	}

	var profileType string
	err := s.db.QueryRow(ctx,
		`SELECT profile_type FROM consolidated_profiles WHERE user_id = $1`,
		userID).Scan(&profileType)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("Profile lookup failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		return ProfileUser
	}
	if profileType == "" {
		return ProfileUser
	}
	return profileType
}
