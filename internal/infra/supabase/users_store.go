package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
)

// ============================================================
// Admin users + refresh tokens — tables platform_users, auth_refresh_tokens
// ============================================================

type userRow struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
	PasswordHash   string `json:"password_hash"`
	LastLoginAt    string `json:"last_login_at,omitempty"`
}

func (r *userRow) toDomain() domain.User {
	return domain.User{
		ID:             r.ID,
		Username:       r.Username,
		Email:          r.Email,
		Name:           r.Name,
		Role:           r.Role,
		OrganizationID: r.OrganizationID,
		PasswordHash:   r.PasswordHash,
		LastLoginAt:    parseTimestamp(r.LastLoginAt),
	}
}

// GetUserByID fetches an admin user by id. Returns (nil, nil) when missing so
// the auth service can decide how to report it.
func (c *Client) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByID")
	defer span.End()

	return c.getUser(ctx, fmt.Sprintf("platform_users?id=eq.%s&limit=1", userID))
}

// GetUserByUsername fetches an admin user by username.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByUsername")
	defer span.End()

	return c.getUser(ctx, fmt.Sprintf("platform_users?username=eq.%s&limit=1", url.QueryEscape(username)))
}

func (c *Client) getUser(ctx context.Context, path string) (*domain.User, error) {
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	var rows []userRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := rows[0].toDomain()
	return &u, nil
}

// CreateUser inserts an admin user.
func (c *Client) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateUser")
	defer span.End()

	row := map[string]any{
		"username":        user.Username,
		"email":           user.Email,
		"name":            user.Name,
		"role":            user.Role,
		"organization_id": user.OrganizationID,
		"password_hash":   user.PasswordHash,
	}

	body, err := c.doPost(ctx, "platform_users", row)
	if err != nil {
		if isConflict(err) {
			return nil, &domain.ErrConflict{Message: "username already registered"}
		}
		return nil, err
	}

	var rows []userRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result from platform_users insert")
	}
	created := rows[0].toDomain()
	return &created, nil
}

// RecordLogin stamps the user's last login time.
func (c *Client) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.RecordLogin")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("platform_users?id=eq.%s", userID), map[string]any{
		"last_login_at": at.Format(time.RFC3339),
	})
}

type refreshTokenRow struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TokenHash string `json:"token_hash"`
	ExpiresAt string `json:"expires_at"`
	Revoked   bool   `json:"revoked"`
}

// StoreRefreshToken persists a hashed refresh token.
func (c *Client) StoreRefreshToken(ctx context.Context, token *domain.AuthRefreshToken) error {
	ctx, span := tracer.Start(ctx, "Supabase.StoreRefreshToken")
	defer span.End()

	_, err := c.doPost(ctx, "auth_refresh_tokens", map[string]any{
		"user_id":    token.UserID,
		"token_hash": token.TokenHash,
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
		"revoked":    false,
	})
	return err
}

// GetRefreshToken looks up an unrevoked refresh token by its hash.
// Returns (nil, nil) when missing.
func (c *Client) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.AuthRefreshToken, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetRefreshToken")
	defer span.End()

	path := fmt.Sprintf("auth_refresh_tokens?token_hash=eq.%s&revoked=eq.false&limit=1", tokenHash)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	var rows []refreshTokenRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode refresh token: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	r := rows[0]
	token := &domain.AuthRefreshToken{
		ID:        r.ID,
		UserID:    r.UserID,
		TokenHash: r.TokenHash,
		Revoked:   r.Revoked,
	}
	if t := parseTimestamp(r.ExpiresAt); t != nil {
		token.ExpiresAt = *t
	}
	return token, nil
}

// RevokeRefreshToken marks a refresh token revoked (rotation or logout).
func (c *Client) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RevokeRefreshToken")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("auth_refresh_tokens?token_hash=eq.%s", tokenHash), map[string]any{
		"revoked": true,
	})
}
