// Package persistence provides database adapters.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mailsync/core/domain"
	"mailsync/core/port/out"
	"mailsync/pkg/apperr"
	"mailsync/pkg/crypto"
	"mailsync/pkg/logger"

	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
)

var _ out.TokenStore = (*TokenAdapter)(nil)

// TokenAdapter implements out.TokenStore using PostgreSQL, with tokens
// encrypted at rest. It never returns ciphertext to the caller — tokens are
// decrypted on read and encrypted on write, in the teacher's own
// oauth_connections adapter style.
type TokenAdapter struct {
	db        *sqlx.DB
	encryptor *crypto.Encryptor
	oauthCfg  *oauth2.Config
}

// NewTokenAdapter wires the Token Store against db. encryptor may be nil —
// tokens are then stored in plaintext, which NewTokenAdapter logs loudly
// about since it is never the production configuration. oauthCfg may also
// be nil if the deployment has no refresh endpoint configured; Refresh then
// always fails with a ConfigError.
func NewTokenAdapter(db *sqlx.DB, encryptor *crypto.Encryptor, oauthCfg *oauth2.Config) *TokenAdapter {
	if encryptor == nil {
		logger.Warn("token store running without encryption at rest")
	}
	return &TokenAdapter{db: db, encryptor: encryptor, oauthCfg: oauthCfg}
}

type tokenEntity struct {
	AccountID    string    `db:"account_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	TokenType    string    `db:"token_type"`
	ExpiresAt    time.Time `db:"expires_at"`
	Scope        string    `db:"scope"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (e *tokenEntity) toDomain() *domain.OAuthToken {
	return &domain.OAuthToken{
		AccountID:    e.AccountID,
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		TokenType:    e.TokenType,
		ExpiresAt:    e.ExpiresAt,
		Scope:        e.Scope,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func (a *TokenAdapter) encrypt(plaintext string) string {
	if a.encryptor == nil || plaintext == "" {
		return plaintext
	}
	ciphertext, err := a.encryptor.Encrypt(plaintext)
	if err != nil {
		logger.Warn("failed to encrypt token, storing plaintext: %v", err)
		return plaintext
	}
	return ciphertext
}

func (a *TokenAdapter) decrypt(stored string) string {
	if a.encryptor == nil || stored == "" || !crypto.IsEncrypted(stored) {
		return stored
	}
	plaintext, err := a.encryptor.Decrypt(stored)
	if err != nil {
		// Legacy/plaintext row stored before encryption was enabled.
		return stored
	}
	return plaintext
}

func (a *TokenAdapter) decryptEntity(e *tokenEntity) {
	e.AccessToken = a.decrypt(e.AccessToken)
	e.RefreshToken = a.decrypt(e.RefreshToken)
}

func (a *TokenAdapter) Put(ctx context.Context, t *domain.OAuthToken) error {
	query := `
		INSERT INTO oauth_tokens (account_id, access_token, refresh_token, token_type, expires_at, scope)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			updated_at = NOW()`
	_, err := a.db.ExecContext(ctx, query,
		t.AccountID, a.encrypt(t.AccessToken), a.encrypt(t.RefreshToken), t.TokenType, t.ExpiresAt, t.Scope,
	)
	return err
}

func (a *TokenAdapter) Get(ctx context.Context, accountID string) (*domain.OAuthToken, error) {
	var e tokenEntity
	query := `SELECT * FROM oauth_tokens WHERE account_id = $1`
	if err := a.db.GetContext(ctx, &e, query, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound(fmt.Sprintf("oauth token for account %s", accountID))
		}
		return nil, err
	}
	a.decryptEntity(&e)
	return e.toDomain(), nil
}

func (a *TokenAdapter) Delete(ctx context.Context, accountID string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE account_id = $1`, accountID)
	return err
}

// Refresh exchanges the stored refresh token for a new access token via the
// provider's token endpoint and persists the result before returning it, so
// a concurrent Get always sees a token at least as fresh as what the
// engine just used.
func (a *TokenAdapter) Refresh(ctx context.Context, accountID string) (*domain.OAuthToken, error) {
	if a.oauthCfg == nil {
		return nil, apperr.ConfigError("oauth refresh endpoint not configured")
	}

	current, err := a.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		return nil, apperr.AuthFailure("account has no refresh token on file", nil)
	}

	src := a.oauthCfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		TokenType:    current.TokenType,
		Expiry:       current.ExpiresAt,
	})
	fresh, err := src.Token()
	if err != nil {
		return nil, apperr.AuthFailure("token refresh failed", err)
	}

	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		// Providers commonly omit refresh_token on a refresh response when
		// the token doesn't rotate; keep the one already on file.
		refreshToken = current.RefreshToken
	}

	updated := &domain.OAuthToken{
		AccountID:    accountID,
		AccessToken:  fresh.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    fresh.TokenType,
		ExpiresAt:    fresh.Expiry,
		Scope:        current.Scope,
	}
	if err := a.Put(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
