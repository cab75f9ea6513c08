package bootstrap

import (
	"context"
	"net/http"
	"time"

	"mailsync/adapter/out/jmap"
	"mailsync/adapter/out/persistence"
	"mailsync/config"
	"mailsync/core/domain"
	"mailsync/core/port/in"
	"mailsync/core/port/out"
	"mailsync/core/service/sync"
	"mailsync/infra/database"
	"mailsync/internal/lock"
	"mailsync/pkg/apperr"
	"mailsync/pkg/crypto"
	"mailsync/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// Dependencies wires the C1-C5 components described in the specification:
// a JMAP Remote Mail Client, an encrypted Token Store, a Postgres Archive
// Store, the Sync Engine that drives them, and the Redis-backed Locker the
// engine and the Change Listener both share.
type Dependencies struct {
	Config *config.Config

	DB     *sqlx.DB
	DBPool *pgxpool.Pool
	Redis  *redis.Client

	Remote out.RemoteMailClient
	Tokens out.TokenStore
	Store  *persistence.Store
	Locker *lock.Locker
	Engine in.SyncEngine
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	dbPool, err := database.NewPostgresPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Warn("pooled health-check connection unavailable: %v", err)
	} else {
		deps.DBPool = dbPool
		cleanups = append(cleanups, func() { dbPool.Close() })
	}

	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed, distributed tick lock and webhook idempotency disabled: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	} else {
		logger.Warn("REDIS_URL not set, distributed tick lock and webhook idempotency disabled")
	}
	deps.Locker = lock.New(deps.Redis)

	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, nil, err
		}
	}

	var oauthCfg *oauth2.Config
	if cfg.OAuthTokenEndpoint != "" {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuthTokenEndpoint},
		}
	}
	tokenAdapter := persistence.NewTokenAdapter(deps.DB, encryptor, oauthCfg)
	deps.Tokens = tokenAdapter

	if cfg.RemoteAPIToken != "" && oauthCfg == nil {
		// A static bearer deployment has no refresh flow; seed one token
		// per configured account, far-future expiry, no refresh token — so
		// NeedsRefresh never trips and Refresh is never reached.
		if err := seedStaticTokens(tokenAdapter, cfg.AccountIDs, cfg.RemoteAPIToken); err != nil {
			return nil, nil, err
		}
	}

	deps.Store = persistence.NewStore(deps.DB)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	deps.Remote = jmap.NewClient(cfg.JMAPSessionURL, httpClient)

	deps.Engine = sync.NewEngine(deps.Store, deps.Remote, deps.Tokens, deps.Locker, sync.Config{
		AccountIDs:   cfg.AccountIDs,
		TickInterval: cfg.SyncInterval(),
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay(),
	})

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return deps, cleanup, nil
}

// seedStaticTokens ensures every configured account has a durable token row
// when the deployment authenticates with one shared static bearer token
// rather than per-account OAuth. An account that already has a row (e.g.
// from a prior OAuth exchange) is left untouched.
func seedStaticTokens(tokens out.TokenStore, accountIDs []string, staticToken string) error {
	ctx := context.Background()
	for _, accountID := range accountIDs {
		if _, err := tokens.Get(ctx, accountID); err == nil {
			continue
		} else if apperr.AsAppError(err).Code != apperr.CodeNotFound {
			return err
		}

		if err := tokens.Put(ctx, &domain.OAuthToken{
			AccountID:   accountID,
			AccessToken: staticToken,
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(100 * 365 * 24 * time.Hour),
		}); err != nil {
			return err
		}
	}
	return nil
}
