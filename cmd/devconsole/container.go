package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"devconsole/internal/auth/adapters"
	authapp "devconsole/internal/auth/app"
	"devconsole/internal/auth/ports"
	"devconsole/internal/auth/sso/wechatwork"
	"devconsole/internal/config"
	"devconsole/internal/devpanel/inspect"
	"devconsole/internal/devpanel/panel"
	"devconsole/internal/devpanel/storage"
	"devconsole/internal/httpclient"
	"devconsole/internal/logging"
	"devconsole/internal/observability"
)

const cpuSampleWindow = 200 * time.Millisecond

// Container holds the wired application.
type Container struct {
	Config   config.Config
	Logger   logging.Logger
	Metrics  *observability.Metrics
	Tracing  *observability.TracerProvider
	SSO      *wechatwork.Provider
	Auth     *authapp.Service
	Registry *inspect.Registry
	Panel    *panel.Panel
	Flags    *inspect.FlagsInspector

	pool     *pgxpool.Pool
	authPool *pgxpool.Pool
}

// buildContainer wires every component from cfg. The identity provider and
// the auth service are left nil when WeChat Work is not configured.
func buildContainer(ctx context.Context, cfg config.Config, logger logging.Logger) (*Container, error) {
	logger = logging.OrNop(logger)
	c := &Container{Config: cfg, Logger: logger}

	if cfg.Observability.Metrics.Enabled {
		metrics, err := observability.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		c.Metrics = metrics
	}
	tracing, err := observability.NewTracerProvider(ctx, cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	c.Tracing = tracing

	if cfg.WeChatWork.Configured() {
		if err := c.buildAuth(ctx); err != nil {
			_ = c.Shutdown(context.Background())
			return nil, err
		}
	}

	if err := c.buildInspectors(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}

	p, err := panel.New(c.Registry.Items(), storage.NewFileStore(cfg.Panel.StoragePath),
		panel.WithLogger(logging.NewComponentLogger("Panel")),
		panel.WithMetrics(c.Metrics))
	if err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}
	p.Load()
	c.Panel = p
	return c, nil
}

// buildSSO builds the WeChat Work provider alone.
func (c *Container) buildSSO() error {
	cfg := c.Config
	provider, err := wechatwork.New(wechatwork.Config{
		CorpID:       cfg.WeChatWork.CorpID,
		AgentID:      cfg.WeChatWork.AgentID,
		Secret:       cfg.WeChatWork.Secret,
		RedirectURL:  cfg.WeChatWork.RedirectURL,
		AuthorizeURL: cfg.WeChatWork.AuthorizeURL,
		APIBaseURL:   cfg.WeChatWork.APIBaseURL,
		HTTPClient:   httpclient.New(cfg.WeChatWork.Timeout, logging.NewComponentLogger("WeChatWorkHTTP")),
	},
		wechatwork.WithLogger(logging.NewComponentLogger("WeChatWork")),
		wechatwork.WithMetrics(c.Metrics),
	)
	if err != nil {
		return fmt.Errorf("wechat work: %w", err)
	}
	c.SSO = provider
	return nil
}

func (c *Container) buildAuth(ctx context.Context) error {
	if err := c.buildSSO(); err != nil {
		return err
	}
	cfg := c.Config

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		var err error
		secret, err = randomSecret()
		if err != nil {
			return err
		}
		c.Logger.Warn("auth.jwt_secret is empty; sessions will not survive a restart")
	}

	memUsers, memIdentities, memSessions, memStates := adapters.NewMemoryStores()
	var (
		users      ports.UserRepository     = memUsers
		identities ports.IdentityRepository = memIdentities
		sessions   ports.SessionRepository  = memSessions
		states     ports.StateStore         = memStates
	)
	if dbURL := strings.TrimSpace(cfg.Auth.DatabaseURL); dbURL != "" {
		pool, err := openAuthPool(ctx, dbURL)
		if err != nil {
			return err
		}
		c.authPool = pool
		users, identities, sessions, states = adapters.NewPostgresStores(pool)
		c.Logger.Info("Authentication repositories backed by Postgres")
	}

	tokens := adapters.NewJWTTokenManager(secret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)
	c.Auth = authapp.NewService(users, identities, sessions, tokens, states,
		[]ports.OAuthProvider{c.SSO},
		authapp.Config{
			AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
			RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
			StateTTL:        cfg.Auth.StateTTL,
		},
		logging.NewComponentLogger("Auth"))
	return nil
}

// buildInspectors registers the built-in inspectors in tab order.
func (c *Container) buildInspectors(ctx context.Context) error {
	cfg := c.Config.Inspect
	c.Registry = inspect.NewRegistry(
		inspect.WithTimeout(cfg.Timeout),
		inspect.WithRegistryLogger(logging.NewComponentLogger("Inspect")),
		inspect.WithRegistryMetrics(c.Metrics),
	)

	postgres := inspect.NewPostgresInspector(nil, cfg.SampleRows)
	if cfg.DatabaseURL != "" {
		pool, err := inspect.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			c.Logger.Warn("postgres viewer disabled: %v", err)
		} else {
			c.pool = pool
			postgres = inspect.NewPostgresInspector(pool, cfg.SampleRows)
		}
	}

	metadata := inspect.NewMetadataInspector(cfg.PageURL,
		httpclient.New(cfg.Timeout, logging.NewComponentLogger("SEOHTTP")))
	caches := inspect.NewCacheInspector(append(c.Registry.Caches(), metadata.Cache())...)

	c.Flags = inspect.NewFlagsInspector(cfg.FlagsFile,
		inspect.WithFlagsLogger(logging.NewComponentLogger("Flags")))

	system := inspect.NewSystemInspector(inspect.HostProbe(cpuSampleWindow), "/")

	for _, inspector := range []inspect.Inspector{postgres, metadata, caches, c.Flags, system} {
		if err := c.Registry.Register(inspector); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown releases the database pools, stops the flag watcher and flushes
// spans.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Flags != nil {
		c.Flags.Stop()
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.authPool != nil {
		c.authPool.Close()
	}
	var errs []error
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func openAuthPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create auth db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping auth db: %w", err)
	}
	if err := adapters.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
