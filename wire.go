package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fabfab/palms-chat/analytics"
	"github.com/fabfab/palms-chat/cache"
	"github.com/fabfab/palms-chat/chat"
	"github.com/fabfab/palms-chat/config"
	"github.com/fabfab/palms-chat/content"
	"github.com/fabfab/palms-chat/database"
	"github.com/fabfab/palms-chat/embeddings"
	"github.com/fabfab/palms-chat/knowledge"
	"github.com/fabfab/palms-chat/leads"
	"github.com/fabfab/palms-chat/llm"
	"github.com/fabfab/palms-chat/logger"
	"github.com/fabfab/palms-chat/metrics"
)

const (
	responseCachePrefix = "palms:response:"
	analyticsKey        = "palms:analytics"
)

// deps holds the shared connections a command opened. close releases them in reverse
// order of opening.
type deps struct {
	cfg     config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	redis *goredis.Client
	pool  *pgxpool.Pool
}

func newDeps(cfg config.Config, log *logger.Logger, m *metrics.Metrics) *deps {
	return &deps{cfg: cfg, log: log, metrics: m}
}

func (d *deps) close() {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.log.Warn("close redis client", "error", err)
		}
	}
}

func (d *deps) redisClient(ctx context.Context) (*goredis.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	rdb, err := database.NewRedisClient(ctx, d.cfg.Storage.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	d.redis = rdb
	return rdb, nil
}

func (d *deps) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if d.pool != nil {
		return d.pool, nil
	}
	pool, err := database.NewPostgresPool(ctx, d.cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	d.pool = pool
	return pool, nil
}

func (d *deps) contentStore() *content.Store {
	return content.NewStore(content.Options{
		Sources:         d.cfg.Content.Sources,
		RefreshInterval: d.cfg.Content.RefreshInterval,
		FetchTimeout:    d.cfg.Content.FetchTimeout,
		MinLength:       d.cfg.Content.MinLength,
		Logger:          d.log,
		Metrics:         d.metrics,
	})
}

// retriever returns the configured retriever. The knowledge base is returned as well
// so serve can watch its file.
func (d *deps) retriever(ctx context.Context, store *content.Store) (chat.Retriever, *knowledge.Base, error) {
	switch d.cfg.Retrieval.Retriever {
	case "", config.RetrieverKeyword:
		return content.NewRetriever(store), nil, nil
	case config.RetrieverKnowledgeBase:
		embedder, err := embeddings.NewEmbedder(d.cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("embedder setup: %w", err)
		}
		base, err := knowledge.New(ctx, knowledge.Options{
			Path:     d.cfg.Retrieval.KnowledgeBasePath,
			Embedder: embedder,
			Logger:   d.log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("knowledge base setup: %w", err)
		}
		return base, base, nil
	default:
		return nil, nil, fmt.Errorf("unknown retriever: %s", d.cfg.Retrieval.Retriever)
	}
}

func (d *deps) responseCache(ctx context.Context) (chat.ResponseCache, error) {
	switch d.cfg.Chat.ResponseCache {
	case "", config.BackendOff:
		return nil, nil
	case config.BackendMemory:
		return cache.NewMemory(cache.DefaultMaxEntries, d.cfg.Chat.ResponseCacheTTL), nil
	case config.BackendRedis:
		rdb, err := d.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return cache.NewRedis(rdb, responseCachePrefix, d.cfg.Chat.ResponseCacheTTL, d.log), nil
	default:
		return nil, fmt.Errorf("unknown response cache backend: %s", d.cfg.Chat.ResponseCache)
	}
}

func (d *deps) prompts() (chat.Prompts, error) {
	if d.cfg.Chat.PromptsFile != "" {
		return chat.LoadPrompts(d.cfg.Chat.PromptsFile)
	}
	return chat.DefaultPrompts()
}

func (d *deps) chatService(ctx context.Context, retriever chat.Retriever) (*chat.Service, error) {
	if retriever == nil {
		return nil, errors.New("retriever is not configured")
	}
	llmClient, err := llm.NewClient(d.cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}
	prompts, err := d.prompts()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	opts := []chat.Option{chat.WithMetrics(d.metrics)}
	rc, err := d.responseCache(ctx)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		opts = append(opts, chat.WithResponseCache(rc))
	}

	return chat.NewService(retriever, llmClient, prompts, chat.Config{
		TopK:           d.cfg.Retrieval.TopK,
		Stages:         d.cfg.Chat.Stages,
		InfoFormPolicy: d.cfg.Chat.InfoFormPolicy,
	}, d.log, opts...)
}

func (d *deps) leadStore(ctx context.Context) (leads.Store, error) {
	switch d.cfg.Storage.LeadsBackend {
	case "", config.BackendCSV:
		return leads.NewCSVStore(d.cfg.Storage.LeadsFile)
	case config.BackendPostgres:
		pool, err := d.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureLeadSchema(ctx, pool); err != nil {
			return nil, err
		}
		return leads.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown leads backend: %s", d.cfg.Storage.LeadsBackend)
	}
}

func (d *deps) analyticsStore(ctx context.Context) (analytics.Store, error) {
	switch d.cfg.Storage.AnalyticsBackend {
	case config.BackendOff:
		return nil, nil
	case "", config.BackendFile:
		return analytics.NewFileStore(d.cfg.Storage.AnalyticsFile)
	case config.BackendRedis:
		rdb, err := d.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return analytics.NewRedisStore(rdb, analyticsKey), nil
	default:
		return nil, fmt.Errorf("unknown analytics backend: %s", d.cfg.Storage.AnalyticsBackend)
	}
}
