package bootstrap

import (
	"context"
	"fmt"

	httpin "mailchat_server/adapter/in/http"
	"mailchat_server/adapter/out/graph"
	"mailchat_server/adapter/out/meili"
	"mailchat_server/adapter/out/mongodb"
	"mailchat_server/adapter/out/persistence"
	"mailchat_server/adapter/out/provider/gmail"
	"mailchat_server/config"
	"mailchat_server/core/agent/llm"
	"mailchat_server/core/agent/session"
	"mailchat_server/core/port/out"
	"mailchat_server/core/service/chat"
	"mailchat_server/core/service/corpus"
	"mailchat_server/core/service/search"
	"mailchat_server/infra/database"
	"mailchat_server/internal/stream"
	"mailchat_server/pkg/cache"
	"mailchat_server/pkg/crypto"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Dependencies holds every wired component. Optional backends are nil when
// their configuration is empty.
type Dependencies struct {
	Config *config.Config

	// Infrastructure
	DB    *pgxpool.Pool
	SQL   *sqlx.DB
	Redis *redis.Client
	Mongo *mongo.Client
	Neo4j neo4j.DriverWithContext

	// Outbound adapters
	Index       out.EmailIndex
	Completer   *llm.Client
	Sessions    out.SessionStore
	Transcripts out.TranscriptStore
	Directory   out.SenderDirectory
	Gmail       *gmail.Source
	Stream      *stream.RedisStream
	Queue       out.SyncQueue
	OAuthStates cache.StateStore

	// Services
	Resolver      *search.Resolver
	CriteriaCache *search.CriteriaCache
	Classifier    *llm.IntentClassifier
	Corpus        *corpus.Service
	Chat          *chat.Service

	Health map[string]httpin.HealthChecker
}

// NewDependencies connects to the configured backends and wires the
// pipeline. The returned cleanup closes everything that was opened.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	d := &Dependencies{
		Config: cfg,
		Health: make(map[string]httpin.HealthChecker),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Search index
	switch cfg.SearchBackend {
	case config.SearchBackendPostgres:
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig(cfg.DBMaxConns))
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, pool.Close)
		d.DB = pool
		d.SQL = database.NewSQLX(pool)
		metrics.RegisterDBPool("email_index", d.SQL.DB)

		version, err := persistence.Migrate(d.SQL.DB)
		if err != nil {
			return fail(fmt.Errorf("migrate email index: %w", err))
		}
		logger.Info("[Bootstrap] postgres email index at schema version %d", version)

		index := persistence.NewEmailIndex(d.SQL)
		d.Index = index
		d.Health["postgres"] = index
		d.Health["postgres_pool"] = httpin.HealthCheckFunc(metrics.PoolCheck(d.SQL.DB))

	default:
		index := meili.New(meili.Config{
			Host:      cfg.MeiliHost,
			AdminKey:  cfg.MeiliAdminKey,
			SearchKey: cfg.MeiliSearchKey,
			Index:     cfg.MeiliIndex,
		}, nil)
		if err := index.EnsureIndex(ctx); err != nil {
			// Searches report 503 until Meilisearch is reachable.
			logger.WithError(err).Warn("[Bootstrap] meilisearch index setup failed")
		}
		d.Index = index
		d.Health["meilisearch"] = index
	}

	// Redis: sessions, sync stream, OAuth state
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { _ = client.Close() })
		d.Redis = client

		d.Sessions = session.NewRedisStore(cache.NewRedisCache(client, "mailchat:session"), cfg.SessionTTL())
		d.OAuthStates = cache.NewRedisStateStore(cache.NewRedisCache(client, "mailchat:oauth:state"))
		d.Stream = stream.NewRedisStream(client, cfg.SyncGroup)
		d.Queue = stream.NewProducer(d.Stream, cfg.SyncStream)
		d.Health["redis"] = httpin.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	} else {
		mem := session.NewMemoryStore(cfg.SessionTTL())
		closers = append(closers, mem.Stop)
		d.Sessions = mem
		d.OAuthStates = cache.NewMemoryStateStore()
	}

	// MongoDB: transcripts
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = client.Disconnect(context.Background()) })
		d.Mongo = client

		transcripts := mongodb.NewTranscriptAdapter(client.Database(cfg.MongoDBName), cfg.TranscriptRetention())
		if err := transcripts.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("[Bootstrap] transcript indexes not created")
		}
		d.Transcripts = transcripts
		d.Health["mongodb"] = httpin.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		})
	}

	// Neo4j: sender directory
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = driver.Close(context.Background()) })
		d.Neo4j = driver

		directory := graph.NewSenderDirectory(driver, cfg.Neo4jDatabase)
		if err := directory.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("[Bootstrap] sender directory constraints not created")
		}
		d.Directory = directory
		d.Health["neo4j"] = httpin.HealthCheckFunc(driver.VerifyConnectivity)
	}

	// Gmail
	if cfg.GmailEnabled() {
		var tokenCipher *crypto.Cipher
		if cfg.GmailTokenKey != "" {
			c, err := crypto.NewCipher([]byte(cfg.GmailTokenKey))
			if err != nil {
				return fail(fmt.Errorf("gmail token key: %w", err))
			}
			tokenCipher = c
		} else if cfg.IsProduction() {
			logger.Warn("[Bootstrap] GMAIL_TOKEN_KEY not set, gmail token stored unencrypted")
		}

		d.Gmail = gmail.NewSource(gmail.SourceConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			TokenFile:    cfg.GmailTokenFile,
			TokenCipher:  tokenCipher,
		})
	}

	// Pipeline
	d.Completer = llm.NewClientWithConfig(llm.ClientConfig{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout(),
	})
	d.Classifier = llm.NewIntentClassifier(d.Completer)

	var extractorOpts []search.ExtractorOption
	if cfg.CriteriaCacheTTLMin > 0 {
		d.CriteriaCache = search.NewCriteriaCache(cfg.CriteriaCacheTTL())
		closers = append(closers, d.CriteriaCache.Stop)
		extractorOpts = append(extractorOpts, search.WithCriteriaCache(d.CriteriaCache))
	}
	extractor := search.NewCriteriaExtractor(
		cfg.ExtractionConfidenceThreshold,
		[]search.ExtractionStrategy{
			llm.NewCompletionStrategy(d.Completer),
			search.NewQueryAnalyzer(),
		},
		extractorOpts...,
	)
	d.Resolver = search.NewResolver(extractor, d.Index, cfg.CandidatePoolSize, cfg.SearchLimit)

	d.Corpus = corpus.NewService(d.Index, d.mailSource(), d.Directory)
	d.Chat = chat.NewService(
		d.Classifier,
		d.Resolver,
		d.Completer,
		d.Sessions,
		d.Corpus,
		d.Transcripts,
		chat.Config{
			HistoryLimit: cfg.HistoryLimit,
			ImportOnInit: cfg.ImportOnSessionInit && d.Gmail != nil,
			ImportMax:    cfg.GmailMaxResults,
		},
	)

	return d, cleanup, nil
}

// mailSource avoids handing a typed nil pointer to an interface.
func (d *Dependencies) mailSource() out.MailSource {
	if d.Gmail == nil {
		return nil
	}
	return d.Gmail
}
