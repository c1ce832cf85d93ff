package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/triple-line-dialer/internal/api/handlers"
	"github.com/acme/triple-line-dialer/internal/auth"
	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/infra/db"
	"github.com/acme/triple-line-dialer/internal/infra/redis"
	"github.com/acme/triple-line-dialer/internal/llm"
	"github.com/acme/triple-line-dialer/internal/queue"
	"github.com/acme/triple-line-dialer/internal/repository"
	pgrepo "github.com/acme/triple-line-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/triple-line-dialer/internal/repository/scylla"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/service/concurrency"
	"github.com/acme/triple-line-dialer/internal/service/coordinator"
	"github.com/acme/triple-line-dialer/internal/service/dialer"
	metricssvc "github.com/acme/triple-line-dialer/internal/service/metrics"
	outcomesvc "github.com/acme/triple-line-dialer/internal/service/outcome"
	sessionsvc "github.com/acme/triple-line-dialer/internal/service/session"
	settingssvc "github.com/acme/triple-line-dialer/internal/service/settings"
	"github.com/acme/triple-line-dialer/internal/sweeper"
	"github.com/acme/triple-line-dialer/internal/telephony"
	telephonyMock "github.com/acme/triple-line-dialer/internal/telephony/mock"
	"github.com/acme/triple-line-dialer/internal/telephony/twilio"
	"github.com/acme/triple-line-dialer/pkg/logger"
	"go.uber.org/zap"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		providers    *providers
	}
}

type repositories struct {
	Calls    repository.CallRepository
	Sessions repository.SessionRepository
	Leads    repository.LeadRepository
	Outcomes repository.OutcomeRepository
	Settings repository.SettingsRepository
	Timeline repository.TimelineStore
}

type services struct {
	Status      *callstatus.Manager
	Terminator  *callstatus.Terminator
	Dialer      *dialer.Service
	Coordinator *coordinator.Coordinator
	Sessions    *sessionsvc.Service
	Outcomes    *outcomesvc.Service
	Metrics     *metricssvc.Service
	Settings    *settingssvc.Service
}

type publishers struct {
	Status *queue.StatusPublisher
}

type providers struct {
	Telephony telephony.Provider
	LLM       llm.Summarizer
	Claimer   concurrency.ConnectClaimer
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		sqlDB := c.Postgres.DB()
		repos := &repositories{
			Calls:    pgrepo.NewCallRepository(sqlDB),
			Sessions: pgrepo.NewSessionRepository(sqlDB),
			Leads:    pgrepo.NewLeadRepository(sqlDB),
			Outcomes: pgrepo.NewOutcomeRepository(sqlDB),
			Settings: pgrepo.NewSettingsRepository(sqlDB),
			Timeline: scyllarepo.NewTimelineStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Status: queue.NewStatusPublisher(c.Kafka, c.Config.Kafka.StatusTopic),
		}

		provs := &providers{
			Telephony: c.telephonyProvider(),
			LLM:       llm.NewClient(c.Config.LLM),
			Claimer:   c.connectClaimer(),
		}

		status := callstatus.NewManager(repos.Calls, pubs.Status, c.Logger)
		sessions := sessionsvc.NewService(repos.Sessions, repos.Leads, c.Config.Dialer.MaxLines, c.Logger)
		terminator := callstatus.NewTerminator(status, provs.Telephony, c.Logger)
		svcs := &services{
			Status:     status,
			Terminator: terminator,
			Dialer: dialer.NewService(
				repos.Calls,
				repos.Settings,
				sessions,
				repos.Leads,
				provs.Telephony,
				terminator,
				dialer.Config{
					MaxLines:      c.Config.Dialer.MaxLines,
					PublicBaseURL: c.Config.Telephony.PublicBaseURL,
					RingTimeout:   c.Config.Telephony.RingTimeout,
					AMDTimeout:    c.Config.Telephony.AMDTimeout,
				},
				c.Logger,
			),
			Coordinator: coordinator.New(repos.Calls, repos.Settings, status, terminator, provs.Claimer, c.Logger),
			Sessions:    sessions,
			Outcomes:    outcomesvc.NewService(repos.Outcomes, repos.Calls, sessions, repos.Leads, provs.LLM, c.Logger),
			Metrics:     metricssvc.NewService(repos.Calls, repos.Outcomes, repos.Sessions),
			Settings:    settingssvc.NewService(repos.Settings),
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.providers = provs
		c.components.services = svcs
	})
}

func (c *Container) telephonyProvider() telephony.Provider {
	if c.Config.Telephony.Provider == "mock" {
		c.Logger.Warn("using mock telephony provider")
		return telephonyMock.NewProvider(c.Config.Telephony)
	}
	return twilio.NewClient(c.Config.Telephony)
}

func (c *Container) connectClaimer() concurrency.ConnectClaimer {
	cfg := c.Config.Dialer
	claimer, err := concurrency.NewClaimer(cfg.ClaimStore, c.Redis.Inner(), cfg.ConnectClaimTTL)
	if err != nil {
		c.Logger.Warn("falling back to redis connect claims", zap.String("claim_store", cfg.ClaimStore), zap.Error(err))
		return concurrency.NewRedisClaimer(c.Redis.Inner(), cfg.ConnectClaimTTL)
	}
	if cfg.ClaimStore == concurrency.StoreLocal {
		c.Logger.Warn("using in-process connect claims; run a single API replica")
	}
	return claimer
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// HandlerDeps assembles the dependencies of the HTTP handlers.
func (c *Container) HandlerDeps() (handlers.Deps, error) {
	c.initComponents()
	verifier, err := auth.NewVerifier(c.Config.Auth)
	if err != nil {
		return handlers.Deps{}, err
	}
	svcs := c.components.services
	return handlers.Deps{
		Dialer:      svcs.Dialer,
		Coordinator: svcs.Coordinator,
		Status:      svcs.Status,
		Sessions:    svcs.Sessions,
		Outcomes:    svcs.Outcomes,
		Metrics:     svcs.Metrics,
		Settings:    svcs.Settings,
		Timeline:    c.components.repositories.Timeline,
		Verifier:    verifier,
		Logger:      c.Logger,
		Webhooks: handlers.WebhookConfig{
			AuthToken:          c.Config.Telephony.AuthToken,
			PublicBaseURL:      c.Config.Telephony.PublicBaseURL,
			ValidateSignatures: c.Config.Telephony.ValidateSignatures,
		},
		Simulation: c.Config.Telephony.Provider == "mock",
		Health: map[string]handlers.HealthCheck{
			"postgres": c.Postgres.Ping,
			"redis":    c.Redis.Ping,
			"scylla":   c.Scylla.Ping,
		},
	}, nil
}

// Sweeper builds the stale call sweeper.
func (c *Container) Sweeper() *sweeper.Sweeper {
	c.initComponents()
	return sweeper.New(
		c.components.repositories.Calls,
		c.components.services.Status,
		c.components.services.Terminator,
		c.components.providers.Telephony,
		c.Redis,
		c.Config.Sweeper,
		c.Logger,
	)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil && p.Status != nil {
		if err := p.Status.Close(); err != nil {
			errs = append(errs, fmt.Errorf("status publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	partitions := c.Config.Kafka.Partitions
	if partitions <= 0 {
		partitions = 12
	}
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.StatusTopic}, partitions, 1)
}
