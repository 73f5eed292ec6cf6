package cli

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/aggregator"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/backend"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/calendar"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/countdown"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/journal"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/lifecycle"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/reschedule"
	spg "github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/storage/postgres"
	transport "github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/transport/http"
)

// collaborator is everything the engine needs from the post backend. Both
// the HTTP client and the direct database implementation satisfy it.
type collaborator interface {
	aggregator.Source
	lifecycle.Backend
	calendar.Settings
	reschedule.Patcher
}

// engine is the wired component graph shared by every command.
type engine struct {
	cfg       *config.Config
	log       zerolog.Logger
	metrics   *metrics.Collector
	src       collaborator
	db        *spg.DB
	redis     *goredis.Client
	journal   *journal.Journal
	agg       *aggregator.Aggregator
	machine   *lifecycle.Machine
	calendars *calendar.Manager
	store     countdown.StateStore
	ready     map[string]transport.ReadyCheck
}

// buildEngine wires the components selected by cfg. The journal, when
// enabled, runs until ctx ends.
func buildEngine(ctx context.Context, cfg *config.Config, version string, log zerolog.Logger) (*engine, error) {
	e := &engine{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(version),
		ready:   map[string]transport.ReadyCheck{},
	}

	if cfg.UsesPostgres() {
		db, err := spg.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		e.db = db
		e.ready["database"] = db.Ready
		log.Info().Msg("db: connected")

		if cfg.Postgres.Migration != "" {
			if err := db.RunMigration(ctx, cfg.Postgres.Migration); err != nil {
				e.Close()
				return nil, fmt.Errorf("migration: %w", err)
			}
			log.Info().Str("file", cfg.Postgres.Migration).Msg("db: migration applied")
		}
	}

	switch cfg.Backend.Mode {
	case config.BackendPostgres:
		e.src = e.db
	default:
		client := backend.New(cfg.Backend, e.metrics)
		e.src = client
		e.ready["backend"] = client.Ready
	}

	if cfg.Journal.Enabled {
		e.journal = journal.New(spg.NewWriter(e.db), cfg.Journal.QueueMaxSize, cfg.Journal.BatchMaxSize,
			cfg.Journal.BatchMaxWait, e.metrics)
		e.journal.Start(ctx)
		log.Info().
			Int("queue", cfg.Journal.QueueMaxSize).
			Int("batch", cfg.Journal.BatchMaxSize).
			Dur("wait", cfg.Journal.BatchMaxWait).
			Msg("journal: started")
	}

	e.store = countdown.NewMemoryStore()
	if cfg.Redis.Enabled {
		e.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs := countdown.NewRedisStore(e.redis, cfg.Redis.KeyPrefix)
		e.store = rs
		e.ready["redis"] = rs.Ping
	}

	e.agg = aggregator.New(e.src, e.metrics)
	opts := []lifecycle.Option{lifecycle.WithMetrics(e.metrics)}
	if e.journal != nil {
		opts = append(opts, lifecycle.WithRecorder(e.journal))
	}
	e.machine = lifecycle.New(e.src, opts...)

	cals, err := calendar.NewManager(calendar.Deps{
		Aggregator:   e.agg,
		Machine:      e.machine,
		Patcher:      e.src,
		Settings:     e.src,
		Metrics:      e.metrics,
		Calendar:     cfg.Calendar,
		PatchTimeout: cfg.Backend.Timeout,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.calendars = cals
	return e, nil
}

func (e *engine) countdownOptions() countdown.Options {
	return countdown.Options{
		Tick:    e.cfg.Countdown.TickInterval,
		Poll:    e.cfg.Countdown.PollInterval,
		Idle:    e.cfg.Countdown.IdleTimeout,
		Metrics: e.metrics,
	}
}

// Close releases connections. The journal must have drained first.
func (e *engine) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}
