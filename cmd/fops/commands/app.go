package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/advisors"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/audit"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/config"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/policy"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/reservation"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/stores"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/telemetry"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// app holds what every command needs: configuration, telemetry and an
// initialized store.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	store  *stores.SQLiteStore
}

func loadConfig() (*config.Config, error) {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	store, err := stores.NewSQLiteStore(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
		store:  store,
	}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down tracer")
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close store")
	}
}

// runtime is an assembled engine plus the resources it owns.
type runtime struct {
	engine  *workflow.Engine
	queue   *audit.Queue
	loader  *policy.Loader
	redis   *redis.Client
	cleanup []func(context.Context) error
}

// Close drains the audit queue and releases the engine's resources.
func (r *runtime) Close(ctx context.Context) error {
	var first error
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		if err := r.cleanup[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *app) buildEngine(ctx context.Context) (*runtime, error) {
	rt := &runtime{}
	fail := func(err error) (*runtime, error) {
		_ = rt.Close(context.Background())
		return nil, err
	}

	compliance, err := a.buildPolicyEngine(ctx, rt)
	if err != nil {
		return fail(err)
	}

	cost, err := a.buildCostEstimator()
	if err != nil {
		return fail(err)
	}

	writer, err := a.auditWriter()
	if err != nil {
		return fail(err)
	}
	rt.queue = audit.NewQueue(writer, a.cfg.AuditConfig(),
		audit.WithLogger(a.logger),
		audit.WithMetrics(a.tel.Metrics))
	rt.cleanup = append(rt.cleanup, rt.queue.Close)

	deps := workflow.Dependencies{
		Targets:     a.store,
		Candidates:  a.store,
		Equipment:   advisors.NewEquipmentInspector(a.cfg.EquipmentConfig()),
		Compliance:  compliance,
		Cost:        cost,
		Assignments: a.store,
		Reviews:     a.store,
		Audit:       rt.queue,
	}

	reserver, err := a.buildReserver(ctx, rt)
	if err != nil {
		return fail(err)
	}
	if reserver != nil {
		deps.Reserver = reserver
	}

	engine, err := workflow.NewEngine(a.cfg.WorkflowConfig(), deps,
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(a.tel.Metrics),
		workflow.WithTracer(a.tel.Tracer.Tracer()))
	if err != nil {
		return fail(err)
	}
	rt.engine = engine
	return rt, nil
}

func (a *app) buildPolicyEngine(ctx context.Context, rt *runtime) (*policy.Engine, error) {
	var opts []policy.EngineOption
	if a.cfg.Policy.DisableBuiltins {
		opts = append(opts, policy.WithoutBuiltins())
	}

	engine, err := policy.NewEngine(a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	paths := a.cfg.Policy.Paths
	if len(paths) == 0 {
		return engine, nil
	}
	if err := engine.LoadPolicies(ctx, paths); err != nil {
		return nil, err
	}

	if a.cfg.Policy.Watch {
		rt.loader = policy.NewLoader(a.logger)
		rt.loader.SetReloadDelay(a.cfg.Policy.ReloadDelay.Std())
		if err := rt.loader.Watch(ctx, paths, engine.ReplacePolicies); err != nil {
			return nil, err
		}
		rt.cleanup = append(rt.cleanup, func(context.Context) error {
			return rt.loader.StopWatching()
		})
	}
	return engine, nil
}

func (a *app) buildCostEstimator() (workflow.CostEstimator, error) {
	if script := a.cfg.Cost.Script; script != "" {
		return advisors.LoadScriptCostEstimator(script, a.cfg.Cost.ScriptTimeout.Std())
	}
	return advisors.NewRateCostEstimator(a.cfg.Cost.DefaultRatePerMile), nil
}

func (a *app) auditWriter() (audit.Writer, error) {
	logWriter := audit.NewLogWriter(a.logger.With().Str("component", "audit").Logger())

	switch a.cfg.Audit.Sink {
	case "store", "":
		return a.store, nil
	case "log":
		return logWriter, nil
	case "both":
		return audit.WriterFunc(func(ctx context.Context, events []workflow.AuditEvent) error {
			_ = logWriter.WriteAuditEvents(ctx, events)
			return a.store.WriteAuditEvents(ctx, events)
		}), nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", a.cfg.Audit.Sink)
	}
}

func (a *app) buildReserver(ctx context.Context, rt *runtime) (workflow.Reserver, error) {
	rc := a.cfg.Reservation
	switch rc.Mode {
	case "none", "":
		return nil, nil
	case "local":
		return reservation.NewLocalReserver(rc.TTL.Std()), nil
	case "redis":
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     rc.RedisAddr,
			Password: rc.RedisPassword,
			DB:       rc.RedisDB,
		})
		rt.cleanup = append(rt.cleanup, func(context.Context) error { return rt.redis.Close() })

		r := reservation.NewRedisReserver(rt.redis, a.cfg.ReservationConfig())
		if err := r.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("redis reservation store unreachable at %s: %w", rc.RedisAddr, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown reservation mode %q", rc.Mode)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
