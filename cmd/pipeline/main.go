package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"circflow/internal/align"
	"circflow/internal/audit"
	"circflow/internal/dimension"
	"circflow/internal/export"
	"circflow/internal/facts"
	factsmetrics "circflow/internal/facts/metrics"
	"circflow/internal/pipeline"
	"circflow/internal/platform/config"
	"circflow/internal/platform/httpserver"
	"circflow/internal/platform/logger"
	platformredis "circflow/internal/platform/redis"
	"circflow/internal/reconcile"
	"circflow/internal/staging"
	stagingmetrics "circflow/internal/staging/metrics"
)

// main wires the pipeline dependencies and runs one batch pass over the
// collector hand-off directory. Business logic lives in the internal
// packages; this file only translates configuration into wiring.
func main() {
	if err := run(); err != nil {
		logger.New().Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return err
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
	}

	normalizer, resolver, err := buildStagingAndResolution(policy, log)
	if err != nil {
		return err
	}

	var factStore facts.Store
	var auditStore audit.Store
	if db != nil {
		factStore = facts.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
	} else {
		factStore = facts.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
	}

	assembler, err := facts.NewAssembler(factStore,
		facts.WithLogger(log),
		facts.WithMetrics(factsmetrics.New()),
	)
	if err != nil {
		return err
	}

	aligner, model, target, err := buildAnalysis(policy, factStore, log)
	if err != nil {
		return err
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	exportOpts := []export.Option{export.WithLogger(log)}
	if redisClient != nil {
		defer redisClient.Close()
		exportOpts = append(exportOpts, export.WithCache(redisClient.Client, cfg.CacheTTL))
	}
	exporter, err := export.NewService(factStore, aligner, model, target, exportOpts...)
	if err != nil {
		return err
	}

	inbox := make(chan audit.Event, 256)
	worker := audit.NewWorker(auditStore, inbox)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	metricsSrv := httpserver.New(cfg.MetricsAddr, metricsMux())
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	runnerOpts := []pipeline.RunnerOption{
		pipeline.WithLogger(log),
		pipeline.WithAuditInbox(inbox),
		pipeline.WithParallelism(cfg.Parallelism),
	}
	if db != nil {
		runnerOpts = append(runnerOpts, pipeline.WithDB(db))
	}
	runner, err := pipeline.NewRunner(normalizer, resolver, assembler, aligner, model, target, runnerOpts...)
	if err != nil {
		return err
	}

	batches, err := pipeline.LoadBatches(cfg.InputDir)
	if err != nil {
		return err
	}
	log.Info("starting pipeline pass", "input_dir", cfg.InputDir, "files", len(batches))

	report, err := runner.Run(ctx, batches)
	if err != nil {
		return err
	}

	exporter.Invalidate(ctx)

	failed := 0
	for _, file := range report.Files {
		if file.Err != nil {
			failed++
		}
	}
	anomalies := 0
	for _, a := range report.Assessments {
		if a.Classification == reconcile.ClassAnomalous {
			anomalies++
		}
	}
	log.Info("pass summary",
		"batch_id", report.BatchID.String(),
		"files_failed", failed,
		"primary_conflicts", len(report.PrimaryConflicts),
		"anomalous_quarters", anomalies,
		"model_state", string(report.ModelState),
	)

	// Closing the inbox lets the worker drain buffered events before exiting.
	close(inbox)
	<-workerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// buildStagingAndResolution translates the policy document into the staging
// normalizer and the dimensional resolver.
func buildStagingAndResolution(policy *config.Policy, log *slog.Logger) (*staging.Normalizer, *dimension.Resolver, error) {
	opts := []staging.Option{
		staging.WithLogger(log),
		staging.WithMetrics(stagingmetrics.New()),
	}
	for unit, r := range policy.UnitRanges {
		opts = append(opts, staging.WithUnitRange(unit, staging.ValueRange{Min: r.Min, Max: r.Max}))
	}
	normalizer := staging.NewNormalizer(staging.ValueRange{}, opts...)

	calendar, err := buildCalendar(policy.Calendar)
	if err != nil {
		return nil, nil, err
	}

	sources := make([]dimension.DataSource, 0, len(policy.Sources))
	for _, s := range policy.Sources {
		sources = append(sources, dimension.DataSource{Code: s.Code, Name: s.Name})
	}
	sourceRegistry, err := dimension.NewSourceRegistry(sources)
	if err != nil {
		return nil, nil, err
	}

	measurements := make([]dimension.Measurement, 0, len(policy.Measurements))
	for _, m := range policy.Measurements {
		measurements = append(measurements, dimension.Measurement{
			UnitType:       m.UnitType,
			PriceBasis:     m.PriceBasis,
			AdjustmentType: m.AdjustmentType,
		})
	}
	measurementRegistry, err := dimension.NewMeasurementRegistry(measurements)
	if err != nil {
		return nil, nil, err
	}

	roleRegistry, err := buildSeriesRoles(policy.SeriesRoles)
	if err != nil {
		return nil, nil, err
	}

	resolver, err := dimension.NewResolver(calendar, measurementRegistry, sourceRegistry, roleRegistry)
	if err != nil {
		return nil, nil, err
	}
	return normalizer, resolver, nil
}

// buildAnalysis wires the frequency aligner and the reconciliation model from
// the policy document.
func buildAnalysis(policy *config.Policy, store facts.Store, log *slog.Logger) (*align.Aligner, *reconcile.Model, dimension.Component, error) {
	calendar, err := buildCalendar(policy.Calendar)
	if err != nil {
		return nil, nil, "", err
	}
	policies, err := dimension.NewPolicySet(policy.Aggregation)
	if err != nil {
		return nil, nil, "", err
	}
	roles, err := buildSeriesRoles(policy.SeriesRoles)
	if err != nil {
		return nil, nil, "", err
	}
	aligner, err := align.NewAligner(calendar, policies, roles, store, align.WithLogger(log))
	if err != nil {
		return nil, nil, "", err
	}

	target, err := dimension.ParseComponent(policy.Model.Target)
	if err != nil {
		return nil, nil, "", fmt.Errorf("model target: %w", err)
	}

	modelCfg := reconcile.DefaultConfig()
	if policy.Model.WindowQuarters > 0 {
		modelCfg.WindowQuarters = policy.Model.WindowQuarters
	}
	if policy.Model.MinQuarters > 0 {
		modelCfg.MinQuarters = policy.Model.MinQuarters
	}
	if policy.Model.Confidence > 0 {
		modelCfg.Confidence = policy.Model.Confidence
	}
	if policy.Model.LatentComponents > 0 {
		modelCfg.LatentComponents = policy.Model.LatentComponents
	}
	if policy.Model.StaleAfter > 0 {
		modelCfg.StaleAfterQuarters = policy.Model.StaleAfter
	}
	modelCfg.FallbackRatio = policy.Model.FallbackRatio

	allowlist, err := buildAllowlist(policy.Allowlist)
	if err != nil {
		return nil, nil, "", err
	}

	model, err := reconcile.NewModel(modelCfg,
		reconcile.WithAllowlist(allowlist),
		reconcile.WithLogger(log),
	)
	if err != nil {
		return nil, nil, "", err
	}
	return aligner, model, target, nil
}

func buildCalendar(cal config.CalendarPolicy) (*dimension.Calendar, error) {
	start, err := time.Parse("2006-01-02", cal.Start)
	if err != nil {
		return nil, fmt.Errorf("calendar start: %w", err)
	}
	end, err := time.Parse("2006-01-02", cal.End)
	if err != nil {
		return nil, fmt.Errorf("calendar end: %w", err)
	}
	return dimension.NewCalendar(start, end)
}

func buildSeriesRoles(rolePolicies []config.SeriesRolePolicy) (*dimension.SeriesRoleRegistry, error) {
	roles := make([]dimension.SeriesRole, 0, len(rolePolicies))
	for _, rp := range rolePolicies {
		component, err := dimension.ParseComponent(rp.Component)
		if err != nil {
			return nil, fmt.Errorf("series role %s: %w", rp.SeriesID, err)
		}
		roles = append(roles, dimension.SeriesRole{
			SeriesID:  rp.SeriesID,
			Component: component,
			IsPrimary: rp.IsPrimary,
			Nature:    dimension.SeriesNature(rp.Nature),
		})
	}
	return dimension.NewSeriesRoleRegistry(roles)
}

func buildAllowlist(entries []config.AllowlistPolicy) (*reconcile.Allowlist, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]reconcile.AllowlistEntry, 0, len(entries))
	for _, e := range entries {
		var component dimension.Component
		if e.Component != "" {
			parsed, err := dimension.ParseComponent(e.Component)
			if err != nil {
				return nil, fmt.Errorf("allowlist pattern %s: %w", e.PatternID, err)
			}
			component = parsed
		}
		out = append(out, reconcile.AllowlistEntry{
			PatternID:       e.PatternID,
			Component:       component,
			FromQuarter:     e.FromQuarter,
			ToQuarter:       e.ToQuarter,
			Explanation:     e.Explanation,
			Evidence:        e.Evidence,
			ReviewedBy:      e.ReviewedBy,
			Status:          reconcile.AllowlistStatus(e.Status),
			StructuralBreak: e.StructuralBreak,
		})
	}
	return reconcile.NewAllowlist(out)
}
