package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/wxbot/config"
	"github.com/alejandrodnm/wxbot/internal/adapters/breaker"
	"github.com/alejandrodnm/wxbot/internal/adapters/kalshi"
	"github.com/alejandrodnm/wxbot/internal/adapters/metrics"
	"github.com/alejandrodnm/wxbot/internal/adapters/notify"
	"github.com/alejandrodnm/wxbot/internal/adapters/nws"
	"github.com/alejandrodnm/wxbot/internal/adapters/storage"
	"github.com/alejandrodnm/wxbot/internal/application/dedup"
	"github.com/alejandrodnm/wxbot/internal/application/edge"
	"github.com/alejandrodnm/wxbot/internal/application/engine"
	"github.com/alejandrodnm/wxbot/internal/application/estimator"
	"github.com/alejandrodnm/wxbot/internal/application/lockin"
	"github.com/alejandrodnm/wxbot/internal/application/position"
	"github.com/alejandrodnm/wxbot/internal/application/risk"
	"github.com/alejandrodnm/wxbot/internal/application/sanity"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// app es el grafo de dependencias de un proceso.
type app struct {
	cfg      *config.Config
	subjects []domain.Subject
	store    *storage.SQLiteStorage
	redis    *storage.RedisDedup
	recorder *metrics.Recorder
	console  *notify.Console
	weather  *breaker.Weather
	exchange *breaker.Exchange
	engine   *engine.Engine
}

// newApp cablea adaptadores y servicios a partir de la configuración.
func newApp(ctx context.Context, cfg *config.Config, dryRun bool) (*app, error) {
	subjects := make([]domain.Subject, 0, len(cfg.Subjects))
	calib := make(map[string]estimator.Calibration, len(cfg.Subjects))
	for _, sc := range cfg.Subjects {
		s, err := sc.Domain()
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
		calib[s.Code] = estimator.Calibration{
			BiasHigh:    sc.Bias.High,
			BiasLow:     sc.Bias.Low,
			FloorHigh:   sc.StdFloor.High,
			FloorMedium: sc.StdFloor.Medium,
			FloorLow:    sc.StdFloor.Low,
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	a := &app{
		cfg:      cfg,
		subjects: subjects,
		store:    store,
		recorder: metrics.New(),
		console:  notify.NewConsole(tableOut),
	}

	var dedupStore ports.DedupStore = store
	if cfg.Redis.Addr != "" {
		a.redis, err = storage.NewRedisDedup(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, storage.RedisPrefix, cfg.Redis.TTL)
		if err != nil {
			a.close()
			return nil, err
		}
		dedupStore = a.redis
		slog.Info("app: redis dedup store enabled", "addr", cfg.Redis.Addr)
	}

	var exchange ports.Exchange
	kcfg := kalshi.Config{Base: cfg.API.KalshiBase, KeyID: cfg.API.KalshiKeyID, Subjects: subjects}
	if cfg.API.KalshiKeyPath != "" {
		kcfg.Key, err = kalshi.LoadPrivateKey(cfg.API.KalshiKeyPath)
		if err != nil {
			a.close()
			return nil, err
		}
	} else {
		slog.Warn("app: no Kalshi key configured, authenticated calls will fail",
			"env", "KALSHI_PRIVATE_KEY_PATH")
	}
	a.exchange = breaker.NewExchange(kalshi.NewClient(kcfg), breaker.Settings{})
	exchange = a.exchange
	a.weather = breaker.NewWeather(nws.NewClient(cfg.API.NWSBase, cfg.API.NWSUserAgent), breaker.Settings{})

	ledger := risk.NewLedger()
	lock := lockin.New(lockin.Config{
		HighCutoffHour: cfg.LockIn.HighCutoffHour,
		LowCutoffHour:  cfg.LockIn.LowCutoffHour,
		StdDev:         cfg.LockIn.StdDev,
		Buffer:         cfg.LockIn.Buffer,
		Confidence:     cfg.LockIn.Confidence,
		MinEdge:        cfg.LockIn.MinEdge,
	}, store)

	ec := cfg.Estimator
	est := estimator.New(estimator.Config{
		PrimaryWeight:         ec.PrimaryWeight,
		BaseStd:               ec.BaseStd,
		ConfidenceAttenuation: ec.ConfidenceAttenuation,
		TierStep:              ec.TierStep,
		HighTierMin:           ec.HighTierMin,
		MediumTierMin:         ec.MediumTierMin,
		TomorrowConfidence:    ec.TomorrowConfidence,
		MaxConfidence:         ec.MaxConfidence,
		HighSchedule:          blendSteps(ec.Schedule.High),
		LowSchedule:           blendSteps(ec.Schedule.Low),
		Calibration:           calib,
	})

	a.engine = engine.New(engine.Config{
		Subjects:          subjects,
		Workers:           cfg.Engine.Workers,
		CycleBudget:       cfg.Engine.CycleBudget,
		CallTimeout:       cfg.Engine.CallTimeout,
		SubmitTimeout:     cfg.Engine.SubmitTimeout,
		TradeTomorrow:     cfg.Engine.TradeTomorrow,
		KillSwitchFile:    cfg.Engine.KillSwitchFile,
		DryRun:            cfg.Engine.DryRun || dryRun,
		MaxTradesPerCycle: cfg.Risk.MaxTradesPerCycle,
		MinEdge:           cfg.Edge.MinEdge,
		MaxLosses:         cfg.Engine.MaxLosses,
		LossCooldown:      cfg.Engine.LossCooldown,
		MaxDrawdown:       drawdown(cfg.Engine.MaxDrawdownCents),
	}, engine.Deps{
		Weather:   a.weather,
		Exchange:  exchange,
		Estimator: est,
		LockIn:    lock,
		Sanity: sanity.New(sanity.Config{
			MaxForecastDivergence: cfg.Sanity.MaxForecastDivergence,
			MaxStationDivergence:  cfg.Sanity.MaxStationDivergence,
			MinObservationWeight:  cfg.Sanity.MinObservationWeight,
			MaxModelEdge:          cfg.Sanity.MaxModelEdge,
			LiquidYesPrice:        domain.Cents(cfg.Sanity.LiquidYesPrice),
		}, store, a.recorder),
		Edge: edge.New(edge.Config{
			ProbFloor:     cfg.Edge.ProbFloor,
			ProbCeil:      cfg.Edge.ProbCeil,
			MinEntryPrice: domain.Cents(cfg.Edge.MinEntryPrice),
			MinNoYesPrice: domain.Cents(cfg.Edge.MinNoYesPrice),
			MinYesPrice:   domain.Cents(cfg.Edge.MinYesPrice),
			NoMargin:      cfg.Edge.NoMargin,
		}, lock),
		Dedup: dedup.New(dedupStore, a.recorder),
		Risk: risk.NewManager(risk.Config{
			MaxTradePct:           cfg.Risk.MaxTradePct,
			MaxExposurePct:        cfg.Risk.MaxExposurePct,
			MaxContractsPerTicker: cfg.Risk.MaxContractsPerTicker,
			DefaultContracts:      cfg.Risk.DefaultContracts,
		}, ledger, a.recorder),
		Positions: position.NewManager(position.Config{
			TakeProfitPct:       cfg.Positions.TakeProfitPct,
			CutLossPct:          cfg.Positions.CutLossPct,
			MinExitPrice:        domain.Cents(cfg.Positions.MinExitPrice),
			RollingTarget:       domain.Cents(cfg.Positions.RollingTargetCents),
			SettlementTolerance: cfg.Positions.SettlementTolerance,
			Location:            cfg.ScheduleLocation(),
		}, position.Stores{
			Positions:  store,
			Rolling:    store,
			Mismatches: store,
			Extremes:   store,
		}, ledger),
		Breakers: store,
		Journal:  store,
		Notifier: a.console,
		Metrics:  a.recorder,
	})
	return a, nil
}

// drawdown acepta el límite con o sin signo; el breaker lo espera negativo.
func drawdown(cents int64) domain.Cents {
	if cents > 0 {
		cents = -cents
	}
	return domain.Cents(cents)
}

func blendSteps(in []config.BlendStep) []estimator.BlendStep {
	out := make([]estimator.BlendStep, len(in))
	for i, s := range in {
		out[i] = estimator.BlendStep{
			FromHour:          s.FromHour,
			ObservationWeight: s.ObservationWeight,
			Confidence:        s.Confidence,
			StdScale:          s.StdScale,
		}
	}
	return out
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("app: close redis", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("app: close storage", "err", err)
	}
}

// summary convierte el resultado del motor en el informe de consola.
func summary(res *engine.CycleResult) notify.CycleSummary {
	return notify.CycleSummary{
		CycleID:         res.CycleID,
		Duration:        res.Duration,
		Capital:         res.Capital,
		Violations:      res.Violations,
		Mismatches:      res.Mismatches,
		Settled:         res.Settled,
		SettledPnL:      res.SettledPnL,
		RealizedPnL:     res.RealizedPnL,
		SkippedSubjects: res.SkippedSubjects,
		EntriesBlocked:  res.EntriesBlocked,
		Warnings:        res.Warnings,
	}
}
