package engine

// evaluate.go: worker pool de evaluación por sujeto.
//
// Cada sujeto es independiente: estimación, sanity gate y edge son funciones
// puras de lo que se descargó. Los workers dejan de arrancar sujetos nuevos
// en cuanto vence el presupuesto del ciclo.

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/edge"
	"github.com/alejandrodnm/wxbot/internal/application/estimator"
	"github.com/alejandrodnm/wxbot/internal/domain"
)

type evalInput struct {
	cycleID string
	held    map[string]domain.Side
	now     time.Time
}

// evaluation is the output of one subject.
type evaluation struct {
	subject    domain.Subject
	skipped    bool
	signals    []domain.Signal
	violations []domain.Violation
	brackets   []domain.Bracket
}

// evaluateConcurrent evaluates every subject with a worker pool. Subjects
// still queued when ctx is done are skipped and counted.
func (e *Engine) evaluateConcurrent(ctx context.Context, in evalInput) ([]evaluation, int) {
	subjects := e.cfg.Subjects
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	workCh := make(chan domain.Subject, len(subjects))
	resultCh := make(chan evaluation, len(subjects))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range workCh {
				if ctx.Err() != nil {
					slog.Warn("engine: cycle budget spent, subject skipped", "subject", s.Code)
					resultCh <- evaluation{subject: s, skipped: true}
					continue
				}
				resultCh <- e.evaluateSubject(ctx, s, in)
			}
		}()
	}

	for _, s := range subjects {
		workCh <- s
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	evals := make([]evaluation, 0, len(subjects))
	skipped := 0
	for ev := range resultCh {
		if ev.skipped {
			skipped++
			continue
		}
		evals = append(evals, ev)
	}
	sort.Slice(evals, func(i, j int) bool { return evals[i].subject.Code < evals[j].subject.Code })

	slog.Debug("engine: evaluation complete",
		"subjects", len(subjects),
		"evaluated", len(evals),
		"skipped", skipped,
		"workers", workers,
	)
	return evals, skipped
}

// evaluateSubject fetches the observations once and evaluates every
// (period, date) of the subject.
func (e *Engine) evaluateSubject(ctx context.Context, s domain.Subject, in evalInput) evaluation {
	ev := evaluation{subject: s}
	primary, surrounding := e.observations(ctx, s)

	if primary != nil && e.deps.LockIn != nil {
		if _, err := e.deps.LockIn.Observe(ctx, s, *primary); err != nil {
			slog.Warn("engine: record extreme", "subject", s.Code, "err", err)
		}
	}

	dates := []time.Time{s.Day(in.now)}
	if e.cfg.TradeTomorrow {
		dates = append(dates, s.Day(in.now).AddDate(0, 0, 1))
	}
	for _, date := range dates {
		for _, period := range domain.Periods {
			e.evaluatePeriod(ctx, &ev, s, period, date, primary, surrounding, in)
		}
	}
	return ev
}

func (e *Engine) evaluatePeriod(
	ctx context.Context,
	ev *evaluation,
	s domain.Subject,
	period domain.Period,
	date time.Time,
	primary *domain.Observation,
	surrounding []domain.Observation,
	in evalInput,
) {
	log := slog.With("subject", s.Code, "period", period, "date", domain.DateKey(date), "cycle_id", in.cycleID)

	est, err := e.estimate(ctx, s, period, date, primary, surrounding, in.now)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			log.Info("engine: data unavailable, subject skipped")
		} else {
			log.Warn("engine: estimate failed", "err", err)
		}
		return
	}

	// Sanity gate: bloqueante
	if v := e.deps.Sanity.Check(est); v != nil {
		e.recordViolation(ctx, ev, v, in)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	brackets, err := e.deps.Exchange.Quotes(callCtx, s, period, date)
	cancel()
	if err != nil {
		log.Warn("engine: quotes unavailable", "err", err)
		return
	}
	ev.brackets = append(ev.brackets, brackets...)

	minEdge := e.cfg.MinEdge
	if est.LockedIn() {
		minEdge = e.deps.LockIn.MinEdge()
	}
	signals := e.deps.Edge.Signals(edge.Input{
		Estimate: est,
		Brackets: brackets,
		MinEdge:  minEdge,
		Held:     in.held,
		CycleID:  in.cycleID,
		Now:      in.now,
	})

	// Una señal implausible invalida todo el (sujeto, periodo)
	for _, sig := range signals {
		if v := e.deps.Sanity.CheckSignal(sig); v != nil {
			e.recordViolation(ctx, ev, v, in)
			return
		}
	}

	log.Info("engine: estimate",
		"basis", est.Basis,
		"mean", est.Mean,
		"std", est.StdDev,
		"tier", est.Tier,
		"brackets", len(brackets),
		"signals", len(signals),
	)
	ev.signals = append(ev.signals, signals...)
}

// estimate prefers the lock-in path on the settlement day.
func (e *Engine) estimate(
	ctx context.Context,
	s domain.Subject,
	period domain.Period,
	date time.Time,
	primary *domain.Observation,
	surrounding []domain.Observation,
	now time.Time,
) (domain.DistributionEstimate, error) {
	if e.deps.LockIn != nil {
		est, ok, err := e.deps.LockIn.Detect(ctx, s, period, date, now)
		if err != nil {
			slog.Warn("engine: lock-in detection", "subject", s.Code, "period", period, "err", err)
		} else if ok {
			return est, nil
		}
	}

	var forecast *domain.Forecast
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	f, err := e.deps.Weather.Forecast(callCtx, s, period, date)
	cancel()
	if err != nil {
		slog.Debug("engine: forecast unavailable", "subject", s.Code, "period", period, "err", err)
	} else {
		forecast = &f
	}

	return e.deps.Estimator.Estimate(estimator.Inputs{
		Subject:     s,
		Period:      period,
		TargetDate:  date,
		Forecast:    forecast,
		Primary:     primary,
		Surrounding: surrounding,
		Now:         now,
	})
}

// observations fetches the primary and surrounding stations. Missing
// readings are simply absent.
func (e *Engine) observations(ctx context.Context, s domain.Subject) (*domain.Observation, []domain.Observation) {
	fetch := func(station string, role domain.StationRole) (domain.Observation, bool) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		obs, err := e.deps.Weather.LatestObservation(callCtx, station)
		if err != nil {
			slog.Debug("engine: observation unavailable", "subject", s.Code, "station", station, "err", err)
			return domain.Observation{}, false
		}
		obs.Subject = s.Code
		obs.Station = station
		obs.Role = role
		return obs, true
	}

	var primary *domain.Observation
	if obs, ok := fetch(s.PrimaryStation, domain.RolePrimary); ok {
		primary = &obs
	}
	var surrounding []domain.Observation
	for _, st := range s.SurroundingStations {
		if obs, ok := fetch(st, domain.RoleSurrounding); ok {
			surrounding = append(surrounding, obs)
		}
	}
	return primary, surrounding
}

func (e *Engine) recordViolation(ctx context.Context, ev *evaluation, v *domain.Violation, in evalInput) {
	if err := e.deps.Sanity.Record(ctx, v, in.cycleID, in.now); err != nil {
		slog.Warn("engine: record violation", "subject", v.Subject, "err", err)
	}
	ev.violations = append(ev.violations, *v)
}
