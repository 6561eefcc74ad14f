package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Subjects  []SubjectConfig `yaml:"subjects"`
	Estimator EstimatorConfig `yaml:"estimator"`
	LockIn    LockInConfig    `yaml:"lockin"`
	Sanity    SanityConfig    `yaml:"sanity"`
	Edge      EdgeConfig      `yaml:"edge"`
	Risk      RiskConfig      `yaml:"risk"`
	Positions PositionsConfig `yaml:"positions"`
	Engine    EngineConfig    `yaml:"engine"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// SubjectConfig describe una ciudad: estaciones, series de Kalshi y calibración.
type SubjectConfig struct {
	Code        string         `yaml:"code"`
	Timezone    string         `yaml:"timezone"`
	Primary     string         `yaml:"primary"`
	Surrounding []string       `yaml:"surrounding"`
	Lat         float64        `yaml:"lat"`
	Lon         float64        `yaml:"lon"`
	HighSeries  string         `yaml:"high_series"`
	LowSeries   string         `yaml:"low_series"`
	Bias        BiasConfig     `yaml:"bias"`
	StdFloor    StdFloorConfig `yaml:"std_floor"`
}

// BiasConfig es la corrección aditiva (°F) por periodo.
type BiasConfig struct {
	High float64 `yaml:"high"`
	Low  float64 `yaml:"low"`
}

// StdFloorConfig es el mínimo de std_dev por tier de confianza.
type StdFloorConfig struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// BlendStep aplica desde FromHour (hora local) hasta el siguiente paso.
type BlendStep struct {
	FromHour          int     `yaml:"from_hour"`
	ObservationWeight float64 `yaml:"observation_weight"`
	Confidence        float64 `yaml:"confidence"`
	StdScale          float64 `yaml:"std_scale"` // 0 = 1.0
}

// EstimatorConfig controla la mezcla pronóstico/observación y la dispersión.
type EstimatorConfig struct {
	PrimaryWeight         float64 `yaml:"primary_weight"`
	BaseStd               float64 `yaml:"base_std"`
	ConfidenceAttenuation float64 `yaml:"confidence_attenuation"`
	TierStep              float64 `yaml:"tier_step"`
	HighTierMin           float64 `yaml:"high_tier_min"`
	MediumTierMin         float64 `yaml:"medium_tier_min"`
	TomorrowConfidence    float64 `yaml:"tomorrow_confidence"`
	MaxConfidence         float64 `yaml:"max_confidence"`
	Schedule              struct {
		High []BlendStep `yaml:"high"`
		Low  []BlendStep `yaml:"low"`
	} `yaml:"schedule"`
}

// LockInConfig controla cuándo el extremo observado se considera definitivo.
type LockInConfig struct {
	HighCutoffHour int     `yaml:"high_cutoff_hour"`
	LowCutoffHour  int     `yaml:"low_cutoff_hour"`
	StdDev         float64 `yaml:"std_dev"`
	Buffer         float64 `yaml:"buffer"`
	Confidence     float64 `yaml:"confidence"`
	MinEdge        float64 `yaml:"min_edge"`
}

// SanityConfig son los umbrales del gate bloqueante.
type SanityConfig struct {
	MaxForecastDivergence float64 `yaml:"max_forecast_divergence"`
	MaxStationDivergence  float64 `yaml:"max_station_divergence"`
	MinObservationWeight  float64 `yaml:"min_observation_weight"`
	MaxModelEdge          float64 `yaml:"max_model_edge"`
	LiquidYesPrice        int64   `yaml:"liquid_yes_price"`
}

// EdgeConfig controla el umbral de edge y los filtros por bracket.
type EdgeConfig struct {
	MinEdge       float64 `yaml:"min_edge"`
	ProbFloor     float64 `yaml:"prob_floor"`
	ProbCeil      float64 `yaml:"prob_ceil"`
	MinEntryPrice int64   `yaml:"min_entry_price"`
	MinNoYesPrice int64   `yaml:"min_no_yes_price"`
	MinYesPrice   int64   `yaml:"min_yes_price"`
	NoMargin      float64 `yaml:"no_margin"`
}

// RiskConfig son los límites de capital.
type RiskConfig struct {
	MaxTradePct           float64 `yaml:"max_trade_pct"`
	MaxExposurePct        float64 `yaml:"max_exposure_pct"`
	MaxContractsPerTicker int     `yaml:"max_contracts_per_ticker"`
	MaxTradesPerCycle     int     `yaml:"max_trades_per_cycle"`
	DefaultContracts      int     `yaml:"default_contracts"`
}

// PositionsConfig son las reglas de salida.
type PositionsConfig struct {
	TakeProfitPct       float64 `yaml:"take_profit_pct"`
	CutLossPct          float64 `yaml:"cut_loss_pct"`
	MinExitPrice        int64   `yaml:"min_exit_price"`
	RollingTargetCents  int64   `yaml:"rolling_target_cents"`
	SettlementTolerance float64 `yaml:"settlement_tolerance"`
}

// EngineConfig controla el ciclo.
type EngineConfig struct {
	Workers          int           `yaml:"workers"`
	CycleBudget      time.Duration `yaml:"cycle_budget"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	SubmitTimeout    time.Duration `yaml:"submit_timeout"`
	TradeTomorrow    bool          `yaml:"trade_tomorrow"`
	KillSwitchFile   string        `yaml:"kill_switch_file"`
	DryRun           bool          `yaml:"dry_run"`
	MaxLosses        int           `yaml:"max_losses"`
	LossCooldown     time.Duration `yaml:"loss_cooldown"`
	MaxDrawdownCents int64         `yaml:"max_drawdown_cents"`
}

// ScheduleConfig define cuándo corre el ciclo y dónde cae el corte AM/PM.
type ScheduleConfig struct {
	Cron         []string `yaml:"cron"`
	Timezone     string   `yaml:"timezone"`
	BoundaryHour int      `yaml:"boundary_hour"`
}

// APIConfig contiene los base URLs de las APIs. Las credenciales vienen solo del entorno.
type APIConfig struct {
	KalshiBase    string `yaml:"kalshi_base"`
	NWSBase       string `yaml:"nws_base"`
	NWSUserAgent  string `yaml:"nws_user_agent"`
	KalshiKeyID   string `yaml:"-"`
	KalshiKeyPath string `yaml:"-"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// RedisConfig activa el store de dedup compartido si Addr no está vacío.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig expone /metrics si Addr no está vacío.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse aplica YAML, entorno y defaults sobre data, y valida el resultado.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("WXBOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KALSHI_API_KEY_ID"); v != "" {
		cfg.API.KalshiKeyID = v
	}
	if v := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); v != "" {
		cfg.API.KalshiKeyPath = v
	}
	if v := os.Getenv("KALSHI_API_BASE"); v != "" {
		cfg.API.KalshiBase = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	e := &cfg.Estimator
	if e.PrimaryWeight <= 0 {
		e.PrimaryWeight = 0.7
	}
	if e.BaseStd <= 0 {
		e.BaseStd = 4.0
	}
	if e.ConfidenceAttenuation <= 0 {
		e.ConfidenceAttenuation = 2.0
	}
	if e.TierStep <= 0 {
		e.TierStep = 0.2
	}
	if e.HighTierMin <= 0 {
		e.HighTierMin = 0.75
	}
	if e.MediumTierMin <= 0 {
		e.MediumTierMin = 0.55
	}
	if e.TomorrowConfidence <= 0 {
		e.TomorrowConfidence = 0.4
	}
	if e.MaxConfidence <= 0 {
		e.MaxConfidence = 0.95
	}
	if len(e.Schedule.High) == 0 {
		e.Schedule.High = []BlendStep{
			{FromHour: 0, ObservationWeight: 0.1, Confidence: 0.5, StdScale: 1},
			{FromHour: 10, ObservationWeight: 0.3, Confidence: 0.6, StdScale: 1},
			{FromHour: 11, ObservationWeight: 0.5, Confidence: 0.7, StdScale: 0.7},
			{FromHour: 14, ObservationWeight: 0.7, Confidence: 0.8, StdScale: 0.4},
			{FromHour: 18, ObservationWeight: 0.85, Confidence: 0.85, StdScale: 0.4},
		}
	}
	if len(e.Schedule.Low) == 0 {
		e.Schedule.Low = []BlendStep{
			{FromHour: 0, ObservationWeight: 0.6, Confidence: 0.7, StdScale: 0.7},
			{FromHour: 4, ObservationWeight: 0.8, Confidence: 0.8, StdScale: 0.4},
			{FromHour: 8, ObservationWeight: 0.1, Confidence: 0.5, StdScale: 1},
			{FromHour: 20, ObservationWeight: 0.4, Confidence: 0.6, StdScale: 1},
		}
	}

	l := &cfg.LockIn
	if l.HighCutoffHour <= 0 {
		l.HighCutoffHour = 18
	}
	if l.LowCutoffHour <= 0 {
		l.LowCutoffHour = 8
	}
	if l.StdDev <= 0 {
		l.StdDev = 0.3
	}
	if l.Buffer <= 0 {
		l.Buffer = 1.0
	}
	if l.Confidence <= 0 {
		l.Confidence = 0.95
	}
	if l.MinEdge <= 0 {
		l.MinEdge = 0.01
	}

	s := &cfg.Sanity
	if s.MaxForecastDivergence <= 0 {
		s.MaxForecastDivergence = 3
	}
	if s.MaxStationDivergence <= 0 {
		s.MaxStationDivergence = 8
	}
	if s.MinObservationWeight <= 0 {
		s.MinObservationWeight = 0.5
	}
	if s.MaxModelEdge <= 0 {
		s.MaxModelEdge = 0.90
	}
	if s.LiquidYesPrice <= 0 {
		s.LiquidYesPrice = 20
	}

	ed := &cfg.Edge
	if ed.MinEdge <= 0 {
		ed.MinEdge = 0.15
	}
	if ed.ProbFloor <= 0 {
		ed.ProbFloor = 0.01
	}
	if ed.ProbCeil <= 0 {
		ed.ProbCeil = 0.99
	}
	if ed.MinEntryPrice <= 0 {
		ed.MinEntryPrice = 2
	}
	if ed.MinNoYesPrice <= 0 {
		ed.MinNoYesPrice = 10
	}
	if ed.NoMargin <= 0 {
		ed.NoMargin = 3
	}

	r := &cfg.Risk
	if r.MaxTradePct <= 0 {
		r.MaxTradePct = 0.10
	}
	if r.MaxExposurePct <= 0 {
		r.MaxExposurePct = 0.40
	}
	if r.MaxContractsPerTicker <= 0 {
		r.MaxContractsPerTicker = 50
	}
	if r.MaxTradesPerCycle <= 0 {
		r.MaxTradesPerCycle = 3
	}
	if r.DefaultContracts <= 0 {
		r.DefaultContracts = 10
	}

	p := &cfg.Positions
	if p.TakeProfitPct <= 0 {
		p.TakeProfitPct = 0.35
	}
	if p.CutLossPct <= 0 {
		p.CutLossPct = 0.42
	}
	if p.MinExitPrice <= 0 {
		p.MinExitPrice = 2
	}
	if p.RollingTargetCents <= 0 {
		p.RollingTargetCents = 1000
	}
	if p.SettlementTolerance <= 0 {
		p.SettlementTolerance = 1.0
	}

	en := &cfg.Engine
	if en.CycleBudget <= 0 {
		en.CycleBudget = 4 * time.Minute
	}
	if en.CallTimeout <= 0 {
		en.CallTimeout = 15 * time.Second
	}
	if en.SubmitTimeout <= 0 {
		en.SubmitTimeout = 10 * time.Second
	}
	if en.MaxLosses <= 0 {
		en.MaxLosses = 3
	}
	if en.LossCooldown <= 0 {
		en.LossCooldown = 2 * time.Hour
	}

	if len(cfg.Schedule.Cron) == 0 {
		cfg.Schedule.Cron = []string{"0 */15 * * * *"}
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "America/New_York"
	}
	if cfg.Schedule.BoundaryHour <= 0 {
		cfg.Schedule.BoundaryHour = 12
	}

	if cfg.API.KalshiBase == "" {
		cfg.API.KalshiBase = "https://api.elections.kalshi.com"
	}
	if cfg.API.NWSBase == "" {
		cfg.API.NWSBase = "https://api.weather.gov"
	}
	if cfg.API.NWSUserAgent == "" {
		cfg.API.NWSUserAgent = "wxbot (ops@example.com)"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "wxbot.db"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 36 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate rechaza configuraciones que harían operar con límites absurdos.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Subjects) == 0 {
		errs = append(errs, errors.New("no subjects configured"))
	}
	seen := make(map[string]bool, len(c.Subjects))
	for _, s := range c.Subjects {
		if s.Code == "" || s.Primary == "" {
			errs = append(errs, fmt.Errorf("subject %q: code and primary station are required", s.Code))
		}
		if seen[s.Code] {
			errs = append(errs, fmt.Errorf("subject %q: duplicated", s.Code))
		}
		seen[s.Code] = true
		if _, err := time.LoadLocation(s.tz()); err != nil {
			errs = append(errs, fmt.Errorf("subject %q: timezone: %w", s.Code, err))
		}
	}
	if c.Risk.MaxTradePct > 1 || c.Risk.MaxExposurePct > 1 {
		errs = append(errs, errors.New("risk percentages must be fractions in (0, 1]"))
	}
	if c.Estimator.PrimaryWeight > 1 {
		errs = append(errs, errors.New("estimator.primary_weight must be in (0, 1]"))
	}
	for name, steps := range map[string][]BlendStep{"high": c.Estimator.Schedule.High, "low": c.Estimator.Schedule.Low} {
		for i, st := range steps {
			if st.FromHour < 0 || st.FromHour > 23 {
				errs = append(errs, fmt.Errorf("estimator.schedule.%s[%d]: from_hour out of range", name, i))
			}
			if i > 0 && st.FromHour <= steps[i-1].FromHour {
				errs = append(errs, fmt.Errorf("estimator.schedule.%s: steps must be sorted by from_hour", name))
			}
			if st.ObservationWeight < 0 || st.ObservationWeight > 1 {
				errs = append(errs, fmt.Errorf("estimator.schedule.%s[%d]: observation_weight out of range", name, i))
			}
		}
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	return errors.Join(errs...)
}

func (s SubjectConfig) tz() string {
	if s.Timezone == "" {
		return "America/New_York"
	}
	return s.Timezone
}

// Domain convierte la configuración de una ciudad en el tipo de dominio.
func (s SubjectConfig) Domain() (domain.Subject, error) {
	loc, err := time.LoadLocation(s.tz())
	if err != nil {
		return domain.Subject{}, fmt.Errorf("config.SubjectConfig.Domain: %s: %w", s.Code, err)
	}
	return domain.Subject{
		Code:                s.Code,
		Location:            loc,
		PrimaryStation:      s.Primary,
		SurroundingStations: s.Surrounding,
		Lat:                 s.Lat,
		Lon:                 s.Lon,
		HighSeries:          s.HighSeries,
		LowSeries:           s.LowSeries,
	}, nil
}

// ScheduleLocation devuelve la zona horaria de los ciclos.
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
