package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"forest_service/internal/domain/model"
)

// Settings is the process-wide configuration, loaded once at startup.
// The core treats it as read-only.
type Settings struct {
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`

	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	Postgres struct {
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Database string `mapstructure:"database"`
	} `mapstructure:"postgres"`

	Overpass struct {
		Endpoint       string `mapstructure:"endpoint"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"overpass"`

	Raster struct {
		Endpoint  string `mapstructure:"endpoint"`
		ProjectID string `mapstructure:"project_id"`

		// Annual-loss baseline dataset
		BaselineAssetID   string `mapstructure:"baseline_asset_id"`
		DatasetVersion    string `mapstructure:"dataset_version"`
		DatasetMaxYear    int    `mapstructure:"dataset_max_year"`
		BaselineScale     int    `mapstructure:"baseline_scale_meters"`
		BaselineMaxPixels int64  `mapstructure:"baseline_max_pixels"`

		// Land cover collection for time series compositing
		Collection         string `mapstructure:"collection"`
		CompositeScale     int    `mapstructure:"composite_scale_meters"`
		CompositeMaxPixels int64  `mapstructure:"composite_max_pixels"`

		MaxRetries  int     `mapstructure:"max_retries"`
		BackoffBase float64 `mapstructure:"backoff_base"`
	} `mapstructure:"raster"`

	Analysis struct {
		TreeCoverThreshold int     `mapstructure:"tree_cover_threshold"`
		ForestThreshold    float64 `mapstructure:"forest_threshold"`
		WindowDays         int     `mapstructure:"window_days"`
		LookbackDays       int     `mapstructure:"lookback_days"`
		EnableGapFilling   bool    `mapstructure:"enable_gap_filling"`
	} `mapstructure:"analysis"`

	Scheduler struct {
		CronSchedule string `mapstructure:"cron_schedule"`
		RegionID     string `mapstructure:"region_id"`
		AnalysisDays int    `mapstructure:"analysis_days"`
	} `mapstructure:"scheduler"`

	Publisher struct {
		BindAddr string `mapstructure:"bind_addr"`
	} `mapstructure:"publisher"`
}

// Load reads settings from environment variables (prefix FOREST, nested
// keys joined with underscores: FOREST_POSTGRES_HOST) and an optional
// config.yaml in the working directory.
func Load() (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("forest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("postgres.user", "forest")
	v.SetDefault("postgres.password", "forest_dev_password")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "forest")

	v.SetDefault("overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout_seconds", 30)

	v.SetDefault("raster.endpoint", "")
	v.SetDefault("raster.project_id", "")
	v.SetDefault("raster.baseline_asset_id", "UMD/hansen/global_forest_change_2024_v1_12")
	v.SetDefault("raster.dataset_version", "v1.12")
	v.SetDefault("raster.dataset_max_year", 2024)
	v.SetDefault("raster.baseline_scale_meters", 30)
	v.SetDefault("raster.baseline_max_pixels", int64(1e9))
	v.SetDefault("raster.collection", "GOOGLE/DYNAMICWORLD/V1")
	v.SetDefault("raster.composite_scale_meters", 10)
	v.SetDefault("raster.composite_max_pixels", int64(1e10))
	v.SetDefault("raster.max_retries", 3)
	v.SetDefault("raster.backoff_base", 2.0)

	v.SetDefault("analysis.tree_cover_threshold", 30)
	v.SetDefault("analysis.forest_threshold", 0.5)
	v.SetDefault("analysis.window_days", 30)
	v.SetDefault("analysis.lookback_days", 180)
	v.SetDefault("analysis.enable_gap_filling", true)

	v.SetDefault("scheduler.cron_schedule", "")
	v.SetDefault("scheduler.region_id", "")
	v.SetDefault("scheduler.analysis_days", 365)

	v.SetDefault("publisher.bind_addr", "")
}

// Validate rejects settings the core cannot run with.
func (s *Settings) Validate() error {
	if s.Raster.Endpoint == "" {
		return fmt.Errorf("raster.endpoint is required")
	}
	if s.Raster.ProjectID == "" {
		return fmt.Errorf("raster.project_id is required")
	}
	if s.Analysis.TreeCoverThreshold < 0 || s.Analysis.TreeCoverThreshold > 100 {
		return fmt.Errorf("analysis.tree_cover_threshold must be 0-100, got %d", s.Analysis.TreeCoverThreshold)
	}
	if s.Analysis.ForestThreshold <= 0 || s.Analysis.ForestThreshold > 1 {
		return fmt.Errorf("analysis.forest_threshold must be in (0,1], got %g", s.Analysis.ForestThreshold)
	}
	if s.Raster.MaxRetries < 1 {
		return fmt.Errorf("raster.max_retries must be at least 1, got %d", s.Raster.MaxRetries)
	}
	if s.Raster.BackoffBase < 1 {
		return fmt.Errorf("raster.backoff_base must be at least 1, got %g", s.Raster.BackoffBase)
	}
	if s.Analysis.WindowDays < 1 {
		return fmt.Errorf("analysis.window_days must be at least 1, got %d", s.Analysis.WindowDays)
	}
	return nil
}

// DatabaseURL builds the Postgres connection string.
func (s *Settings) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		s.Postgres.User, s.Postgres.Password, s.Postgres.Host, s.Postgres.Port, s.Postgres.Database)
}

// RetryPolicy returns the reduction retry policy.
func (s *Settings) RetryPolicy() model.RetryPolicy {
	return model.RetryPolicy{
		MaxAttempts: s.Raster.MaxRetries,
		BackoffBase: s.Raster.BackoffBase,
	}
}

// AnalysisDefaults returns the fallbacks applied to unset request fields.
func (s *Settings) AnalysisDefaults() model.AnalysisDefaults {
	return model.AnalysisDefaults{
		WindowDays:      s.Analysis.WindowDays,
		LookbackDays:    s.Analysis.LookbackDays,
		ForestThreshold: s.Analysis.ForestThreshold,
	}
}
