package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.cdmslim/cdmslim.yaml"
)

// Step names accepted in pipeline.skip.
const (
	StepPerson      = "person"
	StepMeasurement = "measurement"
	StepTables      = "tables"
	StepRemovals    = "removals"
	StepDownsamples = "downsamples"
	StepVisits      = "visits"
)

var knownSteps = []string{StepPerson, StepMeasurement, StepTables, StepRemovals, StepDownsamples, StepVisits}

// Config is the top-level configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Rebuild  RebuildConfig  `yaml:"rebuild,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Report   ReportConfig   `yaml:"report,omitempty"`
	Logging  LogConfig      `yaml:"logging,omitempty"`
}

// DatabaseConfig selects the engine. The database itself is given on the
// command line; DSN is only used for postgres when no argument is passed.
type DatabaseConfig struct {
	Engine string `yaml:"engine"`           // duckdb or postgres
	Schema string `yaml:"schema,omitempty"` // default main (duckdb) or public (postgres)
	DSN    string `yaml:"dsn,omitempty"`
}

// PipelineConfig holds the downsampling parameters.
type PipelineConfig struct {
	PersonSampleSize         int64               `yaml:"person_sample_size"`
	MeasurementTable         string              `yaml:"measurement_table,omitempty"`
	MeasurementPercentage    float64             `yaml:"measurement_percentage"`
	MeasurementExcludedCodes []int64             `yaml:"measurement_excluded_codes,omitempty"`
	TablePercentages         map[string]float64  `yaml:"table_percentages,omitempty"`
	RemovalCodes             map[string][]int64  `yaml:"removal_codes,omitempty"`
	ConcentratedDownsamples  []ConceptDownsample `yaml:"concentrated_downsamples,omitempty"`
	FactTables               []string            `yaml:"fact_tables,omitempty"`
	ConceptColumns           map[string]string   `yaml:"concept_columns,omitempty"`
	Skip                     []string            `yaml:"skip,omitempty"`
}

// ConceptDownsample thins a single over-represented concept in one table.
type ConceptDownsample struct {
	Table      string  `yaml:"table"`
	Code       int64   `yaml:"code"`
	Percentage float64 `yaml:"percentage"`
}

// RebuildConfig controls the export/import rebuild after sampling.
type RebuildConfig struct {
	Disabled   bool          `yaml:"disabled,omitempty"`
	ExportDir  string        `yaml:"export_dir,omitempty"` // default: temp dir
	Suffix     string        `yaml:"suffix,omitempty"`     // default: -<person sample size>, e.g. -1M
	KeepExport bool          `yaml:"keep_export,omitempty"`
	Archive    ArchiveConfig `yaml:"archive,omitempty"`
}

// ArchiveConfig uploads the Parquet export to S3 before it is discarded.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket,omitempty"` // empty disables archiving
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Profile   string `yaml:"profile,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// MetricsConfig defines where run metrics are written.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"` // node_exporter textfile path; empty disables
}

// ReportConfig defines where the run report is written.
type ReportConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.cdmslim/logs/
}

// DefaultPipeline returns the parameters used for the Synthea-derived
// 1M person extract.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		PersonSampleSize:      1_000_000,
		MeasurementTable:      "measurement",
		MeasurementPercentage: 10.0,
		// Blood pressure.
		MeasurementExcludedCodes: []int64{3012888, 3004249},
		TablePercentages: map[string]float64{
			"procedure_occurrence": 10.0,
			"observation":          10.0,
		},
		RemovalCodes: map[string][]int64{
			// Pain severity, pre/post dialysis weight difference.
			"measurement": {43055141, 44786664},
			// Assessment of health and social needs, medication reconciliation, AUDIT-C.
			"procedure_occurrence": {4627459, 4326177, 35621997},
		},
		ConcentratedDownsamples: []ConceptDownsample{
			// Dialysis.
			{Table: "procedure_occurrence", Code: 4146536, Percentage: 5.0},
		},
		FactTables: []string{
			"measurement",
			"observation",
			"condition_occurrence",
			"drug_exposure",
			"device_exposure",
			"procedure_occurrence",
		},
	}
}

// Default returns a complete configuration with default values.
func Default() *Config {
	cfg := &Config{
		Version:  CurrentVersion,
		Database: DatabaseConfig{Engine: "duckdb"},
		Pipeline: DefaultPipeline(),
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file from the given path. When path is
// empty and the default file does not exist, defaults are returned.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	// A file without a pipeline section keeps the default parameters; a file
	// with one is taken as written.
	if reflect.DeepEqual(cfg.Pipeline, PipelineConfig{}) {
		cfg.Pipeline = DefaultPipeline()
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Database.Engine == "" {
		c.Database.Engine = "duckdb"
	}
	if c.Pipeline.MeasurementTable == "" {
		c.Pipeline.MeasurementTable = "measurement"
	}
	if len(c.Pipeline.FactTables) == 0 {
		c.Pipeline.FactTables = DefaultPipeline().FactTables
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.cdmslim/logs/")
	}
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Database.Engine) {
	case "duckdb", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("database.engine: unsupported engine %q", c.Database.Engine))
	}

	p := c.Pipeline
	if p.PersonSampleSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.person_sample_size: must not be negative, got %d", p.PersonSampleSize))
	}
	if !validPercentage(p.MeasurementPercentage) {
		errs = append(errs, fmt.Errorf("pipeline.measurement_percentage: must be between 0 and 100, got %v", p.MeasurementPercentage))
	}
	for table, pct := range p.TablePercentages {
		if !validPercentage(pct) {
			errs = append(errs, fmt.Errorf("pipeline.table_percentages.%s: must be between 0 and 100, got %v", table, pct))
		}
	}
	for table, codes := range p.RemovalCodes {
		if len(codes) == 0 {
			errs = append(errs, fmt.Errorf("pipeline.removal_codes.%s: at least one code is required", table))
		}
	}
	for i, d := range p.ConcentratedDownsamples {
		if d.Table == "" {
			errs = append(errs, fmt.Errorf("pipeline.concentrated_downsamples[%d]: table is required", i))
		}
		if !validPercentage(d.Percentage) {
			errs = append(errs, fmt.Errorf("pipeline.concentrated_downsamples[%d]: percentage must be between 0 and 100, got %v", i, d.Percentage))
		}
	}
	for _, s := range p.Skip {
		if !isKnownStep(s) {
			errs = append(errs, fmt.Errorf("pipeline.skip: unknown step %q (known: %s)", s, strings.Join(knownSteps, ", ")))
		}
	}
	return errors.Join(errs...)
}

// Skips reports whether the named step is listed in pipeline.skip.
func (p PipelineConfig) Skips(step string) bool {
	for _, s := range p.Skip {
		if s == step {
			return true
		}
	}
	return false
}

func isKnownStep(step string) bool {
	for _, s := range knownSteps {
		if s == step {
			return true
		}
	}
	return false
}

func validPercentage(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 100
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Database.DSN, err = ResolveValue(c.Database.DSN)
	if err != nil {
		return fmt.Errorf("database dsn: %w", err)
	}
	return nil
}

// ResolveValue resolves secret references in a string value. Only the first
// reference is substituted; text around it is kept.
func ResolveValue(val string) (string, error) {
	loc := secretPattern.FindStringSubmatchIndex(val)
	if loc == nil {
		return val, nil
	}

	provider := val[loc[2]:loc[3]]
	ref := val[loc[4]:loc[5]]

	var (
		resolved string
		err      error
	)
	switch provider {
	case "ENV":
		resolved = os.Getenv(ref)
		if resolved == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
	case "VAULT":
		resolved, err = resolveVault(ref)
	case "AWS_SM":
		resolved, err = resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
	if err != nil {
		return "", err
	}
	return val[:loc[0]] + resolved + val[loc[1]:], nil
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
