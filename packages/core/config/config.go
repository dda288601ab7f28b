package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/collect"
	"github.com/abdul-hamid-achik/hitrun/packages/core/hooks"
	"github.com/abdul-hamid-achik/hitrun/packages/core/runner"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schema []byte

// Config represents the hitrun configuration. Durations are in
// milliseconds; -1 disables a timeout.
type Config struct {
	Root                string   `json:"root,omitempty" yaml:"root,omitempty"`
	ProjectName         string   `json:"projectName,omitempty" yaml:"projectName,omitempty"`
	Pool                string   `json:"pool,omitempty" yaml:"pool,omitempty"`
	TestTimeout         int      `json:"testTimeout,omitempty" yaml:"testTimeout,omitempty"`
	HookTimeout         int      `json:"hookTimeout,omitempty" yaml:"hookTimeout,omitempty"`
	MaxConcurrency      int      `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty"`
	Retry               int      `json:"retry,omitempty" yaml:"retry,omitempty"`
	Repeats             int      `json:"repeats,omitempty" yaml:"repeats,omitempty"`
	Bail                int      `json:"bail,omitempty" yaml:"bail,omitempty"`
	AllowOnly           *bool    `json:"allowOnly,omitempty" yaml:"allowOnly,omitempty"`
	IncludeTaskLocation *bool    `json:"includeTaskLocation,omitempty" yaml:"includeTaskLocation,omitempty"`
	LogHeapUsage        *bool    `json:"logHeapUsage,omitempty" yaml:"logHeapUsage,omitempty"`
	Sequence            Sequence `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	TestNamePattern     string   `json:"testNamePattern,omitempty" yaml:"testNamePattern,omitempty"`
	Tags                []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Reporters           []string `json:"reporters,omitempty" yaml:"reporters,omitempty"`
	OutputDir           string   `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`
	UpdateInterval      int      `json:"updateInterval,omitempty" yaml:"updateInterval,omitempty"`
	History             string   `json:"history,omitempty" yaml:"history,omitempty"`   // sqlite file, empty disables
	Metrics             string   `json:"metrics,omitempty" yaml:"metrics,omitempty"`   // listen address for /metrics
	Notify              Notify   `json:"notify,omitempty" yaml:"notify,omitempty"`
	Verbose             *bool    `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	NoColor             *bool    `json:"noColor,omitempty" yaml:"noColor,omitempty"`
}

// Sequence holds ordering settings.
type Sequence struct {
	Hooks      string `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Shuffle    *bool  `json:"shuffle,omitempty" yaml:"shuffle,omitempty"`
	Concurrent *bool  `json:"concurrent,omitempty" yaml:"concurrent,omitempty"`
	Seed       int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Notify configures webhook notifications sent when a run finishes.
type Notify struct {
	On           string `json:"on,omitempty" yaml:"on,omitempty"`
	SlackWebhook string `json:"slackWebhook,omitempty" yaml:"slackWebhook,omitempty"`
	SlackChannel string `json:"slackChannel,omitempty" yaml:"slackChannel,omitempty"`
	TeamsWebhook string `json:"teamsWebhook,omitempty" yaml:"teamsWebhook,omitempty"`
}

// Enabled reports whether any webhook is configured.
func (n Notify) Enabled() bool {
	return n.SlackWebhook != "" || n.TeamsWebhook != ""
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		TestTimeout:    int(runner.DefaultTestTimeout / time.Millisecond),
		HookTimeout:    int(runner.DefaultHookTimeout / time.Millisecond),
		MaxConcurrency: runner.DefaultConcurrency,
		Sequence:       Sequence{Hooks: string(hooks.DefaultSequence)},
		Reporters:      []string{"console"},
		AllowOnly:      boolPtr(true),
	}
}

// boolPtr returns a pointer to a bool value
func boolPtr(b bool) *bool {
	return &b
}

// BoolPtr is exported version of boolPtr for external use
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetAllowOnly returns the allow only setting, defaulting to true
func (c *Config) GetAllowOnly() bool {
	return getBool(c.AllowOnly, true)
}

func (c *Config) GetIncludeTaskLocation() bool {
	return getBool(c.IncludeTaskLocation, false)
}

func (c *Config) GetLogHeapUsage() bool {
	return getBool(c.LogHeapUsage, false)
}

func (c *Config) GetShuffle() bool {
	return getBool(c.Sequence.Shuffle, false)
}

func (c *Config) GetConcurrent() bool {
	return getBool(c.Sequence.Concurrent, false)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// ConfigFilenames contains the possible config file names, in lookup order
var ConfigFilenames = []string{
	"hitrun.config.json",
	".hitrun.json",
	".hitrun.yaml",
	".hitrun.yml",
}

// ValidationError lists every schema violation of a config file.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Path, strings.Join(e.Errors, "; "))
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	if path := FindConfig(dir); path != "" {
		return loadConfigFromFile(path)
	}
	return DefaultConfig(), nil
}

// FindConfig returns the first config file present in dir, or "".
func FindConfig(dir string) string {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}
	return ""
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := normalize(path, data)
	if err != nil {
		return nil, err
	}
	if err := validate(path, doc); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := json.Unmarshal(doc, config); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return config, nil
}

// ValidateFile checks a config file against the schema without loading
// it.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := normalize(path, data)
	if err != nil {
		return err
	}
	return validate(path, doc)
}

// normalize turns YAML files into JSON so both formats share the schema
// and the decoder.
func normalize(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if v == nil {
			return []byte("{}"), nil
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		return out, nil
	}
	return data, nil
}

func validate(path string, doc []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{Path: path}
	for _, desc := range result.Errors() {
		verr.Errors = append(verr.Errors, desc.String())
	}
	return verr
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c

	if other.Root != "" {
		result.Root = other.Root
	}
	if other.ProjectName != "" {
		result.ProjectName = other.ProjectName
	}
	if other.Pool != "" {
		result.Pool = other.Pool
	}
	if other.TestTimeout != 0 {
		result.TestTimeout = other.TestTimeout
	}
	if other.HookTimeout != 0 {
		result.HookTimeout = other.HookTimeout
	}
	if other.MaxConcurrency > 0 {
		result.MaxConcurrency = other.MaxConcurrency
	}
	if other.Retry > 0 {
		result.Retry = other.Retry
	}
	if other.Repeats > 0 {
		result.Repeats = other.Repeats
	}
	if other.Bail > 0 {
		result.Bail = other.Bail
	}
	if other.TestNamePattern != "" {
		result.TestNamePattern = other.TestNamePattern
	}
	if other.OutputDir != "" {
		result.OutputDir = other.OutputDir
	}
	if other.UpdateInterval > 0 {
		result.UpdateInterval = other.UpdateInterval
	}
	if other.History != "" {
		result.History = other.History
	}
	if other.Metrics != "" {
		result.Metrics = other.Metrics
	}
	if other.Notify.On != "" {
		result.Notify.On = other.Notify.On
	}
	if other.Notify.SlackWebhook != "" {
		result.Notify.SlackWebhook = other.Notify.SlackWebhook
	}
	if other.Notify.SlackChannel != "" {
		result.Notify.SlackChannel = other.Notify.SlackChannel
	}
	if other.Notify.TeamsWebhook != "" {
		result.Notify.TeamsWebhook = other.Notify.TeamsWebhook
	}
	if other.Sequence.Hooks != "" {
		result.Sequence.Hooks = other.Sequence.Hooks
	}
	if other.Sequence.Seed != 0 {
		result.Sequence.Seed = other.Sequence.Seed
	}

	// Boolean flags - only override if explicitly set in other config
	if other.AllowOnly != nil {
		result.AllowOnly = other.AllowOnly
	}
	if other.IncludeTaskLocation != nil {
		result.IncludeTaskLocation = other.IncludeTaskLocation
	}
	if other.LogHeapUsage != nil {
		result.LogHeapUsage = other.LogHeapUsage
	}
	if other.Sequence.Shuffle != nil {
		result.Sequence.Shuffle = other.Sequence.Shuffle
	}
	if other.Sequence.Concurrent != nil {
		result.Sequence.Concurrent = other.Sequence.Concurrent
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	if len(other.Tags) > 0 {
		result.Tags = other.Tags
	}
	if len(other.Reporters) > 0 {
		result.Reporters = other.Reporters
	}

	return &result
}

// SaveConfig saves the configuration to a file, as YAML when the
// extension asks for it.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// RunnerConfig translates the file settings into runner settings.
// Reporters, RunTask and the logger are left to the caller.
func (c *Config) RunnerConfig() (*runner.Config, error) {
	seq, err := hooks.ParseSequence(c.Sequence.Hooks)
	if err != nil {
		return nil, err
	}
	return &runner.Config{
		TestTimeout: millis(c.TestTimeout),
		HookTimeout: millis(c.HookTimeout),
		Sequence: runner.Sequence{
			Hooks:   seq,
			Shuffle: c.GetShuffle(),
			Seed:    c.Sequence.Seed,
		},
		MaxConcurrency: c.MaxConcurrency,
		Bail:           c.Bail,
		ForbidOnly:     !c.GetAllowOnly(),
		NameFilter:     c.TestNamePattern,
		TagsFilter:     c.Tags,
		LogHeapUsage:   c.GetLogHeapUsage(),
		UpdateInterval: millis(c.UpdateInterval),
	}, nil
}

// CollectOptions returns the file-level defaults for collection.
func (c *Config) CollectOptions() collect.Options {
	return collect.Options{
		Root:            c.Root,
		ProjectName:     c.ProjectName,
		Pool:            c.Pool,
		Concurrent:      c.GetConcurrent(),
		Shuffle:         c.GetShuffle(),
		Retry:           c.Retry,
		Repeats:         c.Repeats,
		IncludeLocation: c.GetIncludeTaskLocation(),
	}
}

// millis converts a millisecond setting. Negative values stay negative
// so the runner disables the limit.
func millis(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
