package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// SourceType identifies where a configuration value came from.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// LoadOptions controls which layers are applied on top of the defaults.
// Precedence: defaults < YAML file < environment < CLI overrides.
type LoadOptions struct {
	File      string
	Overrides map[string]any
	// Environ replaces os.Environ when non-nil.
	Environ []string
}

// Loader builds a validated *Config from layered sources.
type Loader struct {
	koanf     *koanf.Koanf
	validator *validator.Validate
	sources   map[string]SourceType
}

func NewLoader() *Loader {
	v := validator.New()
	if err := RegisterCustomValidators(v); err != nil {
		panic(fmt.Sprintf("config: register validators: %v", err))
	}
	return &Loader{
		koanf:     koanf.New("."),
		validator: v,
		sources:   make(map[string]SourceType),
	}
}

// Load is a convenience wrapper around NewLoader().Load.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return NewLoader().Load(ctx, opts)
}

func (l *Loader) Load(_ context.Context, opts LoadOptions) (*Config, error) {
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	l.track(nil, SourceDefault)
	if opts.File != "" {
		if err := l.loadYAML(opts.File); err != nil {
			return nil, err
		}
	}
	if err := l.loadEnvironment(opts.Environ); err != nil {
		return nil, err
	}
	if len(opts.Overrides) > 0 {
		before := l.snapshot()
		for key, value := range opts.Overrides {
			if err := l.koanf.Set(key, value); err != nil {
				return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
			}
		}
		l.track(before, SourceCLI)
	}
	return l.unmarshalAndValidate()
}

// GetSource reports which layer supplied the final value of a key.
func (l *Loader) GetSource(key string) SourceType {
	if src, ok := l.sources[key]; ok {
		return src
	}
	return SourceDefault
}

func (l *Loader) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	before := l.snapshot()
	for key, value := range flattenMap("", raw) {
		if err := l.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from %s: %w", key, path, err)
		}
	}
	l.track(before, SourceYAML)
	return nil
}

func (l *Loader) loadEnvironment(environ []string) error {
	envToPath := GenerateEnvToConfigMap()
	opt := env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			path, ok := envToPath[key]
			if !ok || value == "" {
				return "", nil
			}
			return path, value
		},
	}
	if environ != nil {
		opt.EnvironFunc = func() []string { return environ }
	}
	before := l.snapshot()
	if err := l.koanf.Load(env.Provider(".", opt), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	l.track(before, SourceEnv)
	return nil
}

func (l *Loader) snapshot() map[string]any {
	values := make(map[string]any)
	for _, key := range l.koanf.Keys() {
		values[key] = l.koanf.Get(key)
	}
	return values
}

// track attributes every key added or changed since before to src.
func (l *Loader) track(before map[string]any, src SourceType) {
	for _, key := range l.koanf.Keys() {
		prev, existed := before[key]
		if !existed || !reflect.DeepEqual(prev, l.koanf.Get(key)) {
			l.sources[key] = src
		}
	}
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field constraints tags cannot express.
func (l *Loader) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration cannot be nil")
	}
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCustom(cfg)
}

func validateCustom(cfg *Config) error {
	k := cfg.Knowledge
	if k.ChunkOverlap >= k.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap (%d) must be smaller than knowledge.chunk_size (%d)",
			k.ChunkOverlap, k.ChunkSize)
	}
	if k.MinChunkLength > k.ChunkSize {
		return fmt.Errorf("knowledge.min_chunk_length (%d) cannot exceed knowledge.chunk_size (%d)",
			k.MinChunkLength, k.ChunkSize)
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		return errors.New("database.path is required for the sqlite driver")
	}
	return nil
}
