// Package config loads the options recognized when a file is opened.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// config file, H5CORO_* environment variables, and option maps passed to
// Apply. The result is checked with struct tag validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/robert-malhotra/h5coro/internal/cache"
	"github.com/robert-malhotra/h5coro/internal/source"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "H5CORO"

// Options is the open options table plus the identity, endpoint and
// logging settings of a process.
type Options struct {
	Identity string `mapstructure:"identity" yaml:"identity"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`

	L1Slots            int    `mapstructure:"l1_slots" yaml:"l1_slots" validate:"gte=1"`
	L2CapacityBytes    uint64 `mapstructure:"l2_capacity_bytes" yaml:"l2_capacity_bytes" validate:"gte=1"`
	MinFetchBytes      uint64 `mapstructure:"min_fetch_bytes" yaml:"min_fetch_bytes" validate:"gte=1"`
	AlignBytes         uint64 `mapstructure:"align_bytes" yaml:"align_bytes" validate:"gte=1"`
	PrefetchAheadBytes uint64 `mapstructure:"prefetch_ahead_bytes" yaml:"prefetch_ahead_bytes" validate:"gte=1"`
	IOTimeoutMS        int    `mapstructure:"io_timeout_ms" yaml:"io_timeout_ms" validate:"gte=1"`

	// WorkerThreads sizes the parallel read pool. Zero means the batch
	// size capped at GOMAXPROCS.
	WorkerThreads int `mapstructure:"worker_threads" yaml:"worker_threads" validate:"gte=0"`

	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=CRITICAL ERROR WARNING INFO DEBUG critical error warning info debug"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=logfmt json"`
}

// Default returns the documented defaults.
func Default() Options {
	return Options{
		L1Slots:            cache.DefaultL1Slots,
		L2CapacityBytes:    cache.DefaultL2Capacity,
		MinFetchBytes:      cache.DefaultMinFetch,
		AlignBytes:         cache.DefaultAlign,
		PrefetchAheadBytes: cache.DefaultPrefetchAhead,
		IOTimeoutMS:        int(cache.DefaultIOTimeout / time.Millisecond),
		MaxRetries:         source.DefaultMaxRetries,
		LogLevel:           "WARNING",
		LogFormat:          "logfmt",
	}
}

// keys lists every option name, which viper needs to bind environment
// variables for keys that no config file mentions.
var keys = []string{
	"identity", "region", "endpoint",
	"l1_slots", "l2_capacity_bytes", "min_fetch_bytes", "align_bytes",
	"prefetch_ahead_bytes", "io_timeout_ms", "worker_threads",
	"max_retries", "requests_per_second", "log_level", "log_format",
}

// Load reads defaults, the YAML file at path (skipped when path is empty)
// and the environment.
func Load(path string) (Options, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return Options{}, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Options{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var o Options
	if err := v.Unmarshal(&o); err != nil {
		return Options{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

func setDefaults(v *viper.Viper, d Options) {
	v.SetDefault("l1_slots", d.L1Slots)
	v.SetDefault("l2_capacity_bytes", d.L2CapacityBytes)
	v.SetDefault("min_fetch_bytes", d.MinFetchBytes)
	v.SetDefault("align_bytes", d.AlignBytes)
	v.SetDefault("prefetch_ahead_bytes", d.PrefetchAheadBytes)
	v.SetDefault("io_timeout_ms", d.IOTimeoutMS)
	v.SetDefault("worker_threads", d.WorkerThreads)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Apply overlays an options map onto o. Values may be given as strings,
// as they arrive from command lines and query parameters. Unknown keys are
// an error.
func (o *Options) Apply(m map[string]any) error {
	if len(m) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           o,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("config: options: %w", err)
	}
	return o.Validate()
}

var validate = validator.New()

// Validate checks the struct tag constraints.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("config: %s: failed %q (value %v)", e.Field(), e.Tag(), e.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IOTimeout returns the underlying fetch timeout.
func (o Options) IOTimeout() time.Duration {
	return time.Duration(o.IOTimeoutMS) * time.Millisecond
}

// CacheConfig returns the range cache configuration.
func (o Options) CacheConfig() cache.Config {
	return cache.Config{
		L1Slots:       o.L1Slots,
		L2Capacity:    o.L2CapacityBytes,
		MinFetch:      o.MinFetchBytes,
		Align:         o.AlignBytes,
		PrefetchAhead: o.PrefetchAheadBytes,
		IOTimeout:     o.IOTimeout(),
	}
}

// SourceOptions returns the byte source retry and rate settings.
func (o Options) SourceOptions() source.Options {
	retries := o.MaxRetries
	if retries == 0 {
		// source treats zero as "use the default".
		retries = -1
	}
	return source.Options{
		IOTimeout:         o.IOTimeout(),
		MaxRetries:        retries,
		RequestsPerSecond: o.RequestsPerSecond,
	}
}
