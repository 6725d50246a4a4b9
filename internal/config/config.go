// Package config loads tool configuration from defaults, an optional config
// file, environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-melgv/internal/mel"
)

type Config struct {
	Paths PathsConfig `mapstructure:"paths"`
	Data  DataConfig  `mapstructure:"data"`
	Mel   MelConfig   `mapstructure:"mel"`
	Log   LogConfig   `mapstructure:"log"`
}

type PathsConfig struct {
	ValidationManifest string `mapstructure:"validation_manifest"`
	TokenizerModel     string `mapstructure:"tokenizer_model"`
	ORTLibraryPath     string `mapstructure:"ort_library_path"`
}

type DataConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	NumWorkers    int `mapstructure:"num_workers"`
	FramesPerStep int `mapstructure:"frames_per_step"`
}

type MelConfig struct {
	SampleRate  int     `mapstructure:"sample_rate"`
	FrameLength int     `mapstructure:"frame_length"`
	FrameShift  int     `mapstructure:"frame_shift"`
	NMels       int     `mapstructure:"n_mels"`
	FMin        float64 `mapstructure:"f_min"`
	FMax        float64 `mapstructure:"f_max"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ValidationManifest: "data/validation/manifest.json",
			TokenizerModel:     "",
			ORTLibraryPath:     "",
		},
		Data: DataConfig{
			BatchSize:     6,
			NumWorkers:    0,
			FramesPerStep: 1,
		},
		Mel: MelConfig{
			SampleRate:  24000,
			FrameLength: 1024,
			FrameShift:  256,
			NMels:       80,
			FMin:        0,
			FMax:        8000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects settings no run can work with. Batch composition never
// changes the computed statistics, but the data loader still needs sane
// values to build batches at all.
func (c Config) Validate() error {
	if c.Data.BatchSize <= 0 {
		return fmt.Errorf("config: data.batch_size %d must be > 0", c.Data.BatchSize)
	}

	if c.Data.NumWorkers != 0 {
		return fmt.Errorf("config: data.num_workers %d is unsupported; loading is sequential", c.Data.NumWorkers)
	}

	if c.Data.FramesPerStep <= 0 {
		return fmt.Errorf("config: data.frames_per_step %d must be > 0", c.Data.FramesPerStep)
	}

	return nil
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-validation-manifest", defaults.Paths.ValidationManifest, "Path to the validation set manifest")
	fs.String("paths-tokenizer-model", defaults.Paths.TokenizerModel, "Path to a SentencePiece model for text entries")
	fs.String("paths-ort-library-path", defaults.Paths.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Paths.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --paths-ort-library-path)")
	fs.Int("data-batch-size", defaults.Data.BatchSize, "Validation batch size")
	fs.Int("data-num-workers", defaults.Data.NumWorkers, "Data loading workers (must be 0)")
	fs.Int("data-frames-per-step", defaults.Data.FramesPerStep, "Frame count multiple for padded batches")
	fs.Int("mel-sample-rate", defaults.Mel.SampleRate, "Audio sample rate for spectrogram extraction")
	fs.Int("mel-frame-length", defaults.Mel.FrameLength, "Spectrogram frame length in samples")
	fs.Int("mel-frame-shift", defaults.Mel.FrameShift, "Spectrogram hop size in samples")
	fs.Int("mel-n-mels", defaults.Mel.NMels, "Number of mel channels")
	fs.Float64("mel-f-min", defaults.Mel.FMin, "Lowest mel filterbank frequency in Hz")
	fs.Float64("mel-f-max", defaults.Mel.FMax, "Highest mel filterbank frequency in Hz")
	fs.String("log-level", defaults.Log.Level, "Log level (debug, info, warn, error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	// Viper keeps a single target per alias, so --ort-lib cannot share the
	// paths.ort_library_path alias with the long flag. Apply it explicitly
	// when set.
	if opts.Cmd != nil {
		if f := opts.Cmd.Flags().Lookup("ort-lib"); f != nil && f.Changed {
			v.Set("paths.ort_library_path", f.Value.String())
		}
	}

	v.SetEnvPrefix("MELGV")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("paths.ort_library_path", "MELGV_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("melgv")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.validation_manifest", c.Paths.ValidationManifest)
	v.SetDefault("paths.tokenizer_model", c.Paths.TokenizerModel)
	v.SetDefault("paths.ort_library_path", c.Paths.ORTLibraryPath)
	v.SetDefault("data.batch_size", c.Data.BatchSize)
	v.SetDefault("data.num_workers", c.Data.NumWorkers)
	v.SetDefault("data.frames_per_step", c.Data.FramesPerStep)
	v.SetDefault("mel.sample_rate", c.Mel.SampleRate)
	v.SetDefault("mel.frame_length", c.Mel.FrameLength)
	v.SetDefault("mel.frame_shift", c.Mel.FrameShift)
	v.SetDefault("mel.n_mels", c.Mel.NMels)
	v.SetDefault("mel.f_min", c.Mel.FMin)
	v.SetDefault("mel.f_max", c.Mel.FMax)
	v.SetDefault("log.level", c.Log.Level)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.validation_manifest", "paths-validation-manifest")
	v.RegisterAlias("paths.tokenizer_model", "paths-tokenizer-model")
	v.RegisterAlias("paths.ort_library_path", "paths-ort-library-path")
	v.RegisterAlias("data.batch_size", "data-batch-size")
	v.RegisterAlias("data.num_workers", "data-num-workers")
	v.RegisterAlias("data.frames_per_step", "data-frames-per-step")
	v.RegisterAlias("mel.sample_rate", "mel-sample-rate")
	v.RegisterAlias("mel.frame_length", "mel-frame-length")
	v.RegisterAlias("mel.frame_shift", "mel-frame-shift")
	v.RegisterAlias("mel.n_mels", "mel-n-mels")
	v.RegisterAlias("mel.f_min", "mel-f-min")
	v.RegisterAlias("mel.f_max", "mel-f-max")
	v.RegisterAlias("log.level", "log-level")
}

// MelExtractorConfig converts the mel section into extraction parameters.
func (c Config) MelExtractorConfig() mel.Config {
	return mel.Config{
		SampleRate:  c.Mel.SampleRate,
		FrameLength: c.Mel.FrameLength,
		FrameShift:  c.Mel.FrameShift,
		NMels:       c.Mel.NMels,
		FMin:        c.Mel.FMin,
		FMax:        c.Mel.FMax,
	}
}
