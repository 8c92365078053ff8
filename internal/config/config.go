// Package config loads the server configuration from, in increasing order of
// precedence: built-in defaults, an optional YAML file, STUDYCORE_ environment
// variables (a .env file is read first if present) and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides, e.g. STUDYCORE_STORAGE_PATH.
const EnvPrefix = "STUDYCORE_"

// Config is the server configuration.
type Config struct {
	Storage StorageConfig `koanf:"storage"`
	Log     LogConfig     `koanf:"log"`
	Badges  BadgesConfig  `koanf:"badges"`
	Quiz    QuizConfig    `koanf:"quiz"`
}

type StorageConfig struct {
	Backend string `koanf:"backend" validate:"oneof=file sqlite"`
	Path    string `koanf:"path" validate:"required"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

type BadgesConfig struct {
	// Interval between due badge refreshes. Zero disables the refresher.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`
}

type QuizConfig struct {
	SessionLength int    `koanf:"session_length" validate:"gte=1,lte=200"`
	BankDir       string `koanf:"bank_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{Backend: "file", Path: "./study.json"},
		Log:     LogConfig{Level: "info"},
		Badges:  BadgesConfig{Interval: time.Minute},
		Quiz:    QuizConfig{SessionLength: 10},
	}
}

// Flags returns the command-line flag set. Flag names map onto keys by
// turning the first dash into a dot: --storage-path sets storage.path.
func Flags() *pflag.FlagSet {
	d := Default()
	f := pflag.NewFlagSet("studycore", pflag.ContinueOnError)
	f.String("config", "", "Path to a YAML config file")
	f.String("storage-backend", d.Storage.Backend, "Storage backend: file or sqlite")
	f.String("storage-path", d.Storage.Path, "Path to the study data file or database")
	f.String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
	f.Duration("badges-interval", d.Badges.Interval, "Due badge refresh interval, 0 to disable")
	f.Int("quiz-session-length", d.Quiz.SessionLength, "Questions per listening quiz session")
	f.String("quiz-bank-dir", d.Quiz.BankDir, "Directory of listening quiz item banks")
	return f
}

func flagKey(name string) string {
	section, rest, ok := strings.Cut(name, "-")
	if !ok {
		return name
	}
	return section + "." + strings.ReplaceAll(rest, "-", "_")
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration from args (without the program name).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	flags := Flags()
	if err := flags.Parse(args); err != nil {
		return Config{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	k := koanf.New(".")
	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}
	// Unchanged flags only fill keys no other source set.
	err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		if f.Name == "config" {
			return "", nil
		}
		return flagKey(f.Name), posflag.FlagVal(flags, f)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
