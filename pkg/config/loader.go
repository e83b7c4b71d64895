package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type options struct {
	prefix   string
	files    []string
	required bool
	environ  map[string]string
}

// Option configures Load.
type Option func(*options)

// WithPrefix prepends prefix to every env key, e.g. "NOTIFY_".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithEnvFiles reads the given dotenv files before parsing. Files that do
// not exist are skipped. Variables already present in the process
// environment win over file values.
func WithEnvFiles(paths ...string) Option {
	return func(o *options) { o.files = append(o.files, paths...) }
}

// WithRequiredEnvFiles is like WithEnvFiles but a missing file is an error.
func WithRequiredEnvFiles(paths ...string) Option {
	return func(o *options) {
		o.files = append(o.files, paths...)
		o.required = true
	}
}

// WithEnvironment parses environ instead of the process environment. Env
// files are still loaded into the process but do not affect the result.
func WithEnvironment(environ map[string]string) Option {
	return func(o *options) { o.environ = environ }
}

// Load parses the environment into a new T using its env tags.
//
// Example:
//
//	type ServerConfig struct {
//		Addr string `env:"ADDR" envDefault:":8080"`
//	}
//
//	cfg, err := config.Load[ServerConfig](config.WithPrefix("NOTIFY_"))
func Load[T any](opts ...Option) (T, error) {
	var zero T
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	for _, path := range o.files {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !o.required {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return zero, errors.Join(ErrEnvFile, fmt.Errorf("%s: %w", path, err))
		}
	}

	v, err := env.ParseAsWithOptions[T](env.Options{
		Prefix:      o.prefix,
		Environment: o.environ,
	})
	if err != nil {
		return zero, errors.Join(ErrParsingConfig, err)
	}
	return v, nil
}

// MustLoad works like Load but panics on failure. Use it in main for
// configuration the process cannot start without.
func MustLoad[T any](opts ...Option) T {
	v, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return v
}
