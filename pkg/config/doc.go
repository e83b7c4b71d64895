// Package config loads typed configuration from the process environment.
//
// It wraps github.com/caarlos0/env/v11 for struct parsing and
// github.com/joho/godotenv for optional dotenv files. Every component in
// this module exposes a Config struct with env and envDefault tags; the
// daemon nests them under envPrefix tags and loads the whole tree once.
//
// # Usage
//
//	type Config struct {
//		Addr  string        `env:"ADDR" envDefault:":8080"`
//		Queue queue.Config  `envPrefix:"QUEUE_"`
//	}
//
//	cfg, err := config.Load[Config](
//		config.WithPrefix("NOTIFY_"),
//		config.WithEnvFiles(".env"),
//	)
//
// Variables already set in the environment take precedence over values
// read from files, so a deployment can override a checked-in .env.
//
// # Errors
//
// Parsing failures wrap ErrParsingConfig, unreadable files wrap ErrEnvFile.
// MustLoad panics with the same message and is meant for main.
package config
