/*
fast-mailer - Outbound SMTP submission client.
Copyright © 2024 fast-mailer contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package fastmailer

import (
	"errors"
	"os"
	"time"

	"github.com/youssef-of-web/fast-mailer/framework/log"
	"github.com/youssef-of-web/fast-mailer/internal/limits"
)

// AuthConfig holds the AUTH LOGIN credentials. Authentication is skipped
// when User is empty.
type AuthConfig struct {
	User string
	Pass string
}

// RateLimitConfig controls the per-recipient sending policy. Zero fields
// are filled with defaults by New.
type RateLimitConfig struct {
	// Disable turns per-recipient limiting off entirely.
	Disable bool

	BurstLimit             int
	CooldownPeriod         time.Duration
	BanDuration            time.Duration
	MaxConsecutiveFailures int
	FailureCooldown        time.Duration
	MaxRapidAttempts       int
	RapidPeriod            time.Duration

	// MaxRecipients bounds the recipient state map.
	MaxRecipients int
}

// LoggingConfig controls the structured log output.
type LoggingConfig struct {
	// Level is the minimum level written: debug, info, warn or error.
	Level string

	// Format is "json" (one object per line) or "text".
	Format string

	// CustomFields are payload field names copied into entries verbatim,
	// even when their name matches a masked sensitive field.
	CustomFields []string

	// Destination is a file path to append entries to. Empty means
	// stderr. If the destination cannot be opened, a warning is printed
	// once and logging is disabled.
	Destination string
}

type Config struct {
	// Host and Port of the relay to submit through. Required.
	Host string
	Port uint16

	// Secure enables implicit TLS on connect. Forced on for port 465.
	// When false, STARTTLS is used if the server offers it.
	Secure bool

	Auth AuthConfig

	// From is the envelope sender and From header value. Required.
	From string

	// Timeout applies to the connection establishment and to each
	// command exchange. 5s when unset.
	Timeout time.Duration

	// KeepAlive keeps the session open between sends. The session is
	// probed with NOOP and redialed when it went away.
	KeepAlive bool

	// SkipVerify disables the connection probe that normally runs before
	// each transaction.
	SkipVerify bool

	// Hostname sent in EHLO. "localhost.localdomain" when unset.
	Hostname string

	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

func (cfg *Config) setDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	rl := &cfg.RateLimit
	if rl.BurstLimit == 0 {
		rl.BurstLimit = 5
	}
	if rl.CooldownPeriod == 0 {
		rl.CooldownPeriod = time.Second
	}
	if rl.BanDuration == 0 {
		rl.BanDuration = 2 * time.Hour
	}
	if rl.MaxConsecutiveFailures == 0 {
		rl.MaxConsecutiveFailures = 3
	}
	if rl.FailureCooldown == 0 {
		rl.FailureCooldown = 5 * time.Minute
	}
	if rl.MaxRapidAttempts == 0 {
		rl.MaxRapidAttempts = 10
	}
	if rl.RapidPeriod == 0 {
		rl.RapidPeriod = 10 * time.Second
	}
	if rl.MaxRecipients == 0 {
		rl.MaxRecipients = 10000
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func (cfg Config) check() error {
	if cfg.From == "" {
		return errors.New("fastmailer: sender address is required")
	}
	if cfg.Host == "" || cfg.Port == 0 {
		return errors.New("fastmailer: relay host and port are required")
	}
	return nil
}

func (cfg RateLimitConfig) limiterConfig() limits.Config {
	return limits.Config{
		BurstLimit:             cfg.BurstLimit,
		CooldownPeriod:         cfg.CooldownPeriod,
		BanDuration:            cfg.BanDuration,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		FailureCooldown:        cfg.FailureCooldown,
		MaxRapidAttempts:       cfg.MaxRapidAttempts,
		RapidPeriod:            cfg.RapidPeriod,
		MaxRecipients:          cfg.MaxRecipients,
	}
}

// buildLogger constructs the logger described by cfg. A destination that
// cannot be opened disables logging instead of failing construction, a
// single warning goes to stderr.
func buildLogger(cfg LoggingConfig) log.Logger {
	minLevel, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.DefaultLogger.Warn("unknown log level, using info", "level", cfg.Level)
		minLevel = log.LevelInfo
	}

	var out log.Output
	if cfg.Destination != "" {
		out, err = log.FileOutput(cfg.Destination, cfg.Format)
		if err != nil {
			log.DefaultLogger.Warn("cannot open log destination, logging disabled",
				"destination", cfg.Destination, "reason", err.Error())
			out = log.NopOutput{}
		}
	} else if cfg.Format == "text" {
		out = log.TextOutput(os.Stderr, true)
	} else {
		out = log.JSONOutput(os.Stderr)
	}

	return log.Logger{
		Out:          out,
		Name:         "mailer",
		MinLevel:     minLevel,
		CustomFields: cfg.CustomFields,
	}
}
