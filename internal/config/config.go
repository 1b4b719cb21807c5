// Package config loads the bot's behavior settings from an optional YAML
// file layered over built-in defaults. Credentials never live here; they
// come from the environment (see secrets.go).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
	"github.com/Ss-maker786/x-auto-post/internal/retry"
	"github.com/Ss-maker786/x-auto-post/internal/store"
)

type Config struct {
	// Timezone governs slot matching and every timestamp written back to
	// the queue.
	Timezone string `yaml:"timezone"`

	Storage store.Config  `yaml:"storage"`
	Slots   []domain.Slot `yaml:"slots"`
	Retry   Retry         `yaml:"retry"`
	API     API           `yaml:"api"`
	Search  Search        `yaml:"search"`
	Loop    Loop          `yaml:"loop"`
	Serve   Serve         `yaml:"serve"`
}

// Retry holds the delivery policy. Durations are Go duration strings
// ("5s", "2m").
type Retry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Base        string `yaml:"base"`
	Cap         string `yaml:"cap"`
}

type API struct {
	// BaseURL overrides the X API root. Empty means the real service.
	BaseURL       string `yaml:"base_url"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

// Search configures the candidate-discovery job.
type Search struct {
	Tags       []string `yaml:"tags"`
	Keywords   []string `yaml:"keywords"`
	BlockWords []string `yaml:"block_words"`
	Lang       string   `yaml:"lang"`
	MaxResults int      `yaml:"max_results"`
	Out        string   `yaml:"out"`
}

type Loop struct {
	Cron string `yaml:"cron"`
}

type Serve struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given: a CSV queue
// next to the binary, the standard four dispatch slots, JST.
func Default() Config {
	return Config{
		Timezone: "Asia/Tokyo",
		Storage:  store.Config{Driver: "csv", Path: "posts.csv"},
		Slots: []domain.Slot{
			{Start: 6, End: 9, Hour: 8},
			{Start: 10, End: 13, Hour: 12},
			{Start: 14, End: 17, Hour: 16},
			{Start: 18, End: 21, Hour: 20},
		},
		Retry:  Retry{MaxAttempts: 5, Base: "5s", Cap: "120s"},
		API:    API{RatePerMinute: 30},
		Search: Search{Lang: "ja", MaxResults: 50, Out: "candidates.csv"},
		Loop:   Loop{Cron: "0 8,12,16,20 * * *"},
		Serve:  Serve{Addr: "127.0.0.1:8080"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path skips
// the file entirely. Unknown keys are an error so a typo fails the run
// instead of silently falling back to a default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "", "csv", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path: required")
	}
	if len(c.Slots) == 0 {
		return errors.New("slots: at least one slot required")
	}
	for i, s := range c.Slots {
		if s.Start < 0 || s.End > 23 || s.Start > s.End {
			return fmt.Errorf("slots[%d]: window %d-%d out of range", i, s.Start, s.End)
		}
		if s.Hour < 0 || s.Hour > 23 {
			return fmt.Errorf("slots[%d]: hour %d out of range", i, s.Hour)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts: must be >= 1")
	}
	if _, err := c.Retry.Policy(); err != nil {
		return err
	}
	if c.API.RatePerMinute < 1 {
		return errors.New("api.rate_per_minute: must be >= 1")
	}
	if c.Search.MaxResults < 10 || c.Search.MaxResults > 100 {
		return errors.New("search.max_results: must be within 10..100")
	}
	if _, err := cron.ParseStandard(c.Loop.Cron); err != nil {
		return fmt.Errorf("loop.cron: %w", err)
	}
	if c.Serve.Addr == "" {
		return errors.New("serve.addr: required")
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Policy converts the duration strings into a runnable retry policy.
func (r Retry) Policy() (retry.Policy, error) {
	p := retry.Default()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	base, err := parseDuration("retry.base", r.Base, p.Base)
	if err != nil {
		return retry.Policy{}, err
	}
	p.Base = base
	maxDelay, err := parseDuration("retry.cap", r.Cap, p.Cap)
	if err != nil {
		return retry.Policy{}, err
	}
	p.Cap = maxDelay
	return p, nil
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be > 0", path)
	}
	return d, nil
}
