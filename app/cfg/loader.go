package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/catalog.db" description:"Path to the SQLite catalog database"`
	ProfilesDir string `long:"profiles-dir" env:"PROFILES_DIR" default:"./profiles" description:"Directory containing portal profile files"`
	RedisURL    string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for cross-process sync locking (optional)"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers for sync tasks"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"300" description:"Scheduler interval in seconds"`
	TaskTimeout       int    `long:"task-timeout" env:"TASK_TIMEOUT" default:"900" description:"Maximum duration of a single sync task in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Portal client
	UserAgent      string  `long:"user-agent" env:"USER_AGENT" default:"Xtream Catalog/1.0" description:"User agent string for portal requests"`
	RequestTimeout int     `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"10" description:"Portal request timeout in seconds"`
	RateLimit      float64 `long:"rate-limit" env:"RATE_LIMIT" default:"5" description:"Maximum portal requests per second (0 disables pacing)"`

	// EPG matching
	NoEpgAbbreviation bool `long:"no-epg-abbreviation-match" env:"NO_EPG_ABBREVIATION_MATCH" description:"Disable matching of abbreviated EPG channel names (e.g. intl for international)"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone used to read XMLTV timestamps (e.g., UTC, Europe/Berlin)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses the given arguments instead of os.Args when args is non-nil.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:               raw.DBPath,
		ProfilesDir:          raw.ProfilesDir,
		RedisURL:             raw.RedisURL,
		Port:                 raw.Port,
		WorkerCount:          raw.WorkerCount,
		SchedulerInterval:    raw.SchedulerInterval,
		TaskTimeout:          raw.TaskTimeout,
		APIAccessKey:         raw.APIAccessKey,
		UserAgent:            raw.UserAgent,
		RequestTimeout:       raw.RequestTimeout,
		RateLimit:            raw.RateLimit,
		EpgAbbreviationMatch: !raw.NoEpgAbbreviation,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func (c *Cfg) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.SchedulerInterval < 1 {
		return fmt.Errorf("scheduler interval must be at least 1 second")
	}
	if c.RequestTimeout < 1 {
		return fmt.Errorf("request timeout must be at least 1 second")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be non-negative")
	}
	return nil
}

func (c *Cfg) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Cfg) SchedulerIntervalDuration() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}

func (c *Cfg) TaskTimeoutDuration() time.Duration {
	return time.Duration(c.TaskTimeout) * time.Second
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
