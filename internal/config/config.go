package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTimezone    = "Pacific/Auckland"
	DefaultHomeAddress = "1 Willis Street, Wellington, New Zealand"
)

// ICSConfig describes a single ICS subscription the planner reads events from.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// FilterConfig controls which calendar entries are eligible for routing.
type FilterConfig struct {
	// VirtualKeywords are matched case-insensitively against the location.
	VirtualKeywords []string `yaml:"virtual_keywords" json:"virtual_keywords"`
	// BotMarkers flag events this program generated itself.
	BotMarkers []string `yaml:"bot_markers" json:"bot_markers"`
	// HomeKeywords suppress the synthetic home anchor when the first event
	// already looks like it happens at home.
	HomeKeywords []string `yaml:"home_keywords" json:"home_keywords"`
	MaxDaysAhead int      `yaml:"max_days_ahead" json:"max_days_ahead"`
}

// StaticPlace is one entry of the offline geocoding table.
type StaticPlace struct {
	Address string  `yaml:"address" json:"address"`
	Lat     float64 `yaml:"lat" json:"lat"`
	Lon     float64 `yaml:"lon" json:"lon"`
}

// GeocoderConfig selects and configures the geocoding adapter.
//
// Strategy is one of:
//   - "live":   Nominatim only
//   - "static": the Static table only
//   - "chain":  Nominatim first, then the Static table (default)
type GeocoderConfig struct {
	Strategy    string        `yaml:"strategy" json:"strategy"`
	URL         string        `yaml:"url" json:"url"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Static      []StaticPlace `yaml:"static" json:"static"`
}

// PlannerConfig selects and configures the trip-planning adapter.
//
// Strategy is one of "live" (OpenTripPlanner only), "offline" (distance
// estimate only) or "chain" (OpenTripPlanner, then the estimate).
type PlannerConfig struct {
	Strategy     string        `yaml:"strategy" json:"strategy"`
	URL          string        `yaml:"url" json:"url"`
	GraphQLPaths []string      `yaml:"graphql_paths" json:"graphql_paths"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	Retries      int           `yaml:"retries" json:"retries"`
	Parallelism  int           `yaml:"parallelism" json:"parallelism"`
}

// StopsConfig points at the Metlink GTFS API used for nearest-stop lookups.
type StopsConfig struct {
	URL    string `yaml:"url" json:"url"`
	APIKey string `yaml:"api_key" json:"-"`
}

// TracingConfig enables OTLP/HTTP trace export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Insecure bool   `yaml:"insecure" json:"insecure"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for event labels and for naive
	// timestamps (e.g. "Pacific/Auckland").
	Timezone string `yaml:"timezone" json:"timezone"`

	// HomeAddress anchors each day and fills in events without a location.
	HomeAddress string `yaml:"home_address" json:"home_address"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// driving periodic replanning in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days planned from the ICS feeds.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// OutputICS is where planned transit events are written.
	OutputICS string `yaml:"output_ics" json:"output_ics"`

	// CacheDir stores ICS HTTP cache entries.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	ICS      []ICSConfig    `yaml:"ics" json:"ics"`
	Filter   FilterConfig   `yaml:"filter" json:"filter"`
	Geocoder GeocoderConfig `yaml:"geocoder" json:"geocoder"`
	Planner  PlannerConfig  `yaml:"planner" json:"planner"`
	Stops    StopsConfig    `yaml:"stops" json:"stops"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.HomeAddress == "" {
		c.HomeAddress = DefaultHomeAddress
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OutputICS == "" {
		c.OutputICS = "./var/transit.ics"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}

	f := &c.Filter
	if f.VirtualKeywords == nil {
		f.VirtualKeywords = []string{"online", "virtual", "zoom", "meet.google", "teams", "webex", "skype", "phone"}
	}
	if f.BotMarkers == nil {
		f.BotMarkers = []string{"Transit:", "Walking:", "[TransitBot]"}
	}
	if f.HomeKeywords == nil {
		f.HomeKeywords = []string{"home", "house", "apartment", "flat"}
	}
	if f.MaxDaysAhead <= 0 {
		f.MaxDaysAhead = 30
	}

	g := &c.Geocoder
	switch g.Strategy {
	case "live", "static", "chain":
	default:
		g.Strategy = "chain"
	}
	if g.URL == "" {
		g.URL = "https://nominatim.openstreetmap.org/search"
	}
	if g.UserAgent == "" {
		g.UserAgent = "transitcal/1.0"
	}
	if g.MinInterval <= 0 {
		// Nominatim usage policy: at most one request per second.
		g.MinInterval = time.Second
	}
	if g.Timeout <= 0 {
		g.Timeout = 15 * time.Second
	}

	p := &c.Planner
	switch p.Strategy {
	case "live", "offline", "chain":
	default:
		p.Strategy = "chain"
	}
	if p.URL == "" {
		p.URL = "http://localhost:8080"
	}
	if len(p.GraphQLPaths) == 0 {
		p.GraphQLPaths = []string{
			"/otp/routers/default/index/graphql",
			"/otp/index/graphql",
			"/otp/graphql",
			"/graphql",
		}
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Parallelism <= 0 {
		p.Parallelism = 1
	}

	if c.Stops.URL == "" {
		c.Stops.URL = "https://api.opendata.metlink.org.nz/v1"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "http://localhost:4318/v1/traces"
	}
}

// Location resolves Timezone, falling back to UTC when the zone database
// does not know it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".transitcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
