package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads KEY=VALUE pairs from the given dotenv files into the
// process environment. Missing files are skipped; existing variables win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays TRANSITCAL_* environment variables (and LOG_LEVEL) onto
// the config. It is called once at startup; nothing reads the environment
// after that.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Timezone, "TRANSITCAL_TIMEZONE")
	set(&c.HomeAddress, "TRANSITCAL_HOME_ADDRESS")
	set(&c.Planner.URL, "TRANSITCAL_OTP_URL")
	set(&c.Geocoder.URL, "TRANSITCAL_OSM_URL")
	set(&c.Stops.APIKey, "TRANSITCAL_METLINK_API_KEY")
	set(&c.LogLevel, "LOG_LEVEL")

	c.Normalize()
}
