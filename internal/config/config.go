package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/wowfontmanager/fontcache/internal/metrics"
	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "WOWFONTS_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Preview    PreviewConfig    `yaml:"preview"`
	Fonts      FontsConfig      `yaml:"fonts"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	// ComponentLevels overrides LogLevel per logging component, e.g.
	// {"diskstore": "ERROR"}
	ComponentLevels map[string]string `yaml:"component_levels,omitempty"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Directory         string `yaml:"directory"`
	TypefaceCapacity  int    `yaml:"typeface_capacity"`
	ThumbnailCapacity int    `yaml:"thumbnail_capacity"`
	MetadataCapacity  int    `yaml:"metadata_capacity"`
	PersistThumbnails bool   `yaml:"persist_thumbnails"`
	PersistMetadata   bool   `yaml:"persist_metadata"`
}

// PreviewConfig represents thumbnail rendering settings. An empty
// SampleText selects text by the locale folder of each font.
type PreviewConfig struct {
	SampleText string  `yaml:"sample_text"`
	PointSize  float64 `yaml:"point_size"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
}

// FontsConfig represents font discovery settings
type FontsConfig struct {
	Root        string   `yaml:"root"`
	Extensions  []string `yaml:"extensions"`
	Concurrency int      `yaml:"concurrency"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics metrics.Config `yaml:"metrics"`
}

// DefaultCacheDirectory returns <user cache dir>/WowFontManager/Cache
func DefaultCacheDirectory() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "WowFontManager", "Cache")
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
			LogFile:   "",
		},
		Cache: CacheConfig{
			Directory:         DefaultCacheDirectory(),
			TypefaceCapacity:  50,
			ThumbnailCapacity: 200,
			MetadataCapacity:  500,
			PersistThumbnails: true,
			PersistMetadata:   true,
		},
		Preview: PreviewConfig{
			SampleText: "",
			PointSize:  18,
			Width:      400,
			Height:     48,
		},
		Fonts: FontsConfig{
			Root:        "Fonts",
			Extensions:  []string{".ttf", ".otf", ".ttc"},
			Concurrency: 4,
		},
		Monitoring: MonitoringConfig{
			Metrics: metrics.Config{
				Enabled:   false,
				Port:      9464,
				Path:      "/metrics",
				Namespace: "fontcache",
				Labels: map[string]string{
					"service": "fontcache",
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fcerrors.Wrap(err, fcerrors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fcerrors.Wrap(err, fcerrors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numeric or boolean values are reported rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.setString("LOG_LEVEL", &c.Global.LogLevel)
	env.setString("LOG_FORMAT", &c.Global.LogFormat)
	env.setString("LOG_FILE", &c.Global.LogFile)

	// Cache settings
	env.setString("CACHE_DIR", &c.Cache.Directory)
	env.setInt("TYPEFACE_CAPACITY", &c.Cache.TypefaceCapacity)
	env.setInt("THUMBNAIL_CAPACITY", &c.Cache.ThumbnailCapacity)
	env.setInt("METADATA_CAPACITY", &c.Cache.MetadataCapacity)
	env.setBool("PERSIST_THUMBNAILS", &c.Cache.PersistThumbnails)
	env.setBool("PERSIST_METADATA", &c.Cache.PersistMetadata)

	// Preview settings
	env.setString("SAMPLE_TEXT", &c.Preview.SampleText)

	// Font discovery
	env.setString("FONTS_ROOT", &c.Fonts.Root)
	env.setInt("CONCURRENCY", &c.Fonts.Concurrency)

	// Monitoring
	env.setBool("METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	env.setInt("METRICS_PORT", &c.Monitoring.Metrics.Port)

	return env.err
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fcerrors.Wrap(err, fcerrors.ErrCodeConfigSave, "failed to marshal config").
			WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fcerrors.Wrap(err, fcerrors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config").
			WithContext("file", filename)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fcerrors.Wrap(err, fcerrors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return invalid("log_level", c.Global.LogLevel,
			"must be one of: "+strings.Join(validLogLevels, ", "))
	}

	for component, level := range c.Global.ComponentLevels {
		if !contains(validLogLevels, strings.ToUpper(level)) {
			return invalid("component_levels."+component, level,
				"must be one of: "+strings.Join(validLogLevels, ", "))
		}
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, strings.ToLower(c.Global.LogFormat)) {
		return invalid("log_format", c.Global.LogFormat,
			"must be one of: "+strings.Join(validFormats, ", "))
	}

	if c.Cache.Directory == "" && (c.Cache.PersistThumbnails || c.Cache.PersistMetadata) {
		return invalid("cache.directory", "", "required when disk persistence is enabled")
	}

	capacities := []struct {
		name  string
		value int
	}{
		{"cache.typeface_capacity", c.Cache.TypefaceCapacity},
		{"cache.thumbnail_capacity", c.Cache.ThumbnailCapacity},
		{"cache.metadata_capacity", c.Cache.MetadataCapacity},
	}
	for _, capacity := range capacities {
		if capacity.value <= 0 {
			return invalid(capacity.name, strconv.Itoa(capacity.value), "must be greater than 0")
		}
	}

	if c.Preview.PointSize <= 0 {
		return invalid("preview.point_size", strconv.FormatFloat(c.Preview.PointSize, 'g', -1, 64), "must be greater than 0")
	}
	if c.Preview.Width <= 0 || c.Preview.Height <= 0 {
		return invalid("preview.width", strconv.Itoa(c.Preview.Width)+"x"+strconv.Itoa(c.Preview.Height), "dimensions must be greater than 0")
	}

	if c.Fonts.Concurrency <= 0 {
		return invalid("fonts.concurrency", strconv.Itoa(c.Fonts.Concurrency), "must be greater than 0")
	}
	for _, ext := range c.Fonts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return invalid("fonts.extensions", ext, "extensions must start with a dot")
		}
	}

	if m := c.Monitoring.Metrics; m.Enabled {
		if m.Port < 0 || m.Port > 65535 {
			return invalid("monitoring.metrics.port", strconv.Itoa(m.Port), "must be between 0 and 65535")
		}
		if !strings.HasPrefix(m.Path, "/") {
			return invalid("monitoring.metrics.path", m.Path, "must start with /")
		}
	}

	return nil
}

func invalid(field, value, reason string) error {
	return fcerrors.NewError(fcerrors.ErrCodeConfigValidation, "invalid "+field+": "+reason).
		WithComponent("config").
		WithDetail("field", field).
		WithDetail("value", value)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// envReader applies WOWFONTS_ overrides and keeps the first parse error
type envReader struct {
	err error
}

func (r *envReader) lookup(name string) (string, bool) {
	val := os.Getenv(EnvPrefix + name)
	return val, val != ""
}

func (r *envReader) setString(name string, dst *string) {
	if val, ok := r.lookup(name); ok {
		*dst = val
	}
}

func (r *envReader) setInt(name string, dst *int) {
	val, ok := r.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		r.fail(name, val, err)
		return
	}
	*dst = n
}

func (r *envReader) setBool(name string, dst *bool) {
	val, ok := r.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		r.fail(name, val, err)
		return
	}
	*dst = b
}

func (r *envReader) fail(name, val string, err error) {
	if r.err != nil {
		return
	}
	r.err = fcerrors.Wrap(err, fcerrors.ErrCodeConfigLoad, "invalid value for "+EnvPrefix+name).
		WithComponent("config").
		WithDetail("value", val)
}
