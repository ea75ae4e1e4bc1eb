/*
Package config provides configuration management for the font cache.

Configuration is layered. Compiled-in defaults are overridden by a YAML
file, which is in turn overridden by WOWFONTS_* environment variables:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (WOWFONTS_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (NewDefault)                         │
	└─────────────────────────────────────────────┘

# Sections

	global:
	  log_level: INFO           # TRACE, DEBUG, INFO, WARN, ERROR
	  log_format: text          # text or json
	  log_file: ""              # empty for stderr
	cache:
	  directory: ~/.cache/WowFontManager/Cache
	  typeface_capacity: 50
	  thumbnail_capacity: 200
	  metadata_capacity: 500
	  persist_thumbnails: true
	  persist_metadata: true
	preview:
	  sample_text: ""          # empty picks text by locale folder
	  point_size: 18
	  width: 400
	  height: 48
	fonts:
	  root: Fonts
	  extensions: [.ttf, .otf, .ttc]
	  concurrency: 4
	monitoring:
	  metrics:
	    enabled: false
	    port: 9464
	    path: /metrics
	    namespace: fontcache

# Environment Variables

	WOWFONTS_LOG_LEVEL, WOWFONTS_LOG_FORMAT, WOWFONTS_LOG_FILE
	WOWFONTS_CACHE_DIR
	WOWFONTS_TYPEFACE_CAPACITY, WOWFONTS_THUMBNAIL_CAPACITY, WOWFONTS_METADATA_CAPACITY
	WOWFONTS_PERSIST_THUMBNAILS, WOWFONTS_PERSIST_METADATA
	WOWFONTS_SAMPLE_TEXT
	WOWFONTS_FONTS_ROOT, WOWFONTS_CONCURRENCY
	WOWFONTS_METRICS_ENABLED, WOWFONTS_METRICS_PORT

A malformed numeric or boolean override makes LoadFromEnv fail with a
CONFIG_LOAD error naming the variable.

# Usage

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
