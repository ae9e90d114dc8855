package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zombor/nfce-tracker/internal/scanning"
)

// Load reads and validates the configuration file at path. An empty path
// or a missing file yields the defaults.
func Load(path string) (*File, error) {
	var cfg File

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("Config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
			slog.Info("Loaded configuration", "path", path, "routes", len(cfg.Fetch.Routes))
		}
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the configuration used without a file
func Default() *File {
	var cfg File
	setDefaults(&cfg)
	return &cfg
}

func setDefaults(cfg *File) {
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = int(scanning.DefaultTimeout.Seconds())
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = scanning.DefaultUserAgent
	}
	if cfg.Fetch.Routes == nil {
		for _, r := range scanning.DefaultRoutes() {
			cfg.Fetch.Routes = append(cfg.Fetch.Routes, Route{
				Name:     r.Name,
				Template: r.Template,
				Format:   string(r.Format),
				Field:    r.Field,
			})
		}
	}
	for i := range cfg.Fetch.Routes {
		if cfg.Fetch.Routes[i].Format == "" {
			cfg.Fetch.Routes[i].Format = string(scanning.FormatHTML)
		}
		if cfg.Fetch.Routes[i].Format == string(scanning.FormatJSON) && cfg.Fetch.Routes[i].Field == "" {
			cfg.Fetch.Routes[i].Field = scanning.DefaultJSONField
		}
	}
	if len(cfg.Completeness.EssentialFields) == 0 {
		cfg.Completeness.EssentialFields = append([]string(nil), scanning.DefaultEssentialFields...)
	}
}

func validate(cfg *File) error {
	if cfg.Fetch.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	names := make(map[string]bool)
	for i, r := range cfg.Fetch.Routes {
		if r.Name == "" {
			return fmt.Errorf("route at index %d has no name", i)
		}
		if r.Name == scanning.DirectRouteName || r.Name == scanning.SnapshotRoute {
			return fmt.Errorf("route name %q is reserved", r.Name)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate route name %q", r.Name)
		}
		names[r.Name] = true

		if !strings.HasPrefix(r.Template, "http://") && !strings.HasPrefix(r.Template, "https://") {
			return fmt.Errorf("route %q template must be an http(s) URL", r.Name)
		}
		switch scanning.RouteFormat(r.Format) {
		case scanning.FormatHTML, scanning.FormatJSON:
		default:
			return fmt.Errorf("route %q has invalid format %q", r.Name, r.Format)
		}
	}

	return scanning.ValidateEssentialFields(cfg.Completeness.EssentialFields)
}
