package config

import (
	"time"

	"github.com/zombor/nfce-tracker/internal/scanning"
)

// File is the YAML configuration of the receipt pipeline
type File struct {
	Fetch        FetchSettings        `yaml:"fetch"`
	Completeness CompletenessSettings `yaml:"completeness"`
}

// FetchSettings controls document retrieval
type FetchSettings struct {
	Timeout   int     `yaml:"timeout"` // seconds per attempt
	UserAgent string  `yaml:"user_agent"`
	Routes    []Route `yaml:"routes"`
}

// Route is a fallback retrieval route
type Route struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
	Format   string `yaml:"format"`
	Field    string `yaml:"field"`
}

// CompletenessSettings names the fields a complete receipt must carry
type CompletenessSettings struct {
	EssentialFields []string `yaml:"essential_fields"`
}

// GetTimeout returns the per-attempt timeout as a duration
func (f FetchSettings) GetTimeout() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}

// Scanning converts the file into the pipeline's configuration
func (c *File) Scanning() scanning.Config {
	routes := make([]scanning.Route, 0, len(c.Fetch.Routes))
	for _, r := range c.Fetch.Routes {
		routes = append(routes, scanning.Route{
			Name:     r.Name,
			Template: r.Template,
			Format:   scanning.RouteFormat(r.Format),
			Field:    r.Field,
		})
	}
	return scanning.Config{
		Routes:          routes,
		Timeout:         c.Fetch.GetTimeout(),
		UserAgent:       c.Fetch.UserAgent,
		EssentialFields: append([]string(nil), c.Completeness.EssentialFields...),
	}
}
