package scanning

import (
	"net/url"
	"strings"
	"time"
)

// RouteFormat describes how a route's response carries the document
type RouteFormat string

const (
	FormatHTML RouteFormat = "html"
	FormatJSON RouteFormat = "json"
)

const (
	placeholderRaw     = "{url}"
	placeholderEncoded = "{url_encoded}"

	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	DefaultJSONField = "contents"

	// DirectRouteName names the request made to the locator itself
	DirectRouteName = "direct"
)

// DefaultEssentialFields are the fields a record needs to be complete
var DefaultEssentialFields = []string{
	"company_name",
	"company_cnpj",
	"street",
	"city",
	"postal_code",
	"item_count",
	"total_value",
}

// Route is an alternate way to reach the receipt document, usually a relay
// service that fetches the page on our behalf.
type Route struct {
	Name     string
	Template string
	Format   RouteFormat
	// Field names the JSON property holding the page, for json routes
	Field string
}

// Expand builds the request URL for a locator
func (r Route) Expand(locator string) string {
	switch {
	case strings.Contains(r.Template, placeholderEncoded):
		return strings.ReplaceAll(r.Template, placeholderEncoded, url.QueryEscape(locator))
	case strings.Contains(r.Template, placeholderRaw):
		return strings.ReplaceAll(r.Template, placeholderRaw, locator)
	default:
		return r.Template + locator
	}
}

var directRoute = Route{Name: DirectRouteName, Template: placeholderRaw, Format: FormatHTML}

// DefaultRoutes returns the fallback routes used when none are configured
func DefaultRoutes() []Route {
	return []Route{
		{
			Name:     "allorigins",
			Template: "https://api.allorigins.win/get?url=" + placeholderEncoded,
			Format:   FormatJSON,
			Field:    DefaultJSONField,
		},
	}
}

// Config is the immutable configuration of a Pipeline. It is read-only
// after construction and safe to share between concurrent scans.
type Config struct {
	Routes          []Route
	Timeout         time.Duration
	UserAgent       string
	EssentialFields []string
}

// DefaultConfig returns the configuration used without a config file
func DefaultConfig() Config {
	return Config{
		Routes:          DefaultRoutes(),
		Timeout:         DefaultTimeout,
		UserAgent:       DefaultUserAgent,
		EssentialFields: append([]string(nil), DefaultEssentialFields...),
	}
}
