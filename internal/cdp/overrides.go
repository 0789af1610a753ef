package cdp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

const defaultAcceptLanguage = "en-US,en;q=0.9"

var chromeToken = regexp.MustCompile(`Chrome/([\d.]+)`)

// DefaultUserAgent is the Windows Chrome UA for a major version.
func DefaultUserAgent(major string) string {
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + major + ".0.0.0 Safari/537.36"
}

type brand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// UserAgentCommand overrides the UA, Accept-Language and client hints.
func UserAgentCommand(userAgent, acceptLanguage, major string) Command {
	full := ""
	if !strings.Contains(userAgent, "Chrome/") {
		userAgent = DefaultUserAgent(major)
	} else if m := chromeToken.FindStringSubmatch(userAgent); m != nil {
		full = m[1]
	}
	if full == "" {
		full = major + ".0.0.0"
	}
	if acceptLanguage == "" {
		acceptLanguage = defaultAcceptLanguage
	}

	metadata := map[string]any{
		"brands": []brand{
			{"Chromium", major},
			{"Google Chrome", major},
			{"Not=A?Brand", "99"},
		},
		"fullVersionList": []brand{
			{"Chromium", full},
			{"Google Chrome", full},
			{"Not=A?Brand", "99.0.0.0"},
		},
		"platform":        "Windows",
		"platformVersion": "10.0.0",
		"architecture":    "x86_64",
		"model":           "",
		"mobile":          false,
	}

	return Command{
		ID:     1,
		Method: "Emulation.setUserAgentOverride",
		Params: map[string]any{
			"userAgent":         userAgent,
			"acceptLanguage":    acceptLanguage,
			"platform":          "Windows",
			"userAgentMetadata": metadata,
		},
	}
}

// TimezoneCommand overrides the IANA timezone.
func TimezoneCommand(tz string) Command {
	return Command{
		ID:     2,
		Method: "Emulation.setTimezoneOverride",
		Params: map[string]any{"timezoneId": tz},
	}
}

// GeolocationCommand overrides the reported position.
func GeolocationCommand(lat, lon, accuracy float64) Command {
	return Command{
		ID:     3,
		Method: "Emulation.setGeolocationOverride",
		Params: map[string]any{"latitude": lat, "longitude": lon, "accuracy": accuracy},
	}
}

// Geo is a position to report.
type Geo struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Overrides is the set of runtime overrides for one launch.
type Overrides struct {
	UserAgent      string
	AcceptLanguage string
	Major          string
	Timezone       string
	Geo            *Geo
}

// Apply pushes overrides to the browser on port. Every failure is logged
// and the launch is never failed; the joined error is returned for callers
// that want to report it.
func (c *Client) Apply(ctx context.Context, port int, o Overrides, logger zerolog.Logger) error {
	wsURL, err := c.DebuggerURL(ctx, port)
	if err != nil {
		logger.Warn().Err(err).Int("port", port).Msg("debug endpoint unavailable, skipping overrides")
		return err
	}

	cmds := []Command{UserAgentCommand(o.UserAgent, o.AcceptLanguage, o.Major)}
	if o.Timezone != "" {
		cmds = append(cmds, TimezoneCommand(o.Timezone))
	}
	if o.Geo != nil {
		accuracy := o.Geo.Accuracy
		if accuracy <= 0 {
			accuracy = 50
		}
		cmds = append(cmds, GeolocationCommand(o.Geo.Latitude, o.Geo.Longitude, accuracy))
	}

	var errs []error
	for _, cmd := range cmds {
		if err := c.Send(ctx, wsURL, cmd); err != nil {
			logger.Warn().Err(err).Str("method", cmd.Method).Msg("override failed")
			errs = append(errs, fmt.Errorf("%s: %w", cmd.Method, err))
			continue
		}
		logger.Debug().Str("method", cmd.Method).Msg("override applied")
	}
	return errors.Join(errs...)
}
