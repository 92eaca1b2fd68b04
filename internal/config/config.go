// Package config holds the client configuration, its defaults and the viper
// binding used by the CLI.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/webrtc"
)

// Mode selects what a session carries.
type Mode string

const (
	ModeMedia Mode = "media" // audio/video tracks
	ModeData  Mode = "data"  // chat over a negotiated data channel
)

// EnvPrefix is prepended to every environment variable, e.g. PEERCALL_NAME.
const EnvPrefix = "PEERCALL"

// Config stores every client parameter, whether it came from flags, the
// environment or a config file.
type Config struct {
	Name                string        `mapstructure:"name"`
	RelayURL            string        `mapstructure:"relay-url"`
	ICEServers          []string      `mapstructure:"ice-servers"`
	Audio               bool          `mapstructure:"audio"`
	Video               bool          `mapstructure:"video"`
	AspectRatio         float64       `mapstructure:"aspect-ratio"`
	Mode                Mode          `mapstructure:"mode"`
	Dialect             string        `mapstructure:"dialect"`
	NegotiationDebounce time.Duration `mapstructure:"negotiation-debounce"`
	Workers             int           `mapstructure:"workers"`
	MetricsAddr         string        `mapstructure:"metrics-addr"`
	Debug               bool          `mapstructure:"debug"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		RelayURL:    "ws://127.0.0.1:8080/ws",
		ICEServers:  append([]string(nil), webrtc.DefaultICEServers...),
		Audio:       true,
		Video:       true,
		AspectRatio: 1.333333,
		Mode:        ModeMedia,
		Dialect:     string(signaling.DialectPlain),
		Workers:     2,
	}
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("name", d.Name)
	v.SetDefault("relay-url", d.RelayURL)
	v.SetDefault("ice-servers", d.ICEServers)
	v.SetDefault("audio", d.Audio)
	v.SetDefault("video", d.Video)
	v.SetDefault("aspect-ratio", d.AspectRatio)
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("dialect", d.Dialect)
	v.SetDefault("negotiation-debounce", d.NegotiationDebounce)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("metrics-addr", d.MetricsAddr)
	v.SetDefault("debug", d.Debug)
}

// BindEnv makes v read PEERCALL_* variables, with dashes mapped to
// underscores (PEERCALL_RELAY_URL).
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a Config, normalizes the relay URL and validates it.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}

	c.Name = strings.TrimSpace(c.Name)
	if c.RelayURL != "" {
		u, err := NormalizeRelayURL(c.RelayURL)
		if err != nil {
			return Config{}, err
		}
		c.RelayURL = u
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("config: name is required")
	case c.RelayURL == "":
		return errors.New("config: relay-url is required")
	case c.Mode != ModeMedia && c.Mode != ModeData:
		return fmt.Errorf("config: unknown mode %q (want media or data)", c.Mode)
	case c.AspectRatio <= 0:
		return fmt.Errorf("config: aspect-ratio must be positive, got %v", c.AspectRatio)
	case c.Workers < 1:
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	case c.NegotiationDebounce < 0:
		return fmt.Errorf("config: negotiation-debounce must not be negative, got %s", c.NegotiationDebounce)
	}
	if _, err := signaling.ParseDialect(c.Dialect); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SignalingDialect returns the outbound offer/answer spelling.
func (c Config) SignalingDialect() signaling.Dialect {
	d, err := signaling.ParseDialect(c.Dialect)
	if err != nil {
		return signaling.DialectPlain
	}
	return d
}

// Constraints returns the capture constraints for media sessions.
func (c Config) Constraints() media.Constraints {
	mc := media.Constraints{Audio: c.Audio}
	if c.Video {
		mc.Video = &media.VideoConstraints{AspectRatio: c.AspectRatio}
	}
	return mc
}

// NormalizeRelayURL validates a relay address and turns it into a WebSocket
// URL. http(s) map to ws(s), a bare host defaults to wss, and an empty path
// becomes /ws.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
	}

	path := u.Path
	if path == "" || path == "/" {
		path = "/ws"
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, path), nil
}
