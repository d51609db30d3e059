package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration.
//
// Defaults come from DefaultConfig, the file is decoded on top of them, then
// flag overrides apply, then Validate. The rest of the code can assume a
// well-formed config.
type Config struct {
	Spotify    SpotifyConfig    `yaml:"spotify"`
	Auth       AuthFileConfig   `yaml:"auth"`
	Input      InputConfig      `yaml:"input"`
	Privileges PrivilegesConfig `yaml:"privileges"`
	Feed       FeedConfig       `yaml:"feed"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type SpotifyConfig struct {
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	RedirectURI  string `yaml:"redirect_uri,omitempty"`

	// Used when the three fields above are empty.
	CredentialsFile string `yaml:"credentials_file"`

	APIURL    string `yaml:"api_url"`
	AuthURL   string `yaml:"auth_url"`
	TokenURL  string `yaml:"token_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type AuthFileConfig struct {
	CallbackAddr string `yaml:"callback_addr"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	OpenBrowser  bool   `yaml:"open_browser"`
}

type InputConfig struct {
	// Glob of device nodes scanned for candidates.
	Glob string `yaml:"glob"`
	// Device skips the prompt and uses this node.
	Device string `yaml:"device,omitempty"`
}

type PrivilegesConfig struct {
	Drop   bool   `yaml:"drop"`
	User   string `yaml:"user,omitempty"`
	RunDir string `yaml:"run_dir,omitempty"`
}

type FeedConfig struct {
	// ListenAddr enables the action feed WebSocket when non-empty.
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Spotify: SpotifyConfig{
			CredentialsFile: defaultCredentialsFile,
			APIURL:          defaultSpotifyAPIURL,
			AuthURL:         defaultSpotifyAuthURL,
			TokenURL:        defaultSpotifyTokenURL,
			TimeoutMS:       defaultRemoteTimeoutMS,
		},
		Auth: AuthFileConfig{
			CallbackAddr: defaultCallbackAddr,
			TimeoutSec:   defaultAuthTimeoutSec,
			OpenBrowser:  true,
		},
		Input: InputConfig{
			Glob: defaultDeviceGlob,
		},
		Privileges: PrivilegesConfig{
			Drop: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from flags that were explicitly set.
// Each non-nil pointer is applied, even if it is a zero value.
type FlagOverrides struct {
	Device       *string
	DeviceGlob   *string
	CallbackAddr *string
	NoBrowser    *bool
	NoDrop       *bool
	User         *string
	FeedAddr     *string
	LogLevel     *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Device != nil {
		cfg.Input.Device = *o.Device
	}
	if o.DeviceGlob != nil {
		cfg.Input.Glob = *o.DeviceGlob
	}
	if o.CallbackAddr != nil {
		cfg.Auth.CallbackAddr = *o.CallbackAddr
	}
	if o.NoBrowser != nil {
		cfg.Auth.OpenBrowser = !*o.NoBrowser
	}
	if o.NoDrop != nil {
		cfg.Privileges.Drop = !*o.NoDrop
	}
	if o.User != nil {
		cfg.Privileges.User = *o.User
	}
	if o.FeedAddr != nil {
		cfg.Feed.ListenAddr = *o.FeedAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Credentials are checked separately by ResolveCredentials.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"spotify.api_url":   c.Spotify.APIURL,
		"spotify.auth_url":  c.Spotify.AuthURL,
		"spotify.token_url": c.Spotify.TokenURL,
	} {
		if v == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
		if _, err := url.ParseRequestURI(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Spotify.TimeoutMS <= 0 {
		return errors.New("spotify.timeout_ms must be > 0")
	}

	if c.Auth.CallbackAddr == "" {
		return errors.New("auth.callback_addr must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Auth.CallbackAddr); err != nil {
		return fmt.Errorf("auth.callback_addr: %w", err)
	}
	if c.Auth.TimeoutSec < 0 {
		return errors.New("auth.timeout_sec must be >= 0")
	}

	if c.Input.Glob == "" && c.Input.Device == "" {
		return errors.New("input.glob must not be empty")
	}

	if c.Feed.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.Feed.ListenAddr); err != nil {
			return fmt.Errorf("feed.listen_addr: %w", err)
		}
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// RemoteTimeout is the fixed timeout applied to every remote call.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Spotify.TimeoutMS) * time.Millisecond
}

// Credentials are the OAuth client credentials.
type Credentials struct {
	ClientID     string `json:"SPOTIPY_CLIENT_ID"`
	ClientSecret string `json:"SPOTIPY_CLIENT_SECRET"`
	RedirectURI  string `json:"SPOTIPY_REDIRECT_URI"`
}

func (c Credentials) validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "redirect uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if _, err := url.ParseRequestURI(c.RedirectURI); err != nil {
		return fmt.Errorf("redirect uri: %w", err)
	}
	return nil
}

// ResolveCredentials returns the inline credentials when all are set, and
// otherwise loads spotify.credentials_file.
func (c *Config) ResolveCredentials() (Credentials, error) {
	inline := Credentials{
		ClientID:     c.Spotify.ClientID,
		ClientSecret: c.Spotify.ClientSecret,
		RedirectURI:  c.Spotify.RedirectURI,
	}
	if inline.ClientID != "" || inline.ClientSecret != "" {
		if inline.RedirectURI == "" {
			inline.RedirectURI = defaultRedirectURI
		}
		if err := inline.validate(); err != nil {
			return Credentials{}, fmt.Errorf("spotify credentials: %w", err)
		}
		return inline, nil
	}

	if c.Spotify.CredentialsFile == "" {
		return Credentials{}, errors.New("spotify credentials: set spotify.client_id/client_secret or spotify.credentials_file")
	}
	return LoadCredentialsFile(c.Spotify.CredentialsFile)
}

// LoadCredentialsFile reads a JSON credentials file with the keys
// SPOTIPY_CLIENT_ID, SPOTIPY_CLIENT_SECRET and SPOTIPY_REDIRECT_URI.
func LoadCredentialsFile(path string) (Credentials, error) {
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials file %s: %w", path, err)
	}
	if err := creds.validate(); err != nil {
		return Credentials{}, fmt.Errorf("credentials file %s: %w", path, err)
	}
	return creds, nil
}

// CallbackAddr is the address the authorization callback binds. Left at its
// default, it follows the host and port of the redirect URI.
func (c *Config) CallbackAddr(creds Credentials) string {
	if c.Auth.CallbackAddr != defaultCallbackAddr {
		return c.Auth.CallbackAddr
	}
	if addr, err := redirectListenAddr(creds.RedirectURI); err == nil {
		return addr
	}
	return c.Auth.CallbackAddr
}

// CheckCallbackAddr reports a callback address whose port differs from the
// redirect URI's. The browser would never reach such a listener.
func (c *Config) CheckCallbackAddr(creds Credentials) error {
	redirect, err := redirectListenAddr(creds.RedirectURI)
	if err != nil {
		return err
	}
	_, wantPort, _ := net.SplitHostPort(redirect)
	addr := c.CallbackAddr(creds)
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("auth.callback_addr: %w", err)
	}
	if port != wantPort {
		return fmt.Errorf("auth.callback_addr %s listens on port %s but the redirect URI %s uses port %s",
			addr, port, creds.RedirectURI, wantPort)
	}
	return nil
}

// redirectListenAddr derives host:port from an http(s) redirect URI.
func redirectListenAddr(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("redirect uri: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("redirect uri %q has no host", redirectURI)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("redirect uri %q has no port", redirectURI)
		}
	}
	return net.JoinHostPort(host, port), nil
}

// ToAuthConfig combines the config with resolved credentials.
func (c *Config) ToAuthConfig(creds Credentials) AuthConfig {
	return AuthConfig{
		ClientID:      creds.ClientID,
		ClientSecret:  creds.ClientSecret,
		RedirectURI:   creds.RedirectURI,
		Scopes:        spotifyScopes,
		AuthURL:       c.Spotify.AuthURL,
		TokenURL:      c.Spotify.TokenURL,
		APIURL:        c.Spotify.APIURL,
		CallbackAddr:  c.CallbackAddr(creds),
		CallbackWait:  time.Duration(c.Auth.TimeoutSec) * time.Second,
		RemoteTimeout: c.RemoteTimeout(),
		OpenBrowser:   c.Auth.OpenBrowser,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
