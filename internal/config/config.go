package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/y-yagi/nodachi/internal/logging"
	"github.com/y-yagi/nodachi/internal/proxy"
	"github.com/y-yagi/nodachi/internal/route"
)

const (
	DefaultPort       = "80"
	DefaultSecurePort = "443"
)

// ConfigFile is the on-disk representation. TOML, YAML and JSON share the
// same key names.
type ConfigFile struct {
	Port                   string   `toml:"port" yaml:"port" json:"port"`
	SecurePort             string   `toml:"secure_port" yaml:"secure_port" json:"secure_port"`
	UseHttp3               bool     `toml:"use_http3" yaml:"use_http3" json:"use_http3"`
	ForwardTimeoutStr      string   `toml:"forward_timeout" yaml:"forward_timeout" json:"forward_timeout"`
	UpstreamErrors         string   `toml:"upstream_errors" yaml:"upstream_errors" json:"upstream_errors"`
	RequestBodyMaxSizeStr  string   `toml:"request_body_max_size" yaml:"request_body_max_size" json:"request_body_max_size"`
	ResponseBodyMaxSizeStr string   `toml:"response_body_max_size" yaml:"response_body_max_size" json:"response_body_max_size"`
	TimelimitStr           string   `toml:"timelimit" yaml:"timelimit" json:"timelimit"`
	HTTPS                  HTTPS    `toml:"https" yaml:"https" json:"https"`
	Headers                []Header `toml:"headers" yaml:"headers" json:"headers"`
	Log                    Log      `toml:"log" yaml:"log" json:"log"`
	Routes                 []Route  `toml:"routes" yaml:"routes" json:"routes"`
}

type Config struct {
	ConfigFile
	Table               *route.Table
	Logging             *logging.Logging
	AppLogger           *logrus.Logger
	RequestBodyMaxSize  uint64
	ResponseBodyMaxSize uint64
	Timelimit           time.Duration
	ForwardTimeout      time.Duration
	UpstreamPolicy      proxy.Policy
}

type HTTPS struct {
	Keys Keys `toml:"keys" yaml:"keys" json:"keys"`
}

// Keys holds the paths of the TLS private key and certificate.
type Keys struct {
	Private string `toml:"private" yaml:"private" json:"private"`
	Public  string `toml:"public" yaml:"public" json:"public"`
}

type Header struct {
	Key   string `toml:"key" yaml:"key" json:"key"`
	Value string `toml:"value" yaml:"value" json:"value"`
}

type Log struct {
	Output string `toml:"output" yaml:"output" json:"output"`
	Format string `toml:"format" yaml:"format" json:"format"`
	Escape string `toml:"escape" yaml:"escape" json:"escape"`
	Level  string `toml:"level" yaml:"level" json:"level"`
	File   File   `toml:"file" yaml:"file" json:"file"`
}

type File struct {
	Path string `toml:"path" yaml:"path" json:"path"`
}

type Route struct {
	Path     RoutePath     `toml:"path" yaml:"path" json:"path"`
	Settings RouteSettings `toml:"settings" yaml:"settings" json:"settings"`
}

type RoutePath struct {
	From string `toml:"from" yaml:"from" json:"from"`
	To   string `toml:"to" yaml:"to" json:"to"`
}

type RouteSettings struct {
	Type   string `toml:"type" yaml:"type" json:"type"`
	Secure bool   `toml:"secure" yaml:"secure" json:"secure"`
}

func ParseConfigfile(filename string) (*Config, error) {
	cfg := &Config{}

	if len(filename) != 0 {
		f, err := os.Open(filepath.Clean(filename))
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err = decode(f, filepath.Ext(filename), &cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
	}

	if err := cfg.build(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, ext string, cf *ConfigFile) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.NewDecoder(r).Decode(cf)
	case ".json":
		return json.NewDecoder(r).Decode(cf)
	default:
		return toml.NewDecoder(r).Decode(cf)
	}
}

func (cfg *Config) build() error {
	var err error

	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.SecurePort == "" {
		cfg.SecurePort = DefaultSecurePort
	}

	if cfg.Table, err = buildTable(cfg.Routes); err != nil {
		return err
	}

	logconfig := logging.LogConfig{Output: cfg.Log.Output, Format: cfg.Log.Format, Escape: cfg.Log.Escape, FilePath: cfg.Log.File.Path}
	if cfg.Logging, err = logging.New(&logconfig); err != nil {
		return err
	}

	if cfg.AppLogger, err = logging.NewAppLogger(cfg.Log.Level, os.Stderr); err != nil {
		return err
	}

	if cfg.RequestBodyMaxSizeStr != "" {
		if cfg.RequestBodyMaxSize, err = humanize.ParseBytes(cfg.RequestBodyMaxSizeStr); err != nil {
			return err
		}
	}

	cfg.ResponseBodyMaxSize = proxy.DefaultMaxBodySize
	if cfg.ResponseBodyMaxSizeStr != "" {
		if cfg.ResponseBodyMaxSize, err = humanize.ParseBytes(cfg.ResponseBodyMaxSizeStr); err != nil {
			return err
		}
	}

	if cfg.TimelimitStr != "" {
		if cfg.Timelimit, err = time.ParseDuration(cfg.TimelimitStr); err != nil {
			return err
		}
	}

	cfg.ForwardTimeout = proxy.DefaultTimeout
	if cfg.ForwardTimeoutStr != "" {
		if cfg.ForwardTimeout, err = time.ParseDuration(cfg.ForwardTimeoutStr); err != nil {
			return err
		}
	}

	if cfg.UpstreamPolicy, err = proxy.ParsePolicy(cfg.UpstreamErrors); err != nil {
		return err
	}

	return nil
}

func buildTable(routes []Route) (*route.Table, error) {
	rcs := make([]route.RouteConfig, 0, len(routes))
	for i, r := range routes {
		kind, err := route.ParseKind(r.Settings.Type)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		if r.Path.From == "" || r.Path.To == "" {
			return nil, fmt.Errorf("routes[%d]: path.from and path.to are required", i)
		}
		rcs = append(rcs, route.RouteConfig{
			From:   r.Path.From,
			To:     r.Path.To,
			Kind:   kind,
			Secure: r.Settings.Secure,
		})
	}
	return route.NewTable(rcs), nil
}
