// Package config parses the gateway's CLI flags and optional YAML tuning
// overrides, mirroring the original's Args/OneRpcConfig split: flags name
// the operational surface (listen address, demo mode, routes file, TLS
// material prefix), the tuning file overrides size/timeout/limit defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default tuning constants, pulled from the original's app.rs Getter<OneRpcConfig>.
const (
	DefaultHTTPMaxBodyLength = 2 << 20
	DefaultWSFrameSize       = 64 << 10
	DefaultWSKeepAlive       = 10 * time.Second
	DefaultWSMaxBodyLength   = 2 << 20
	DefaultPoolSize          = 2
	DefaultRequestTimeout    = 20 * time.Second
	DefaultMetricsAddr       = "127.0.0.1:9464"
	DefaultLogLevel          = "info"
)

// Args is the parsed CLI flag surface: -a, -d, -r, -t/--tls, and the added -c.
type Args struct {
	Addr       string
	IsDemo     bool
	Routes     string
	TLS        string
	TuningPath string
}

// ParseArgs parses args (excluding the program name) into Args, applying the
// same defaults as the original's Args::default().
func ParseArgs(args []string) (Args, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	a := Args{}
	fs.StringVar(&a.Addr, "a", "0.0.0.0:3400", "listen address")
	fs.BoolVar(&a.IsDemo, "d", true, "demo mode")
	fs.StringVar(&a.Routes, "r", "config.json", "routes file path")
	fs.StringVar(&a.TLS, "t", "", "TLS material prefix (PATH.crt / PATH.key)")
	fs.StringVar(&a.TLS, "tls", "", "TLS material prefix (PATH.crt / PATH.key)")
	fs.StringVar(&a.TuningPath, "c", "", "tuning config YAML path")
	if err := fs.Parse(args); err != nil {
		return Args{}, fmt.Errorf("config: parse args: %w", err)
	}
	return a, nil
}

// Tuning holds the operational limits/timeouts, overridable via an optional
// YAML file and falling back to the built-in defaults when unset.
type Tuning struct {
	HTTPMaxBodyLength int           `yaml:"http_max_body_length"`
	WSFrameSize       int           `yaml:"ws_frame_size"`
	WSKeepAlive       time.Duration `yaml:"ws_keep_alive"`
	WSMaxBodyLength   int           `yaml:"ws_max_body_length"`
	PoolSize          int           `yaml:"pool_size"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	LogLevel          string        `yaml:"log_level"`
}

// DefaultTuning returns the built-in defaults named in SPEC_FULL.md §6 and
// the original Rust app.rs.
func DefaultTuning() Tuning {
	return Tuning{
		HTTPMaxBodyLength: DefaultHTTPMaxBodyLength,
		WSFrameSize:       DefaultWSFrameSize,
		WSKeepAlive:       DefaultWSKeepAlive,
		WSMaxBodyLength:   DefaultWSMaxBodyLength,
		PoolSize:          DefaultPoolSize,
		RequestTimeout:    DefaultRequestTimeout,
		MetricsAddr:       DefaultMetricsAddr,
		LogLevel:          DefaultLogLevel,
	}
}

// LoadTuning reads and parses the optional YAML tuning file at path,
// starting from DefaultTuning and overlaying whatever fields are present.
// An empty path returns the defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("config: read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, fmt.Errorf("config: parse tuning file: %w", err)
	}
	return t, nil
}

// TLSMaterial derives the cert/key file paths named by the -t/--tls prefix,
// if set; it does not read or check the files.
// An empty prefix means TLS is disabled, matching the original's
// tls.as_str() == "" branch.
func TLSMaterial(prefix string) (certPath, keyPath string, ok bool) {
	if prefix == "" {
		return "", "", false
	}
	return prefix + ".crt", prefix + ".key", true
}
