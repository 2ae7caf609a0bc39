// Package config loads the settings of the lpc binary from a YAML file, the
// environment (LPC_ prefix) and defaults, in that order of precedence after
// command line flags.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mini-lpc/broker"
	"mini-lpc/client"
	"mini-lpc/registry"
	"mini-lpc/service"
)

// Config holds the complete configuration
type Config struct {
	Rendezvous RendezvousConfig `mapstructure:"rendezvous" yaml:"rendezvous"`
	Broker     BrokerConfig     `mapstructure:"broker"     yaml:"broker"`
	Service    ServiceConfig    `mapstructure:"service"    yaml:"service"`
	Client     ClientConfig     `mapstructure:"client"     yaml:"client"`
	Log        LogConfig        `mapstructure:"log"        yaml:"log"`
}

type RendezvousConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// BrokerConfig holds broker configuration. An empty etcd endpoint list
// disables the registration mirror.
type BrokerConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxFrameSize   int           `mapstructure:"max_frame_size"  yaml:"max_frame_size"`
	AdminAddr      string        `mapstructure:"admin_addr"      yaml:"admin_addr"`
	EtcdEndpoints  []string      `mapstructure:"etcd_endpoints"  yaml:"etcd_endpoints"`
	EtcdPrefix     string        `mapstructure:"etcd_prefix"     yaml:"etcd_prefix"`
	EtcdTTL        time.Duration `mapstructure:"etcd_ttl"        yaml:"etcd_ttl"`
}

// ServiceConfig holds service endpoint configuration. A zero rate limit
// disables limiting.
type ServiceConfig struct {
	AccessPath       string        `mapstructure:"access_path"       yaml:"access_path"`
	Version          string        `mapstructure:"version"           yaml:"version"`
	InstallPipe      string        `mapstructure:"install_pipe"      yaml:"install_pipe"`
	CallPipe         string        `mapstructure:"call_pipe"         yaml:"call_pipe"`
	ReturnPipe       string        `mapstructure:"return_pipe"       yaml:"return_pipe"`
	Workers          int           `mapstructure:"workers"           yaml:"workers"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"      yaml:"call_timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"        yaml:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"        yaml:"rate_burst"`
}

type ClientConfig struct {
	AccessPath     string        `mapstructure:"access_path"      yaml:"access_path"`
	ResponsePipe   string        `mapstructure:"response_pipe"    yaml:"response_pipe"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"  yaml:"connect_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"     yaml:"call_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"   yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	MaxRequeue     int           `mapstructure:"max_requeue"      yaml:"max_requeue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Load reads configPath when it is not empty, then overlays LPC_* environment
// variables (LPC_BROKER_REQUEST_TIMEOUT for broker.request_timeout) and
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("LPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	sd := service.DefaultConfig()
	cd := client.DefaultConfig()
	bd := broker.DefaultConfig()

	v.SetDefault("rendezvous.root", ".")

	v.SetDefault("broker.request_timeout", bd.RequestTimeout)
	v.SetDefault("broker.max_frame_size", bd.MaxFrameSize)
	v.SetDefault("broker.admin_addr", broker.DefaultAdminConfig().ListenAddr)
	v.SetDefault("broker.etcd_endpoints", []string{})
	v.SetDefault("broker.etcd_prefix", registry.DefaultEtcdPrefix)
	v.SetDefault("broker.etcd_ttl", registry.DefaultEtcdTTL)

	v.SetDefault("service.access_path", sd.AccessPath)
	v.SetDefault("service.version", sd.Version)
	v.SetDefault("service.install_pipe", sd.InstallPipe)
	v.SetDefault("service.call_pipe", sd.CallPipe)
	v.SetDefault("service.return_pipe", sd.ReturnPipe)
	v.SetDefault("service.workers", sd.Workers)
	v.SetDefault("service.handshake_timeout", sd.HandshakeTimeout)
	v.SetDefault("service.call_timeout", sd.CallTimeout)
	v.SetDefault("service.rate_limit", 0.0)
	v.SetDefault("service.rate_burst", 1)

	v.SetDefault("client.access_path", cd.AccessPath)
	v.SetDefault("client.response_pipe", "")
	v.SetDefault("client.connect_timeout", cd.ConnectTimeout)
	v.SetDefault("client.call_timeout", cd.CallTimeout)
	v.SetDefault("client.retry_attempts", cd.RetryAttempts)
	v.SetDefault("client.retry_base_delay", cd.RetryBaseDelay)
	v.SetDefault("client.max_requeue", cd.MaxRequeue)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Rendezvous.Root) == "" {
		return fmt.Errorf("rendezvous.root must not be empty")
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateService(); err != nil {
		return err
	}
	return c.validateClient()
}

func (c *Config) validateBroker() error {
	if c.Broker.RequestTimeout <= 0 {
		return fmt.Errorf("broker.request_timeout must be positive")
	}
	if c.Broker.MaxFrameSize < 0 {
		return fmt.Errorf("broker.max_frame_size must not be negative, got %d", c.Broker.MaxFrameSize)
	}
	if len(c.Broker.EtcdEndpoints) > 0 && c.Broker.EtcdTTL < time.Second {
		return fmt.Errorf("broker.etcd_ttl must be at least 1s when etcd is enabled")
	}
	return nil
}

func (c *Config) validateService() error {
	s := c.Service
	if !strings.HasPrefix(s.AccessPath, "/") {
		return fmt.Errorf("service.access_path must start with '/', got %q", s.AccessPath)
	}
	if s.InstallPipe == "" || s.CallPipe == "" || s.ReturnPipe == "" {
		return fmt.Errorf("service.install_pipe, service.call_pipe and service.return_pipe are required")
	}
	if s.CallPipe == s.ReturnPipe {
		return fmt.Errorf("service.call_pipe and service.return_pipe must differ")
	}
	if s.Workers < 1 {
		return fmt.Errorf("service.workers must be positive, got %d", s.Workers)
	}
	if s.HandshakeTimeout <= 0 {
		return fmt.Errorf("service.handshake_timeout must be positive")
	}
	if s.RateLimit < 0 || (s.RateLimit > 0 && s.RateBurst < 1) {
		return fmt.Errorf("service.rate_limit needs a positive rate_burst")
	}
	return nil
}

func (c *Config) validateClient() error {
	if !strings.HasPrefix(c.Client.AccessPath, "/") {
		return fmt.Errorf("client.access_path must start with '/', got %q", c.Client.AccessPath)
	}
	if c.Client.ConnectTimeout <= 0 {
		return fmt.Errorf("client.connect_timeout must be positive")
	}
	if c.Client.RetryAttempts < 1 {
		return fmt.Errorf("client.retry_attempts must be positive, got %d", c.Client.RetryAttempts)
	}
	if c.Client.MaxRequeue < 0 {
		return fmt.Errorf("client.max_requeue must not be negative")
	}
	return nil
}

func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		Root:           c.Rendezvous.Root,
		RequestTimeout: c.Broker.RequestTimeout,
		MaxFrameSize:   c.Broker.MaxFrameSize,
	}
}

func (c *Config) AdminConfig() broker.AdminConfig {
	cfg := broker.DefaultAdminConfig()
	cfg.ListenAddr = c.Broker.AdminAddr
	return cfg
}

func (c *Config) EtcdConfig() registry.EtcdConfig {
	return registry.EtcdConfig{
		Endpoints: c.Broker.EtcdEndpoints,
		Prefix:    c.Broker.EtcdPrefix,
		TTL:       c.Broker.EtcdTTL,
	}
}

func (c *Config) ServiceConfig() service.Config {
	cfg := service.DefaultConfig()
	cfg.Root = c.Rendezvous.Root
	cfg.AccessPath = c.Service.AccessPath
	cfg.Version = c.Service.Version
	cfg.InstallPipe = c.Service.InstallPipe
	cfg.CallPipe = c.Service.CallPipe
	cfg.ReturnPipe = c.Service.ReturnPipe
	cfg.Workers = c.Service.Workers
	cfg.HandshakeTimeout = c.Service.HandshakeTimeout
	cfg.CallTimeout = c.Service.CallTimeout
	return cfg
}

func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.Root = c.Rendezvous.Root
	cfg.AccessPath = c.Client.AccessPath
	cfg.ResponsePipe = c.Client.ResponsePipe
	cfg.ConnectTimeout = c.Client.ConnectTimeout
	cfg.CallTimeout = c.Client.CallTimeout
	cfg.RetryAttempts = c.Client.RetryAttempts
	cfg.RetryBaseDelay = c.Client.RetryBaseDelay
	cfg.MaxRequeue = c.Client.MaxRequeue
	return cfg
}

// WriteYAML writes cfg as a YAML document Load can read back. Durations are
// written in time.Duration string form.
func WriteYAML(w io.Writer, cfg *Config) error {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return err
	}
	formatDurations(&doc, durationKeys)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

var durationKeys = map[string]bool{
	"request_timeout":   true,
	"etcd_ttl":          true,
	"handshake_timeout": true,
	"call_timeout":      true,
	"connect_timeout":   true,
	"retry_base_delay":  true,
}

// formatDurations rewrites the integer nanosecond values yaml.v3 produces for
// time.Duration fields into strings such as "5s".
func formatDurations(n *yaml.Node, keys map[string]bool) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if keys[k.Value] && v.Kind == yaml.ScalarNode {
				var ns int64
				if err := v.Decode(&ns); err == nil {
					v.Tag = "!!str"
					v.Value = time.Duration(ns).String()
				}
			}
		}
	}
	for _, c := range n.Content {
		formatDurations(c, keys)
	}
}
