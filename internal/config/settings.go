package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings tunes the engine. Everything has a default, so a missing file
// is not an error.
type Settings struct {
	Notify struct {
		AMQPURL    string `yaml:"amqp_url"`
		Exchange   string `yaml:"exchange"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"notify"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		Database int    `yaml:"database"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Catalog struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"catalog"`

	QuickReply struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"quick_reply"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Realtime struct {
		PingTimeout      time.Duration `yaml:"ping_timeout"`
		PresenceInterval time.Duration `yaml:"presence_interval"`
		MinBackoff       time.Duration `yaml:"min_backoff"`
		MaxBackoff       time.Duration `yaml:"max_backoff"`
	} `yaml:"realtime"`

	Snapshot struct {
		MessageLimit int `yaml:"message_limit"`
	} `yaml:"snapshot"`
}

// LoadSettings reads comma-separated YAML files ("common.yml,desk.yml").
// Later files override earlier ones. An empty list yields defaults.
func LoadSettings(pathList string) (*Settings, error) {
	var s Settings
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read settings %s: %w", p, err)
		}
		if err := yaml.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", p, err)
		}
	}
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Notify.Exchange == "" {
		s.Notify.Exchange = "convo.events"
	}
	if s.Notify.RoutingKey == "" {
		s.Notify.RoutingKey = "conversations.waiting"
	}
	if s.Redis.Prefix == "" {
		s.Redis.Prefix = "convo"
	}
	if s.Catalog.TTL == 0 {
		s.Catalog.TTL = 10 * time.Minute
	}
	if s.QuickReply.Prefix == "" {
		s.QuickReply.Prefix = "/"
	}
	if s.Realtime.PingTimeout == 0 {
		s.Realtime.PingTimeout = 15 * time.Second
	}
	if s.Realtime.PresenceInterval == 0 {
		s.Realtime.PresenceInterval = 30 * time.Second
	}
	if s.Realtime.MinBackoff == 0 {
		s.Realtime.MinBackoff = 2 * time.Second
	}
	if s.Realtime.MaxBackoff == 0 {
		s.Realtime.MaxBackoff = 30 * time.Second
	}
	if s.Snapshot.MessageLimit <= 0 {
		s.Snapshot.MessageLimit = 50
	}
}

func (s *Settings) validate() error {
	if s.Realtime.MinBackoff > s.Realtime.MaxBackoff {
		return fmt.Errorf("realtime.min_backoff (%s) exceeds realtime.max_backoff (%s)", s.Realtime.MinBackoff, s.Realtime.MaxBackoff)
	}
	if s.Catalog.TTL < 0 {
		return fmt.Errorf("catalog.ttl must not be negative")
	}
	return nil
}
