package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tradepilot/tradepilot/pkg/calendar"
	"github.com/tradepilot/tradepilot/pkg/executor"
	"github.com/tradepilot/tradepilot/pkg/scheduler"
	"github.com/tradepilot/tradepilot/pkg/server"
	"github.com/tradepilot/tradepilot/pkg/service"
	"github.com/tradepilot/tradepilot/pkg/trader"
)

// DatabaseConfig points the durable pick and bracket services at a SQL
// database. Without it the engine runs on in-memory stores and loses
// state across restarts.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// PersistenceConfig selects the session-state backend. The facade prefers
// redis, then json, then memory.
type PersistenceConfig struct {
	Redis *service.RedisPersistenceConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
	Json  *service.JsonPersistenceConfig  `json:"json,omitempty" yaml:"json,omitempty"`
}

// SlackNotification routes trade notifications and operator alerts to
// channels. The API token comes from the environment, never from the
// config file.
type SlackNotification struct {
	DefaultChannel string `json:"defaultChannel,omitempty" yaml:"defaultChannel,omitempty"`
	AlertChannel   string `json:"alertChannel,omitempty" yaml:"alertChannel,omitempty"`
}

type NotificationConfig struct {
	Slack *SlackNotification `json:"slack,omitempty" yaml:"slack,omitempty"`
}

// BrokerConfig selects the order routing backend. "paper" keeps every
// order in process, for dry runs and tests.
type BrokerConfig struct {
	Mode string `json:"mode" yaml:"mode"`
}

type Config struct {
	Calendar  calendar.Config  `json:"calendar" yaml:"calendar"`
	Executor  executor.Config  `json:"executor" yaml:"executor"`
	Scheduler scheduler.Config `json:"scheduler" yaml:"scheduler"`
	Server    server.Config    `json:"server" yaml:"server"`
	Broker    BrokerConfig     `json:"broker" yaml:"broker"`

	Database      *DatabaseConfig     `json:"database,omitempty" yaml:"database,omitempty"`
	Persistence   *PersistenceConfig  `json:"persistence,omitempty" yaml:"persistence,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`

	// Registrations declared in the config file are registered for
	// monitoring at startup. Condition operands use custom JSON decoding,
	// so this section is re-unmarshalled through the stash instead of
	// directly from YAML.
	Registrations []*trader.Registration `json:"registrations,omitempty" yaml:"-"`
}

type Stash map[string]interface{}

func loadStash(content []byte) (Stash, error) {
	stash := make(Stash)
	if err := yaml.Unmarshal(content, stash); err != nil {
		return nil, err
	}
	return stash, nil
}

// Load parses the config file.
func Load(configFile string) (*Config, error) {
	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(content, &config); err != nil {
		return nil, err
	}

	stash, err := loadStash(content)
	if err != nil {
		return nil, err
	}

	if config.Registrations, err = loadRegistrations(stash); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadRegistrations re-unmarshals the registrations section through JSON
// so that operand payloads like {"ref":"close"} decode into their
// concrete reference types.
func loadRegistrations(stash Stash) ([]*trader.Registration, error) {
	raw, ok := stash["registrations"]
	if !ok {
		return nil, nil
	}

	plain, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "encode registrations stash")
	}

	var regs []*trader.Registration
	if err := json.Unmarshal(plain, &regs); err != nil {
		return nil, errors.Wrapf(err, "json parsing error, given payload: %s", plain)
	}

	return regs, nil
}

func (c *Config) Validate() error {
	if c.Executor.CapitalShare <= 0 {
		return errors.New("executor.capitalShare must be positive")
	}

	switch c.Broker.Mode {
	case "", "paper":
	default:
		return errors.Errorf("unsupported broker mode %q", c.Broker.Mode)
	}

	for i, reg := range c.Registrations {
		if reg == nil || reg.AnalysisID == "" || reg.Strategy == nil {
			return errors.Errorf("registration %d: analysisID and strategy are required", i+1)
		}
	}

	return nil
}
