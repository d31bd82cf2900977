// Package config loads the velotrain JSON configuration file, overlaid
// on sensible defaults: a full set of viper.SetDefault calls under an
// optional JSON config read.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// MPConfig is the per measurement-point configuration block.
type MPConfig struct {
	IP       string   `mapstructure:"ip"`
	Name     string   `mapstructure:"name"`
	Active   bool     `mapstructure:"active"`
	Offset   *float64 `mapstructure:"offset"`
	Lap      string   `mapstructure:"lap"`
	Half     string   `mapstructure:"half"`
	Qtr      string   `mapstructure:"qtr"`
	Split200 string   `mapstructure:"200"`
	Split100 string   `mapstructure:"100"`
	Split50  string   `mapstructure:"50"`
}

// DHIConfig holds the scoreboard TCP destination.
type DHIConfig struct {
	IP   string
	Port int
}

// Config is the fully resolved application configuration.
type Config struct {
	Gate         string              `mapstructure:"gate"`
	GateDelay    string              `mapstructure:"gatedelay"`
	GateSrc      string              `mapstructure:"gatesrc"`
	Moto         []string            `mapstructure:"moto"`
	Trig         string              `mapstructure:"trig"`
	PassLevel    int                 `mapstructure:"passlevel"`
	UAddr        string              `mapstructure:"uaddr"`
	UPort        int                 `mapstructure:"uport"`
	Bcast        string              `mapstructure:"bcast"`
	BaseTopic    string              `mapstructure:"basetopic"`
	Sync         string              `mapstructure:"sync"`
	AuthKey      string              `mapstructure:"authkey"`
	MinSpeed     float64             `mapstructure:"minspeed"`
	MaxSpeed     float64             `mapstructure:"maxspeed"`
	MinGate      float64             `mapstructure:"mingate"`
	MaxGate      float64             `mapstructure:"maxgate"`
	DHI          []interface{}       `mapstructure:"dhi"`
	DHIEncoding  string              `mapstructure:"dhiencoding"`
	LapLen       float64             `mapstructure:"laplen"`
	MPSeq        []string            `mapstructure:"mpseq"`
	MPs          map[string]MPConfig `mapstructure:"mps"`
	MQTTBroker   string              `mapstructure:"mqttbroker"`
	MQTTClientID string              `mapstructure:"mqttclientid"`
}

// DefaultMPSeq is the standard nine-loop track ordering.
var DefaultMPSeq = []string{"C1", "C9", "C4", "C6", "C3", "C5", "C7", "C8", "C2"}

// defaults applies the built-in default values to v.
func defaults(v *viper.Viper) {
	v.SetDefault("gate", nil)
	v.SetDefault("gatedelay", "0.075")
	v.SetDefault("gatesrc", nil)
	v.SetDefault("moto", []string{})
	v.SetDefault("trig", "255")
	v.SetDefault("passlevel", 40)
	v.SetDefault("uaddr", "")
	v.SetDefault("uport", 2008)
	v.SetDefault("bcast", "255.255.255.255")
	v.SetDefault("basetopic", "velotrain")
	v.SetDefault("sync", nil)
	v.SetDefault("authkey", nil)
	v.SetDefault("minspeed", 30.0)
	v.SetDefault("maxspeed", 90.0)
	v.SetDefault("mingate", 9.0)
	v.SetDefault("maxgate", 22.5)
	v.SetDefault("dhi", nil)
	v.SetDefault("dhiencoding", "utf-8")
	v.SetDefault("laplen", 250.0)
	v.SetDefault("mpseq", DefaultMPSeq)
	v.SetDefault("mps", map[string]interface{}{})
	v.SetDefault("mqttbroker", "tcp://localhost:1883")
	v.SetDefault("mqttclientid", "velotrain")
}

// Load reads the configuration at path, overlaying the on-disk JSON (if
// present) on the built-in defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
			logrus.Debugf("Config file %s not found, using defaults", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.MPSeq) == 0 {
		cfg.MPSeq = DefaultMPSeq
	}
	// viper lowercases map keys on read; mp ids are canonically "C1".."C9"
	mps := make(map[string]MPConfig, len(cfg.MPs))
	for k, v := range cfg.MPs {
		mps[strings.ToUpper(k)] = v
	}
	cfg.MPs = mps
	return cfg, cfg.validate()
}

// validate enforces the configuration errors that are fatal at
// startup: an empty basetopic. The absence of a top-of-minute source
// MP is not rejected here or anywhere else: internal/engine.New only
// logs a warning for it and runs without status/env triggers.
func (c *Config) validate() error {
	if c.BaseTopic == "" {
		return fmt.Errorf("config: invalid basetopic %q, system inoperable", c.BaseTopic)
	}
	return nil
}

// DHIAddr returns the configured DHI host/port, if any.
func (c *Config) DHIAddr() (host string, port int, ok bool) {
	if len(c.DHI) != 2 {
		return "", 0, false
	}
	h, ok1 := c.DHI[0].(string)
	var p int
	switch pv := c.DHI[1].(type) {
	case int:
		p = pv
	case float64:
		p = int(pv)
	default:
		return "", 0, false
	}
	if !ok1 || h == "" || p <= 0 {
		return "", 0, false
	}
	return h, p, true
}
