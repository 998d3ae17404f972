package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"bbpwm/internal/header"
	"bbpwm/internal/pwm"
)

type Config struct {
	SysfsBase     string          `yaml:"sysfs_base"`
	Capemgr       CapemgrConfig   `yaml:"capemgr"`
	Log           LogConfig       `yaml:"log"`
	HTTP          HTTPConfig      `yaml:"http"`
	CleanupOnExit bool            `yaml:"cleanup_on_exit"`
	Channels      []ChannelConfig `yaml:"channels"`
}

type CapemgrConfig struct {
	Enable bool `yaml:"enable"`
	// Slots overrides the search for the cape manager slots file.
	Slots  string        `yaml:"slots"`
	Settle time.Duration `yaml:"settle"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// ChannelConfig is a channel started at boot.
type ChannelConfig struct {
	Pin       string        `yaml:"pin"`
	Duty      *int          `yaml:"duty"`
	Frequency string        `yaml:"frequency"`
	Period    time.Duration `yaml:"period"`
	Polarity  string        `yaml:"polarity"`
	Run       *bool         `yaml:"run"`

	// Filled in by Load.
	PinID       header.PinID `yaml:"-"`
	FrequencyHz int64        `yaml:"-"`
	polarity    *pwm.Polarity
}

// Options translates the channel into Start options.
func (c ChannelConfig) Options() []pwm.StartOption {
	var opts []pwm.StartOption
	if c.polarity != nil {
		opts = append(opts, pwm.WithPolarity(*c.polarity))
	}
	if c.FrequencyHz > 0 {
		opts = append(opts, pwm.WithFrequency(c.FrequencyHz))
	}
	if c.Period > 0 {
		opts = append(opts, pwm.WithPeriod(c.Period.Nanoseconds()))
	}
	if c.Duty != nil {
		opts = append(opts, pwm.WithDutyCycle(*c.Duty))
	}
	if c.Run != nil && !*c.Run {
		opts = append(opts, pwm.Idle())
	}
	return opts
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.SysfsBase == "" {
		cfg.SysfsBase = pwm.DefaultSysfsBase
	}
	if cfg.Capemgr.Settle < 0 {
		return Config{}, fmt.Errorf("capemgr.settle must be >= 0")
	}
	if cfg.Capemgr.Settle == 0 {
		cfg.Capemgr.Settle = 500 * time.Millisecond
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return Config{}, fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("log.format must be 'text' or 'json'")
	}

	if cfg.HTTP.Enable && cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}

	seen := make(map[header.PinID]int)
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		field := fmt.Sprintf("channels[%d]", i)
		if err := ch.validate(field); err != nil {
			return Config{}, err
		}
		if j, dup := seen[ch.PinID]; dup {
			return Config{}, fmt.Errorf("%s.pin %s is already configured by channels[%d]", field, ch.PinID, j)
		}
		seen[ch.PinID] = i
	}

	return cfg, nil
}

func (ch *ChannelConfig) validate(field string) error {
	if ch.Pin == "" {
		return fmt.Errorf("%s.pin is required", field)
	}
	id, err := header.Parse(ch.Pin)
	if err != nil {
		return fmt.Errorf("%s.pin: %w", field, err)
	}
	if err := header.CheckValid(id, header.ModePWM); err != nil {
		return fmt.Errorf("%s.pin: %w", field, err)
	}
	ch.PinID = id

	if ch.Duty != nil && (*ch.Duty < 0 || *ch.Duty > 100) {
		return fmt.Errorf("%s.duty must be between 0 and 100", field)
	}

	if ch.Frequency != "" && ch.Period != 0 {
		return fmt.Errorf("%s.frequency and %s.period cannot both be set", field, field)
	}
	if ch.Frequency != "" {
		var f physic.Frequency
		if err := f.Set(ch.Frequency); err != nil {
			return fmt.Errorf("%s.frequency: %w", field, err)
		}
		if f <= 0 || f%physic.Hertz != 0 {
			return fmt.Errorf("%s.frequency must be a positive whole number of Hz", field)
		}
		hz := int64(f / physic.Hertz)
		if hz > pwm.MaxFrequencyHz {
			return fmt.Errorf("%s.frequency must be <= %d Hz", field, pwm.MaxFrequencyHz)
		}
		ch.FrequencyHz = hz
	}
	if ch.Period < 0 || ch.Period > time.Duration(pwm.MaxPeriodNS) {
		return fmt.Errorf("%s.period must be > 0 and <= 1s", field)
	}

	if ch.Polarity != "" {
		p, err := pwm.ParsePolarity(ch.Polarity)
		if err != nil {
			return fmt.Errorf("%s.polarity must be 'normal' or 'inverted'", field)
		}
		ch.polarity = &p
	}
	return nil
}
