// Package config loads the tool settings from autoref.yaml, a .env file and
// AUTOREF_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	parser "github.com/ojos-clinic/go-autoref-parser"
	"github.com/ojos-clinic/go-autoref-parser/capture"
)

const (
	EnvPrefix = "AUTOREF"
	FileName  = "autoref"

	TailPositional = "positional"
	TailModel      = "model"
)

type Server struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`
}

type Folders struct {
	Read  string `mapstructure:"read"`
	Save  string `mapstructure:"save"`
	Links string `mapstructure:"links"` // remembered-folders file
}

type Instrument struct {
	Layout       string                 `mapstructure:"layout"`
	Encoding     string                 `mapstructure:"encoding"`
	Tail         string                 `mapstructure:"tail"`
	ModelPattern string                 `mapstructure:"model_pattern"`
	Ranges       parser.PlausibleRanges `mapstructure:"ranges"`
}

type Serial struct {
	Port   string `mapstructure:"port"`
	Baud   int    `mapstructure:"baud"`
	IdleMS int    `mapstructure:"idle_ms"`
}

// Config all settings.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Folders    Folders    `mapstructure:"folders"`
	Instrument Instrument `mapstructure:"instrument"`
	Serial     Serial     `mapstructure:"serial"`

	// File the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:0")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("folders.read", "")
	v.SetDefault("folders.save", "")
	v.SetDefault("folders.links", "")
	v.SetDefault("instrument.layout", string(parser.LayoutAuto))
	v.SetDefault("instrument.encoding", parser.EncodingWindows1252)
	v.SetDefault("instrument.tail", TailPositional)
	v.SetDefault("instrument.model_pattern", "")
	v.SetDefault("instrument.ranges.pd_min", parser.DefaultRanges.PDMin)
	v.SetDefault("instrument.ranges.pd_max", parser.DefaultRanges.PDMax)
	v.SetDefault("instrument.ranges.vd_min", parser.DefaultRanges.VDMin)
	v.SetDefault("instrument.ranges.vd_max", parser.DefaultRanges.VDMax)
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", capture.DefaultBaudRate)
	v.SetDefault("serial.idle_ms", int(capture.DefaultIdleTimeout/time.Millisecond))
}

// Load reads path when given, otherwise searches for autoref.yaml in the
// working directory and $HOME/.autoref. A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".autoref"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the parser misbehave.
func (c *Config) Validate() error {
	var errs []error

	r := c.Instrument.Ranges
	if r.PDMin >= r.PDMax {
		errs = append(errs, fmt.Errorf("instrument.ranges: pd_min %v must be below pd_max %v", r.PDMin, r.PDMax))
	}
	if r.VDMin >= r.VDMax {
		errs = append(errs, fmt.Errorf("instrument.ranges: vd_min %v must be below vd_max %v", r.VDMin, r.VDMax))
	}

	switch strings.ToLower(c.Instrument.Tail) {
	case "", TailPositional, TailModel:
	default:
		errs = append(errs, fmt.Errorf("instrument.tail: unknown value %q", c.Instrument.Tail))
	}
	if _, err := c.modelPattern(); err != nil {
		errs = append(errs, fmt.Errorf("instrument.model_pattern: %w", err))
	}
	if _, err := parser.EncodeInstrumentText("", c.Instrument.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("instrument.encoding: %w", err))
	}
	if c.Serial.Baud < 0 || c.Serial.IdleMS < 0 {
		errs = append(errs, errors.New("serial: baud and idle_ms cannot be negative"))
	}

	return errors.Join(errs...)
}

// Parser builds a parser with the configured ranges and tail detection.
func (c *Config) Parser() *parser.Parser {
	p := parser.NewParser()
	p.Ranges = c.Instrument.Ranges
	if strings.EqualFold(c.Instrument.Tail, TailModel) {
		re, _ := c.modelPattern()
		p.Tail = parser.ModelPrefixTail(re)
	}
	return p
}

// Layout returns the configured layout.
func (c *Config) Layout() parser.Layout {
	return parser.ParseLayout(c.Instrument.Layout)
}

// Capture returns the serial settings.
func (c *Config) Capture() capture.Config {
	return capture.Config{
		PortName:    c.Serial.Port,
		BaudRate:    c.Serial.Baud,
		IdleTimeout: time.Duration(c.Serial.IdleMS) * time.Millisecond,
	}
}

// modelPattern compiles instrument.model_pattern; nil means the default pattern.
func (c *Config) modelPattern() (*regexp.Regexp, error) {
	if c.Instrument.ModelPattern == "" {
		return nil, nil
	}
	return regexp.Compile(c.Instrument.ModelPattern)
}
