// Package config loads the checker configuration file.
package config

import (
	"fmt"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalid is wrapped by every error returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config is the content of the configuration file. JSON files are accepted
// as well since JSON is a subset of YAML.
type Config struct {
	// File is the absolute path the configuration was loaded from.
	File string `yaml:"-"`

	// URL of the page to monitor.
	URL string `yaml:"url" validate:"required,url"`

	// Selector of the element holding the document links.
	Selector string `yaml:"selector" default:"div#main" validate:"required"`

	// Only links whose target ends with this suffix are tracked.
	Extension string `yaml:"extension" default:".pdf" validate:"required"`

	// Upper bound for retrieving the page.
	Timeout time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`

	// Where the snapshot is kept: a file path, file://, in-memory:// or
	// postgresql:// URI.
	Snapshot string `yaml:"snapshot" default:"/var/local/gdo-checker/last-query.json" validate:"required"`

	// Pause between two consecutive mails.
	SendDelay time.Duration `yaml:"send_delay" default:"5s" validate:"gte=0"`

	// Language of the notification mail.
	Language string `yaml:"language" default:"de" validate:"oneof=de en"`

	// Prepended to every mail subject.
	SubjectPrefix string `yaml:"subject_prefix"`

	Log   LogConfig   `yaml:"log"`
	Email EmailConfig `yaml:"email"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn warning error"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

// EmailConfig holds the mail relay and the people to notify.
type EmailConfig struct {
	Sender     SenderConfig `yaml:"sender"`
	Recipients []Recipient  `yaml:"recipients" validate:"dive"`
}

// SenderConfig describes the SMTP relay and the account used to log in.
type SenderConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port" default:"587" validate:"gt=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Recipient is a person to notify. In the file it is written either as a
// [name, address] pair or as a mapping with name and address keys.
type Recipient struct {
	Name    string `yaml:"name" validate:"required"`
	Address string `yaml:"address" validate:"required,email"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Recipient) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var pair []string
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: recipient must be a [name, address] pair", value.Line)
		}
		r.Name, r.Address = pair[0], pair[1]
		return nil
	case yaml.MappingNode:
		type plain Recipient
		return value.Decode((*plain)(r))
	default:
		return fmt.Errorf("line %d: unexpected recipient format", value.Line)
	}
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	realpath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalid, "resolve %s: %v", path, err)
	}

	// Defaults are applied before decoding only, so that explicit zero
	// values in the file (e.g. send_delay: 0s) are kept.
	c := &Config{File: realpath}
	if err = defaults.Set(c); err != nil {
		return nil, errors.Wrapf(ErrInvalid, "set default config: %v", err)
	}

	data, err := os.ReadFile(realpath)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalid, "read config file: %v", err)
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(ErrInvalid, "parse config file %s: %v", realpath, err)
	}

	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for missing or malformed settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrapf(ErrInvalid, "%v", err)
	}
	if len(c.Email.Recipients) != 0 && c.Email.Sender.Server == "" {
		return errors.Wrap(ErrInvalid, "email.sender.server is required when recipients are configured")
	}
	return nil
}
