package mount

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

var mountNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config is the mount table as read from a YAML file:
//
//	default:
//	  table: content_root
//	mounts:
//	  - name: libs
//	    paths: [/libs, /apps]
//	    read_only: true
//	    table: content_libs
type Config struct {
	Default TableConfig   `yaml:"default"`
	Mounts  []MountConfig `yaml:"mounts"`
}

// TableConfig names the DynamoDB table backing a mount.
type TableConfig struct {
	Table string `yaml:"table"`
}

// MountConfig describes one non-default mount.
type MountConfig struct {
	Name     string   `yaml:"name"`
	Paths    []string `yaml:"paths"`
	ReadOnly bool     `yaml:"read_only"`
	Table    string   `yaml:"table"`
}

// LoadConfig reads and validates a mount table file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mount config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a YAML mount table.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mount config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	return &cfg, nil
}

// Validate checks the config. Path overlaps are left to Builder.Build.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Mounts),
	)
}

// Validate checks a single mount entry.
func (m MountConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.Match(mountNamePattern)),
		validation.Field(&m.Paths, validation.Required, validation.Each(validation.By(absolutePath))),
	)
}

func absolutePath(value interface{}) error {
	path, _ := value.(string)
	if err := validatePath(path); err != nil {
		return validation.NewError("validation_mount_path", strings.TrimPrefix(err.Error(), ErrInvalidMountPath.Error()+": "))
	}
	return nil
}

// Provider builds the Provider described by the config.
func (c Config) Provider() (*Provider, error) {
	b := NewBuilder()
	for _, m := range c.Mounts {
		if m.ReadOnly {
			b.ReadOnlyMount(m.Name, m.Paths...)
		} else {
			b.Mount(m.Name, m.Paths...)
		}
	}
	return b.Build()
}

// TableFor returns the table backing the named mount. Mounts without an
// explicit table use "<default table>_<name>".
func (c Config) TableFor(name string) string {
	root := c.Default.Table
	if root == "" {
		root = "docmux_documents"
	}
	if name == DefaultName {
		return root
	}
	for _, m := range c.Mounts {
		if m.Name == name && m.Table != "" {
			return m.Table
		}
	}
	return root + "_" + name
}
