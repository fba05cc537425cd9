package config

import (
	"bytes"
	"os"
	"strings"
	"unicode"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the application configuration: the ports and tuning of the
	// two servers and the location of the search index.
	Config struct {
		Server *Server `yaml:"server"`
		Lucene *Lucene `yaml:"lucene"`
	}

	// Lucene holds the location of the search index data.
	Lucene struct {
		DataStore string `yaml:"data-store" envconfig:"LUCENE_DATA_STORE"`
	}
)

// DefaultConfigLocation is the default filepath for YAML config files.
const DefaultConfigLocation = "application.yaml"

// EnvAppName is used as a prefix for environment variable
// names when using LoadEnvOverrides.
// It defaults to empty.
var EnvAppName = ""

// Load reads the YAML config file at fileName. Keys may be written in
// kebab-case, camelCase or snake_case. Unknown keys, values of the wrong type
// and missing required fields are all errors. If fileName is empty,
// DefaultConfigLocation is used.
func Load(fileName string) (*Config, error) {
	if fileName == "" {
		fileName = DefaultConfigLocation
	}
	b, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("config file %q not found", fileName)
		}
		return nil, errors.Wrapf(err, "unable to read config file %q", fileName)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse config file %q", fileName)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML config document.
func Parse(b []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, errors.New("empty config document")
	}
	normalizeKeys(&doc)

	// re-encode so the strict decoder sees the normalized keys
	norm, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(norm))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvOverrides will use envconfig to override cfg with any values found
// in the environment, then validate the result.
func LoadEnvOverrides(cfg *Config) error {
	if cfg.Server == nil {
		cfg.Server = &Server{}
	}
	if cfg.Lucene == nil {
		cfg.Lucene = &Lucene{}
	}
	if err := LoadEnvConfig(cfg.Server); err != nil {
		return err
	}
	if err := LoadEnvConfig(cfg.Lucene); err != nil {
		return err
	}
	cfg.setDefaults()
	return cfg.Validate()
}

// LoadEnvConfig will use envconfig to load the
// given config struct from the environment.
func LoadEnvConfig(c interface{}) error {
	return errors.Wrap(envconfig.Process(EnvAppName, c), "unable to load env variable")
}

// Validate checks that every required field is set.
func (c *Config) Validate() error {
	if c.Server == nil {
		return errors.New("missing required section 'server'")
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if c.Lucene == nil {
		return errors.New("missing required section 'lucene'")
	}
	if c.Lucene.DataStore == "" {
		return errors.New("missing required field 'lucene.data-store'")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server != nil {
		c.Server.setDefaults()
	}
}

// normalizeKeys rewrites every mapping key in n to kebab-case.
func normalizeKeys(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			n.Content[i].Value = kebab(n.Content[i].Value)
		}
	}
	for _, c := range n.Content {
		normalizeKeys(c)
	}
}

// kebab converts camelCase, PascalCase and snake_case names to kebab-case.
// Runs of capitals are treated as one word: 'HTTPAccessLog' becomes
// 'http-access-log'.
func kebab(name string) string {
	rs := []rune(name)
	var b strings.Builder
	for i, r := range rs {
		switch {
		case r == '_' || r == '-':
			b.WriteByte('-')
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if prev != '_' && prev != '-' &&
				(unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
