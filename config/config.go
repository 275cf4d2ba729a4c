package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cloudreap/cloudreap/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	General GeneralConfig `yaml:"general"`
	Cleanup []CleanupSpec `yaml:"cleanup"`
}

// GeneralConfig holds settings shared by every cleanup run.
type GeneralConfig struct {
	RunEvery               string    `yaml:"run-every"`
	MaxSimultaneousDeletes int       `yaml:"max-simultaneous-deletes"`
	TrackingDatabase       string    `yaml:"tracking-database"`
	Log                    LogConfig `yaml:"log"`

	runEvery time.Duration
	logLevel zerolog.Level
}

// LogConfig configures the log sink.
type LogConfig struct {
	Location string `yaml:"location"` // file path, empty means stderr
	Level    string `yaml:"level"`
}

// CleanupSpec describes how one tenant is cleaned.
type CleanupSpec struct {
	AuthURL     string             `yaml:"openstack_auth_url"`
	Tenant      string             `yaml:"tenant"`
	Credentials []types.Credential `yaml:"credentials"`
	Instances   *ResourcePolicy    `yaml:"instances"`
	Images      *ResourcePolicy    `yaml:"images"`
	KeyPairs    *ResourcePolicy    `yaml:"key-pairs"`
}

// ResourcePolicy is the per-resource-type cleanup rule set.
type ResourcePolicy struct {
	RemoveIfOlderThan  string   `yaml:"remove-if-older-than"`
	RemoveOnlyIfUnused bool     `yaml:"remove-only-if-unused"`
	Exclude            []string `yaml:"exclude"`

	maxAge   time.Duration
	excludes []*regexp.Regexp
}

// ConfigError aggregates every validation failure so operators can fix the
// whole file in one pass.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// Load reads, parses and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the whole configuration and compiles durations, log level
// and exclude patterns. It returns a *ConfigError listing all violations.
func (c *Config) Validate() error {
	var problems []string

	problems = append(problems, c.General.validate()...)

	if len(c.Cleanup) == 0 {
		problems = append(problems, "cleanup: at least one tenant spec is required")
	}
	for i := range c.Cleanup {
		problems = append(problems, c.Cleanup[i].validate(fmt.Sprintf("cleanup[%d]", i))...)
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func (g *GeneralConfig) validate() []string {
	var problems []string

	d, err := ParseDuration(g.RunEvery)
	switch {
	case g.RunEvery == "":
		problems = append(problems, "general.run-every is required")
	case err != nil:
		problems = append(problems, fmt.Sprintf("general.run-every: %v", err))
	case d <= 0:
		problems = append(problems, "general.run-every must be positive")
	default:
		g.runEvery = d
	}

	if g.MaxSimultaneousDeletes < 1 {
		problems = append(problems, "general.max-simultaneous-deletes must be at least 1")
	}
	if g.TrackingDatabase == "" {
		problems = append(problems, "general.tracking-database is required")
	}

	level := g.Log.Level
	if level == "" {
		level = "info"
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		problems = append(problems, fmt.Sprintf("general.log.level: %v", err))
	} else {
		g.logLevel = parsed
	}

	return problems
}

func (s *CleanupSpec) validate(path string) []string {
	var problems []string

	if s.AuthURL == "" {
		problems = append(problems, path+".openstack_auth_url is required")
	}
	if s.Tenant == "" {
		problems = append(problems, path+".tenant is required")
	}
	if len(s.Credentials) == 0 {
		problems = append(problems, path+": at least one credential is required")
	}
	for i, cred := range s.Credentials {
		if cred.Username == "" {
			problems = append(problems, fmt.Sprintf("%s.credentials[%d].username is required", path, i))
		}
		if cred.Password == "" {
			problems = append(problems, fmt.Sprintf("%s.credentials[%d].password is required", path, i))
		}
	}

	if s.Instances == nil && s.Images == nil && s.KeyPairs == nil {
		problems = append(problems, path+": no cleanup areas configured (instances, images, key-pairs)")
	}
	if s.Instances != nil {
		problems = append(problems, s.Instances.validate(path+".instances")...)
	}
	if s.Images != nil {
		problems = append(problems, s.Images.validate(path+".images")...)
	}
	if s.KeyPairs != nil {
		problems = append(problems, s.KeyPairs.validate(path+".key-pairs")...)
	}

	return problems
}

func (p *ResourcePolicy) validate(path string) []string {
	var problems []string

	d, err := ParseDuration(p.RemoveIfOlderThan)
	switch {
	case p.RemoveIfOlderThan == "":
		problems = append(problems, path+".remove-if-older-than is required")
	case err != nil:
		problems = append(problems, fmt.Sprintf("%s.remove-if-older-than: %v", path, err))
	case d < 0:
		problems = append(problems, path+".remove-if-older-than must not be negative")
	default:
		p.maxAge = d
	}

	p.excludes = p.excludes[:0]
	for i, pattern := range p.Exclude {
		re, err := compileExclude(pattern)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s.exclude[%d]: %v", path, i, err))
			continue
		}
		p.excludes = append(p.excludes, re)
	}

	return problems
}

// compileExclude anchors the pattern so it must match the whole name, not a
// substring of it.
func compileExclude(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}

// RunEveryDuration returns the parsed run interval. Valid only after Validate.
func (g *GeneralConfig) RunEveryDuration() time.Duration {
	return g.runEvery
}

// LogLevel returns the parsed log level. Valid only after Validate.
func (g *GeneralConfig) LogLevel() zerolog.Level {
	return g.logLevel
}

// MaxAge returns the parsed remove-if-older-than threshold. Valid only after
// Validate.
func (p *ResourcePolicy) MaxAge() time.Duration {
	return p.maxAge
}

// Excluded reports whether name fully matches any exclude pattern.
func (p *ResourcePolicy) Excluded(name string) bool {
	for _, re := range p.excludes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Policy returns the configured policy for a resource type, nil when that
// area is not cleaned for this tenant.
func (s *CleanupSpec) Policy(t types.ResourceType) *ResourcePolicy {
	switch t {
	case types.TypeInstance:
		return s.Instances
	case types.TypeImage:
		return s.Images
	case types.TypeKeyPair:
		return s.KeyPairs
	}
	return nil
}

// DefaultCredential returns the first credential, used for everything except
// key-pair deletion.
func (s *CleanupSpec) DefaultCredential() types.Credential {
	return s.Credentials[0]
}
