package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adrg/xdg"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"deploysync/internal/repository"
	"deploysync/pkg/fileops"
)

const APP_NAME = "deploysync" // application name used for config directory

// ConfigPathEnv overrides the config file location when set.
const ConfigPathEnv = "DEPLOYSYNC_CONFIG_PATH"

// DefaultSchedule is used for targets without a schedule.
const DefaultSchedule = "@every 5m"

// Config holds the deploysync configuration: one entry per synced repository.
type Config struct {
	Version string   `yaml:"version"`
	Targets []Target `yaml:"targets"`
}

// Target configures one remote repository and the local working copy kept
// in sync with it. Key names follow the deployer's target properties.
type Target struct {
	Name          string       `yaml:"name"`
	RemoteRepo    RemoteRepo   `yaml:"remoteRepo"`
	LocalRepoPath string       `yaml:"localRepoPath"`
	Pull          PullSettings `yaml:"pull,omitempty"`
	Schedule      string       `yaml:"schedule,omitempty"`
	Git           GitSettings  `yaml:"git,omitempty"`
}

type RemoteRepo struct {
	Name     string `yaml:"name,omitempty"`
	URL      string `yaml:"url"`
	Branch   string `yaml:"branch,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// PasswordFromKeyring resolves the password from the OS keyring entry
	// stored with `deploysync credentials set <target>`.
	PasswordFromKeyring bool        `yaml:"passwordFromKeyring,omitempty"`
	SSH                 SSHSettings `yaml:"ssh,omitempty"`
}

type SSHSettings struct {
	PrivateKey            PrivateKey `yaml:"privateKey,omitempty"`
	KnownHostsPath        string     `yaml:"knownHostsPath,omitempty"`
	InsecureIgnoreHostKey bool       `yaml:"insecureIgnoreHostKey,omitempty"`
}

type PrivateKey struct {
	Path       string `yaml:"path,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

type PullSettings struct {
	Strategy string `yaml:"strategy,omitempty"`
}

// GitSettings tune the local clone. Nil pointers take the defaults.
type GitSettings struct {
	BigFileThreshold string `yaml:"bigFileThreshold,omitempty"`
	Compression      *int   `yaml:"compression,omitempty"`
	FileMode         *bool  `yaml:"fileMode,omitempty"`
	CommitterName    string `yaml:"committerName,omitempty"`
	CommitterEmail   string `yaml:"committerEmail,omitempty"`
}

// ConfigError reports an invalid configuration value. It is returned before
// any repository is touched.
type ConfigError struct {
	Target string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration for target %q: %s: %s", e.Target, e.Field, e.Reason)
}

// ConfigPath returns the config file path: $DEPLOYSYNC_CONFIG_PATH when set,
// otherwise $XDG_CONFIG_HOME/deploysync/config.yaml.
func ConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(ConfigPathEnv)); p != "" {
		return fileops.ExpandPath(p)
	}
	return filepath.Join(xdg.ConfigHome, APP_NAME, "config.yaml")
}

// Load loads the config from the standard location.
func Load() (*Config, error) {
	path := ConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no configuration found at %s", path)
	}
	return LoadFrom(path)
}

// LoadFrom reads, defaults and validates the config at path. Secrets of the
// form ${VAR} are expanded from the environment.
func LoadFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.expandEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns an empty configuration.
func DefaultConfig() Config {
	return Config{Version: "1.0"}
}

// SaveTo writes the config to path with owner-only permissions, since it
// may hold remote passwords.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()

	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.RemoteRepo.Name == "" {
			t.RemoteRepo.Name = repository.DefaultRemoteName
		}
		if t.Pull.Strategy == "" {
			t.Pull.Strategy = string(repository.StrategyMerge)
		}
		if t.Schedule == "" {
			t.Schedule = DefaultSchedule
		}
		if t.Git.BigFileThreshold == "" {
			t.Git.BigFileThreshold = repository.DefaultCoreSettings().BigFileThreshold
		}
	}
}

// Validate checks every target and returns the first problem as a
// *ConfigError.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Targets))
	paths := make(map[string]string, len(c.Targets))

	for _, t := range c.Targets {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.Name]; dup {
			return &ConfigError{Target: t.Name, Field: "name", Reason: "duplicate target name"}
		}
		seen[t.Name] = struct{}{}

		abs, _ := filepath.Abs(fileops.ExpandPath(t.LocalRepoPath))
		if other, dup := paths[abs]; dup {
			return &ConfigError{Target: t.Name, Field: "localRepoPath", Reason: fmt.Sprintf("already used by target %q", other)}
		}
		paths[abs] = t.Name
	}
	return nil
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a single target without touching the filesystem.
func (t Target) Validate() error {
	fail := func(field, reason string) error {
		return &ConfigError{Target: t.Name, Field: field, Reason: reason}
	}

	if strings.TrimSpace(t.Name) == "" {
		return fail("name", "is required")
	}
	if strings.TrimSpace(t.RemoteRepo.URL) == "" {
		return fail("remoteRepo.url", "is required")
	}
	if _, err := repository.ParseRemoteURL(t.RemoteRepo.URL); err != nil {
		return fail("remoteRepo.url", err.Error())
	}
	if t.RemoteRepo.Password != "" && t.RemoteRepo.PasswordFromKeyring {
		return fail("remoteRepo.password", "cannot be combined with passwordFromKeyring")
	}

	local := strings.TrimSpace(t.LocalRepoPath)
	if local == "" {
		return fail("localRepoPath", "is required")
	}
	expanded := fileops.ExpandPath(local)
	if err := fileops.ValidatePathSecurity(expanded); err != nil {
		return fail("localRepoPath", err.Error())
	}
	if abs, err := filepath.Abs(expanded); err == nil && fileops.IsReservedDirectory(abs) {
		return fail("localRepoPath", "is inside a reserved system directory")
	}

	if _, err := repository.ParseStrategy(t.Pull.Strategy); err != nil {
		return fail("pull.strategy", err.Error())
	}
	if t.Schedule != "" {
		if _, err := cronParser.Parse(t.Schedule); err != nil {
			return fail("schedule", err.Error())
		}
	}
	if c := t.Git.Compression; c != nil && (*c < -1 || *c > 9) {
		return fail("git.compression", "must be between -1 and 9")
	}
	return nil
}

// Target returns the target with the given name.
func (c *Config) Target(name string) (*Target, error) {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i], nil
		}
	}
	return nil, fmt.Errorf("no target named %q", name)
}

// PasswordSource resolves keyring-backed passwords. *repository.CredentialManager
// implements it.
type PasswordSource interface {
	GetPassword(target string) (string, error)
}

// RepositoryTarget converts the config entry into a sync target. secrets is
// only consulted when PasswordFromKeyring is set and may be nil otherwise.
func (t Target) RepositoryTarget(secrets PasswordSource) (repository.Target, error) {
	strategy, err := repository.ParseStrategy(t.Pull.Strategy)
	if err != nil {
		return repository.Target{}, &ConfigError{Target: t.Name, Field: "pull.strategy", Reason: err.Error()}
	}

	password := t.RemoteRepo.Password
	if t.RemoteRepo.PasswordFromKeyring {
		if secrets == nil {
			return repository.Target{}, &ConfigError{Target: t.Name, Field: "remoteRepo.passwordFromKeyring", Reason: "no credential store available"}
		}
		if password, err = secrets.GetPassword(t.Name); err != nil {
			return repository.Target{}, fmt.Errorf("target %q: %w", t.Name, err)
		}
	}

	core := repository.DefaultCoreSettings()
	if t.Git.BigFileThreshold != "" {
		core.BigFileThreshold = t.Git.BigFileThreshold
	}
	if t.Git.Compression != nil {
		core.Compression = *t.Git.Compression
	}
	if t.Git.FileMode != nil {
		core.FileMode = *t.Git.FileMode
	}

	return repository.Target{
		Name:      t.Name,
		Remote:    repository.RemoteDescriptor{Name: t.RemoteRepo.Name, URL: t.RemoteRepo.URL},
		Branch:    t.RemoteRepo.Branch,
		LocalPath: fileops.ExpandPath(t.LocalRepoPath),
		Strategy:  strategy,
		Credentials: repository.RemoteCredentials{
			URL:                   t.RemoteRepo.URL,
			Username:              t.RemoteRepo.Username,
			Password:              password,
			PrivateKeyPath:        fileops.ExpandPath(t.RemoteRepo.SSH.PrivateKey.Path),
			PrivateKeyPassphrase:  t.RemoteRepo.SSH.PrivateKey.Passphrase,
			KnownHostsPath:        fileops.ExpandPath(t.RemoteRepo.SSH.KnownHostsPath),
			InsecureIgnoreHostKey: t.RemoteRepo.SSH.InsecureIgnoreHostKey,
		},
		Core: core,
		Identity: repository.Identity{
			Name:  t.Git.CommitterName,
			Email: t.Git.CommitterEmail,
		},
	}, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} in credential fields. A reference to an unset
// variable is an error rather than a silent empty secret.
func (c *Config) expandEnv() error {
	for i := range c.Targets {
		t := &c.Targets[i]
		fields := []struct {
			name  string
			value *string
		}{
			{"remoteRepo.url", &t.RemoteRepo.URL},
			{"remoteRepo.username", &t.RemoteRepo.Username},
			{"remoteRepo.password", &t.RemoteRepo.Password},
			{"remoteRepo.ssh.privateKey.passphrase", &t.RemoteRepo.SSH.PrivateKey.Passphrase},
		}
		for _, f := range fields {
			expanded, err := expandRefs(*f.value)
			if err != nil {
				return &ConfigError{Target: t.Name, Field: f.name, Reason: err.Error()}
			}
			*f.value = expanded
		}
	}
	return nil
}

func expandRefs(s string) (string, error) {
	var missing string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("environment variable %s is not set", missing)
	}
	return out, nil
}
