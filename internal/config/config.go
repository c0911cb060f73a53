package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kadoErrors "github.com/kadohq/kado/internal/errors"
	"github.com/kadohq/kado/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Log     LogConfig     `koanf:"log"`
	Storage StorageConfig `koanf:"storage"`
	Policy  PolicyConfig  `koanf:"policy"`
	Session SessionConfig `koanf:"session"`
	Lock    LockConfig    `koanf:"lock"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type StorageConfig struct {
	// Root anchors the registry file, session store and lock markers.
	// Empty means KADO_HOME, falling back to ~/.kado.
	Root string `koanf:"root"`
}

type PolicyConfig struct {
	Mode           string   `koanf:"mode"`
	ConfirmTimeout string   `koanf:"confirm_timeout"`
	AuditEnabled   bool     `koanf:"audit_enabled"`
	RedactPatterns []string `koanf:"redact_patterns"`
}

type SessionConfig struct {
	GCMaxAge string `koanf:"gc_max_age"`
}

type LockConfig struct {
	AcquireTimeout string `koanf:"acquire_timeout"`
	RetryInterval  string `koanf:"retry_interval"`
	GuardTimeout   string `koanf:"guard_timeout"`
}

const (
	DefaultLogLevel           = "info"
	DefaultPolicyMode         = "ask"
	DefaultPolicyConfirmWait  = "120s"
	DefaultPolicyAuditEnabled = true
	DefaultSessionGCMaxAge    = "720h"
	DefaultLockAcquireTimeout = "5s"
	DefaultLockRetryInterval  = "100ms"
	DefaultLockGuardTimeout   = "10s"
	DefaultConfigFileName     = "config.yaml"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"log.level":              DefaultLogLevel,
		"storage.root":           "",
		"policy.mode":            DefaultPolicyMode,
		"policy.confirm_timeout": DefaultPolicyConfirmWait,
		"policy.audit_enabled":   DefaultPolicyAuditEnabled,
		"policy.redact_patterns": []string{},
		"session.gc_max_age":     DefaultSessionGCMaxAge,
		"lock.acquire_timeout":   DefaultLockAcquireTimeout,
		"lock.retry_interval":    DefaultLockRetryInterval,
		"lock.guard_timeout":     DefaultLockGuardTimeout,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %v: %w", configPath, err, kadoErrors.ErrConfig)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			// An absent global file is the normal first-run state; an
			// unparseable one must never be silently ignored.
			globalPath := filepath.Join(home, ".kado", DefaultConfigFileName)
			if _, err := os.Stat(globalPath); err == nil {
				if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load config file %s: %v: %w", globalPath, err, kadoErrors.ErrConfig)
				}
			}
		}
	}

	// Environment Variables
	err := k.Load(env.Provider("KADO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KADO_")), "_", ".", -1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment overrides: %v: %w", err, kadoErrors.ErrConfig)
	}

	// CLI Flags
	if cmd != nil {
		if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flag overrides: %v: %w", err, kadoErrors.ErrConfig)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	root, err := pathutil.Expand(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	cfg.Storage.Root = root

	return &cfg, nil
}
