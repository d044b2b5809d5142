package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BaseDirName    = ".config/tund"
	SocketName     = "daemon.sock"
	LogName        = "daemon.log"
	AllowlistName  = "allowlist.hcl"
	AuditDBName    = "tund-audit.db"
	socketDirMode  = 0o700 // umask(0o077) already strips group/other; belt and suspenders
	runtimeDirBase = "tund"
)

// Config holds process-wide settings bound from flags, environment, and
// an optional ~/.config/tund/config.toml.
var Config *viper.Viper

var globalFlagsToConfigKey = map[string]string{
	"config-path": "config_path",
	"verbose":     "verbose",
}

// SocketPath returns the per-user Unix socket path, preferring
// $XDG_RUNTIME_DIR (cleaned up by the OS on logout) and falling back to a
// user-scoped directory under os.TempDir() when unset.
func SocketPath() (string, error) {
	dir, err := runtimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SocketName), nil
}

// LogPath returns the daemon's log file path: same directory and
// basename as the socket, ".log" extension, per the spec.
func LogPath() (string, error) {
	sock, err := SocketPath()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(sock, filepath.Ext(sock)) + ".log", nil
}

func runtimeDir() (string, error) {
	var dir string
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		dir = filepath.Join(xdg, runtimeDirBase)
	} else {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", runtimeDirBase, os.Getuid()))
	}

	prev := unixUmask(0o077)
	defer unixUmask(prev)

	if err := os.MkdirAll(dir, socketDirMode); err != nil {
		return "", fmt.Errorf("core: create runtime dir %s: %w", dir, err)
	}
	return dir, nil
}

// GetConfigPath returns the directory holding config.toml, allowlist.hcl
// and the audit database.
func GetConfigPath() string {
	return Config.GetString("config_path")
}

// GetAllowlistPath returns the path to the optional host allowlist file.
func GetAllowlistPath() string {
	return filepath.Join(GetConfigPath(), AllowlistName)
}

// GetAuditDBPath returns the path to the audit log database.
func GetAuditDBPath() string {
	return filepath.Join(GetConfigPath(), AuditDBName)
}

// InitializeConfig loads ~/.config/tund/config.toml (creating it with
// defaults on first run), binds environment variables, and reconciles
// global persistent flags with the loaded config.
func InitializeConfig(cmd *cobra.Command) ([]string, error) {
	Config = viper.New()

	configPath, err := cmd.Parent().Flags().GetString("config-path")
	if err != nil {
		panic("unable to determine config path")
	}
	Config.AddConfigPath(configPath)
	Config.SetConfigName("config")
	Config.SetConfigType("toml")

	Config.SetDefault("verbose", 0)

	Config.SetEnvPrefix("tund")

	if err := Config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := os.MkdirAll(configPath, 0o755); err != nil {
				panic(err)
			}
			Config.SafeWriteConfig()
		} else {
			panic(err)
		}
	}

	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Config.AutomaticEnv()

	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			configKey, ok := globalFlagsToConfigKey[f.Name]
			if !ok {
				return
			}
			if !f.Changed && Config.IsSet(configKey) {
				cmd.Flags().Set(f.Name, fmt.Sprintf("%v", Config.Get(configKey)))
			} else {
				Config.Set(configKey, fmt.Sprintf("%v", f.Value))
			}
		})
	}

	return []string{}, nil
}
