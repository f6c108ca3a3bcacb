// Package directory locates ubflash's configuration on disk and loads the
// device profiles stored in it.
package directory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ubflash/ubflash/uboot"
)

const (
	// UserConfigPathEnv if set, will load the user config from that path.
	UserConfigPathEnv = "UBFLASH_USER_CONFIG_PATH"
)

func GetUserConfigPath() (string, error) {
	if path, ok := os.LookupEnv(UserConfigPathEnv); ok {
		return path, nil
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, ".config", "ubflash", "config.yaml"), nil
}

func GetUserConfig() (*viper.Viper, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config path: %w", err)
	}

	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read user config: %w", err)
		}
	}
	return cfg, nil
}

func WriteConfig(cfg *viper.Viper) error {
	file := cfg.ConfigFileUsed()
	dir := filepath.Dir(file)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmpFile := filepath.Join(dir, ".config.tmp.yaml")
	if err := cfg.WriteConfigAs(tmpFile); err != nil {
		return err
	}
	defer os.Remove(tmpFile)

	return os.Rename(tmpFile, file)
}

// GetProfile returns the named device profile from the user config, or the
// built-in default when name is empty. Profile fields not present in the
// config keep their default values.
func GetProfile(cfg *viper.Viper, name string) (uboot.Profile, error) {
	profile := uboot.DefaultProfile()
	if name == "" {
		return profile, nil
	}

	key := "profiles." + name
	if !cfg.IsSet(key) {
		return profile, fmt.Errorf("no profile named '%s' in %s", name, cfg.ConfigFileUsed())
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := cfg.UnmarshalKey(key, &profile, hook); err != nil {
		return profile, fmt.Errorf("failed to decode profile '%s': %w", name, err)
	}
	profile.Name = name
	return profile, nil
}

// ProfileNames lists the profiles defined in the user config.
func ProfileNames(cfg *viper.Viper) []string {
	sub := cfg.GetStringMap("profiles")
	names := make([]string, 0, len(sub))
	for name := range sub {
		names = append(names, name)
	}
	return names
}
