package config

import (
	"errors"
	"os"

	"github.com/kkyr/fig"
)

const EnvPrefix = "CSREMOTE"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix CSREMOTE_.
// Params from the config should be in uppercase separated with _.
// When no file can be found the config is built from defaults and env.
func LoadConfig(config any, path string) (string, error) {
	dirs := []string{path}
	if path == "" {
		dirs = []string{".", "configs", "../../configs"}
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.csremote")
		}
	}
	err := fig.Load(config, fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		return "", LoadConfigEnv(config)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}
