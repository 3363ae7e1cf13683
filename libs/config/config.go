package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Values come from the environment first, then from the optional config file
// passed to Load.
var v = newViper()

func newViper() *viper.Viper {
	nv := viper.New()
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()
	return nv
}

// Load reads a yaml/json/toml/.env file. An empty path is a no-op.
func Load(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Set overrides a key for the lifetime of the process.
func Set(key string, value any) {
	v.Set(key, value)
}

func String(key, fallback string) string {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return fallback
	}
	return s
}

func RequiredString(key string) (string, error) {
	s := String(key, "")
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func Port(key, fallback string) (string, error) {
	s := String(key, fallback)
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, s)
	}
	return s, nil
}

func Int(key string, fallback int) (int, error) {
	s := String(key, "")
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, s)
	}
	return n, nil
}

func Bool(key string, fallback bool) (bool, error) {
	s := String(key, "")
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean (got %q)", key, s)
	}
	return b, nil
}

// Duration accepts Go duration strings ("90s") or a bare number of seconds.
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	s := String(key, "")
	if s == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (got %q)", key, s)
	}
	return d, nil
}

// List splits comma separated values and drops blanks.
func List(key string) []string {
	var out []string
	for _, raw := range v.GetStringSlice(key) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// UnmarshalKey decodes a structured section of the config file.
func UnmarshalKey(key string, out any) error {
	if !v.IsSet(key) {
		return nil
	}
	return v.UnmarshalKey(key, out)
}
