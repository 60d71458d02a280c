package pinsql

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig builds a Config from the environment. Every setting is read from
// PREFIX_<KEY>, where KEY is one of DIALECT, HOST, PORT, USER, PASSWORD, NAME,
// DIR, DSN, DRIVER, DEBUG or CONNECT_RETRIES.
//
// files are loaded first: .yaml/.yml/.json/.toml files as viper config files
// using the lower-case keys, anything else as a dotenv file. A dotenv file that
// does not exist is skipped, and variables already set in the environment are
// never overridden by it.
func LoadConfig(prefix string, files ...string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()

	v.SetDefault("dialect", MySQL.String())
	v.SetDefault("dir", ".")
	v.SetDefault("debug", false)
	v.SetDefault("connect_retries", 0)

	for _, f := range files {
		switch strings.ToLower(filepath.Ext(f)) {
		case ".yaml", ".yml", ".json", ".toml":
			v.SetConfigFile(f)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("pinsql: could not read config %s: %w", f, err)
			}
		default:
			if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("pinsql: could not load env file %s: %w", f, err)
			}
		}
	}

	d, err := ParseDialect(v.GetString("dialect"))
	if err != nil {
		return Config{}, err
	}

	c := Config{
		Dialect:        d,
		Driver:         v.GetString("driver"),
		DSN:            v.GetString("dsn"),
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		User:           v.GetString("user"),
		Password:       v.GetString("password"),
		Database:       v.GetString("name"),
		Dir:            v.GetString("dir"),
		Debug:          v.GetBool("debug"),
		ConnectRetries: v.GetInt("connect_retries"),
	}
	return defaultConfig(c), nil
}
