package authguard

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AUTHGUARD_STORE_ADDR.
const EnvPrefix = "AUTHGUARD"

// LoadConfig builds a Config from defaults, an optional YAML file at path,
// a .env file in the working directory, and AUTHGUARD_* environment
// variables, in increasing order of precedence. An empty path skips the
// file. The result is validated.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := flattenDefaults(defaultConfig())
	if err != nil {
		return Config{}, err
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// flattenDefaults turns cfg into dotted viper keys so AutomaticEnv can see
// every field, not only those present in the file.
func flattenDefaults(cfg Config) (map[string]interface{}, error) {
	var tree map[string]interface{}
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	out := make(map[string]interface{})
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		// Nil maps (Policies) are left for the file to fill.
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Map && rv.IsNil() {
			continue
		}
		out[key] = v
	}
}

// NewRedisClient builds a go-redis client from cfg.
func NewRedisClient(cfg StoreConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}
