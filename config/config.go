package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		AuthPort    string        `mapstructure:"authPort"`
		GatewayPort string        `mapstructure:"gatewayPort"`
		Timeout     time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Repositories struct {
		Postgres struct {
			Host     string `mapstructure:"host"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			Password string `mapstructure:"password"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	JWT     JWTConfig     `mapstructure:"jwt"`
	Gateway GatewayConfig `mapstructure:"gateway"`
}

// JWTConfig holds the shared-secret signing policy for session tokens.
type JWTConfig struct {
	SecretKey       string        `mapstructure:"secretKey"`
	SessionTokenTTL time.Duration `mapstructure:"sessionTokenTTL"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
}

type GatewayConfig struct {
	// URL is where backend services reach the gateway to self-register.
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"apiKey"`
	ForwardTimeout time.Duration `mapstructure:"forwardTimeout"`
	RateLimit      struct {
		Requests int           `mapstructure:"requests"`
		Window   time.Duration `mapstructure:"window"`
	} `mapstructure:"rateLimit"`
	Registry struct {
		Freshness        time.Duration `mapstructure:"freshness"`
		CheckInterval    time.Duration `mapstructure:"checkInterval"`
		FailureThreshold int           `mapstructure:"failureThreshold"`
	} `mapstructure:"registry"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	// Add file-based config paths
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")
	v.AddConfigPath("/usr/local/bin")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Environment overrides, e.g. KG_JWT_SECRETKEY, KG_GATEWAY_APIKEY
	v.SetEnvPrefix("KG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to load file-based config, fall back to the embedded copy
	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}
	return config, nil
}
