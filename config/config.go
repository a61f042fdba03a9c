package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppConfig struct {
	App struct {
		Name string `mapstructure:"NAME"`
		Port string `mapstructure:"PORT"`
	}

	DATABASE struct {
		Postgres struct {
			DSN string `mapstructure:"URL"`
		}
		Redis struct {
			Addr     string `mapstructure:"ADDR"`
			Password string `mapstructure:"PASSWORD"`
		}
		Mongo struct {
			Url      string `mapstructure:"URL"`
			Database string `mapstructure:"DATABASE"`
		}
	}

	BUS struct {
		Backend string `mapstructure:"BACKEND"` // redis | nats
		NatsUrl string `mapstructure:"NATS_URL"`
	}

	CHAT struct {
		TypingTTL        time.Duration `mapstructure:"TYPING_TTL"`
		DedupWindow      time.Duration `mapstructure:"DEDUP_WINDOW"`
		HeartbeatTimeout time.Duration `mapstructure:"HEARTBEAT_TIMEOUT"`
		MaxMessageBytes  int           `mapstructure:"MAX_MESSAGE_BYTES"`
		HistoryPageSize  int           `mapstructure:"HISTORY_PAGE_SIZE"`
		HistoryPageMax   int           `mapstructure:"HISTORY_PAGE_MAX"`
	}

	SECRET struct {
		PrivateKeyPath string `mapstructure:"PRIVATE_KEY_PATH"`
		PublicKeyPath  string `mapstructure:"PUBLIC_KEY_PATH"`
	}

	WORKER struct {
		Num      int `mapstructure:"NUM"`
		MaxRetry int `mapstructure:"MAX_RETRY"`
	}
}

var Conf *AppConfig

func LoadConfig() error {
	viper.SetConfigName("application")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CHATCORE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	var config AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	Conf = &config
	log.Info().Msg("configuration loaded...")
	return nil
}

func setDefaults() {
	viper.SetDefault("CHAT.TYPING_TTL", 5*time.Second)
	viper.SetDefault("CHAT.DEDUP_WINDOW", 30*time.Second)
	viper.SetDefault("CHAT.HEARTBEAT_TIMEOUT", 60*time.Second)
	viper.SetDefault("CHAT.MAX_MESSAGE_BYTES", 8192)
	viper.SetDefault("CHAT.HISTORY_PAGE_SIZE", 50)
	viper.SetDefault("CHAT.HISTORY_PAGE_MAX", 100)
	viper.SetDefault("BUS.BACKEND", "redis")
	viper.SetDefault("SECRET.PRIVATE_KEY_PATH", "private.pem")
	viper.SetDefault("SECRET.PUBLIC_KEY_PATH", "public.pem")
	viper.SetDefault("WORKER.NUM", 5)
	viper.SetDefault("WORKER.MAX_RETRY", 5)
	viper.SetDefault("DATABASE.MONGO.DATABASE", "chat_core")
}

// Validate rejects configurations that would disable the liveness machinery.
// A zero typing TTL or heartbeat timeout means timers never fire and
// half-open connections are never detected.
func (c *AppConfig) Validate() error {
	if c.CHAT.TypingTTL <= 0 {
		return fmt.Errorf("config: CHAT.TYPING_TTL must be positive, got %v", c.CHAT.TypingTTL)
	}
	if c.CHAT.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: CHAT.HEARTBEAT_TIMEOUT must be positive, got %v", c.CHAT.HeartbeatTimeout)
	}
	if c.CHAT.DedupWindow <= 0 {
		return fmt.Errorf("config: CHAT.DEDUP_WINDOW must be positive, got %v", c.CHAT.DedupWindow)
	}
	if c.CHAT.MaxMessageBytes <= 0 {
		return fmt.Errorf("config: CHAT.MAX_MESSAGE_BYTES must be positive")
	}
	if c.CHAT.HistoryPageMax <= 0 || c.CHAT.HistoryPageSize <= 0 {
		return fmt.Errorf("config: history page sizes must be positive")
	}
	switch c.BUS.Backend {
	case "redis", "nats":
	default:
		return fmt.Errorf("config: BUS.BACKEND must be redis or nats, got %q", c.BUS.Backend)
	}
	if c.BUS.Backend == "nats" && c.BUS.NatsUrl == "" {
		return fmt.Errorf("config: BUS.NATS_URL is required when BUS.BACKEND is nats")
	}
	return nil
}
