package config

import (
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type BaseConfig struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Database relazionale (fonte autoritativa)
	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBDSN      string `mapstructure:"DB_DSN"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     int    `mapstructure:"DB_PORT"`
	DBName     string `mapstructure:"DB_NAME"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBDebug    bool   `mapstructure:"DB_DEBUG"`

	// Mirror documentale
	MirrorBackend string   `mapstructure:"MIRROR_BACKEND"`
	MongoURI      string   `mapstructure:"MONGO_URI"`
	MongoDatabase string   `mapstructure:"MONGO_DATABASE"`
	CHHosts       []string `mapstructure:"CH_HOSTS"`
	CHDatabase    string   `mapstructure:"CH_DATABASE"`
	CHUser        string   `mapstructure:"CH_USER"`
	CHPassword    string   `mapstructure:"CH_PASSWORD"`
	CHDebug       bool     `mapstructure:"CH_DEBUG"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	SolanaRPCURL string `mapstructure:"SOLANA_RPC_URL"`
	SolanaWSURL  string `mapstructure:"SOLANA_WS_URL"`

	TicketServiceURL   string `mapstructure:"TICKET_SERVICE_URL"`
	TicketServiceToken string `mapstructure:"TICKET_SERVICE_TOKEN"`
}

func loadBase() (*BaseConfig, error) {
	// .env opzionale, utile in sviluppo
	_ = godotenv.Load()

	v := viper.New()

	// Impostazioni di base comuni
	v.SetConfigName("base")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// Default values
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("DB_NAME", "indexer")
	v.SetDefault("DB_USER", "indexer")
	v.SetDefault("DB_PASSWORD", "indexer")
	v.SetDefault("DB_DEBUG", false)
	v.SetDefault("MIRROR_BACKEND", "mongo")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "indexer")
	v.SetDefault("CH_HOSTS", []string{"clickhouse:9000"})
	v.SetDefault("CH_DATABASE", "default")
	v.SetDefault("CH_USER", "default")
	v.SetDefault("CH_PASSWORD", "clickhouse")
	v.SetDefault("CH_DEBUG", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	v.SetDefault("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("TICKET_SERVICE_URL", "http://ticket-service:3004")
	v.SetDefault("TICKET_SERVICE_TOKEN", "")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Ignoriamo l'errore se il file non esiste
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config BaseConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
