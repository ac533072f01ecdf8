package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev" validate:"oneof=dev prod test"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	JwtSecret string `env:"JWT_SECRET,required" validate:"min=16"`

	RoomChannelCapacity int           `env:"ROOM_CHANNEL_CAPACITY" envDefault:"100"  validate:"min=1,max=10000"`
	HistoryPageSize     int           `env:"HISTORY_PAGE_SIZE"     envDefault:"20"   validate:"min=1,max=200"`
	MessageMaxLength    int           `env:"MESSAGE_MAX_LENGTH"    envDefault:"2000" validate:"min=1,max=10000"`
	RoleCacheTTL        time.Duration `env:"ROLE_CACHE_TTL"        envDefault:"30s"`
	RoomIdleTTL         time.Duration `env:"ROOM_IDLE_TTL"         envDefault:"0s"`
	RoomSweepInterval   time.Duration `env:"ROOM_SWEEP_INTERVAL"   envDefault:"1m"`

	PersistRetryStream string `env:"PERSIST_RETRY_STREAM" envDefault:"chat:messages:retry" validate:"required"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
