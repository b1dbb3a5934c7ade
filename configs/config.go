package config

import (
	"log"

	"github.com/caarlos0/env/v11"
)

type R2 struct {
	AccountID  string `env:"R2_ACCOUNT_ID"`
	AccessKey  string `env:"R2_ACCESS_KEY"`
	SecretKey  string `env:"R2_SECRET_KEY"`
	BucketName string `env:"R2_BUCKET_NAME"`
}

type Config struct {
	PostgresURI        string `env:"POSTGRES_URI,notEmpty"`
	RedisURI           string `env:"REDIS_URI,notEmpty"`
	APIAddr            string `env:"API_ADDR" envDefault:":3000"`
	SecretKey          string `env:"SECRET_KEY,notEmpty"`
	CookieName         string `env:"COOKIE_NAME" envDefault:"crosspilot_session"`
	TiktokClientKey    string `env:"TIKTOK_CLIENT_KEY"`
	TiktokClientSecret string `env:"TIKTOK_CLIENT_SECRET"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	MetaGraphVersion   string `env:"META_GRAPH_VERSION" envDefault:"v21.0"`
	R2                 R2
	FailedJobThreshold int `env:"FAILED_JOB_THRESHOLD" envDefault:"100"`
}

func LoadConfig() *Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return &c
}
