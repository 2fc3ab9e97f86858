package config

type Config struct {
	App    AppConfig    `env-prefix:"APP_"`
	HTTP   HTTPConfig   `env-prefix:"HTTP_"`
	Dynamo DynamoConfig `env-prefix:"DYNAMO_"`
	SQS    SQSConfig    `env-prefix:"SQS_"`
	Redis  RedisConfig  `env-prefix:"REDIS_"`
	Auth   AuthConfig   `env-prefix:"AUTH_"`
}

type AppConfig struct {
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	Pretty   bool   `env:"PRETTY" env-default:"false"`
	DevMode  bool   `env:"DEV_MODE" env-default:"false"`
}

type HTTPConfig struct {
	Addr          string `env:"ADDR" env-default:":8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`
}

type DynamoConfig struct {
	Endpoint string `env:"ENDPOINT"`
	Table    string `env:"TABLE" env-default:"Webnotes"`
}

type SQSConfig struct {
	Endpoint   string `env:"ENDPOINT"`
	PurgeQueue string `env:"PURGE_QUEUE" env-default:"PurgeUserNotesQueue"`
}

type RedisConfig struct {
	Endpoint string `env:"ENDPOINT" env-default:"localhost:6379"`
}

type AuthConfig struct {
	JWTSecret          string `env:"JWT_SECRET" env-required:"true"`
	RedirectURL        string `env:"REDIRECT_URL"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
}
