package internal

import (
	"chat-relay/errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0" validate:"required"`
	Port     int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`

	JWTSecretKey string `env:"JWT_SECRET_KEY,required=true" validate:"required"`
	JWTIssuer    string `env:"JWT_ISSUER"`

	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger" validate:"required"`
	UploadsDir     string `env:"UPLOADS_DIR,default=./uploads" validate:"required"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	PingInterval         time.Duration `env:"PING_INTERVAL,default=5s" validate:"gt=0"`
	PongTimeout          time.Duration `env:"PONG_TIMEOUT,default=1s" validate:"gt=0,ltfield=PingInterval"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=500ms" validate:"gt=0"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	MaxMessageSize       int64         `env:"MAX_MESSAGE_SIZE,default=10485760" validate:"min=1"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES" validate:"omitempty,min=1"`
	EchoToSender         bool          `env:"ECHO_TO_SENDER,default=false"`

	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=5s" validate:"gt=0"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	DebugPort       int           `env:"DEBUG_PORT,default=8081" validate:"min=1,max=65535"`
}

// Validate checks the decoded values. Every failure wraps errors.ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return nil
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	origins := strings.Split(c.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
