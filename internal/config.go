package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,required=true"`
	GrpcPort int    `env:"GRPC_PORT,default=0"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH"`
	DatabaseURL    string `env:"DATABASE_URL"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH"`
	RedisURL       string `env:"REDIS_URL"`
	FileRoot       string `env:"FILE_ROOT,required=true"`
	JwtSecret      string `env:"JWT_SECRET,required=true"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	MaxAttachmentBytes  int64 `env:"MAX_ATTACHMENT_BYTES,default=10485760"`
	HistoryDefaultLimit int   `env:"HISTORY_DEFAULT_LIMIT,default=30"`
	HistoryMaxLimit     int   `env:"HISTORY_MAX_LIMIT,default=100"`
	MaxBodyLength       int   `env:"MAX_BODY_LENGTH,default=2000"`

	TypingTimeout        time.Duration `env:"TYPING_TIMEOUT,default=2500ms"`
	RoomIdleTimeout      time.Duration `env:"ROOM_IDLE_TIMEOUT,default=1m"`
	RoomMailboxSize      int           `env:"ROOM_MAILBOX_SIZE,default=256"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	PongWait             time.Duration `env:"PONG_WAIT,default=60s"`
	PingPeriod           time.Duration `env:"PING_PERIOD,default=54s"`
	WriteWait            time.Duration `env:"WRITE_WAIT,default=10s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ArchiveRetention     time.Duration `env:"ARCHIVE_RETENTION,default=720h"`
	ArchiveInterval      time.Duration `env:"ARCHIVE_INTERVAL,default=1h"`
	StatsInterval        time.Duration `env:"STATS_INTERVAL,default=15s"`

	SendRateLimit    int           `env:"SEND_RATE_LIMIT,default=8"`
	SendRateWindow   time.Duration `env:"SEND_RATE_WINDOW,default=10s"`
	UploadRateLimit  int           `env:"UPLOAD_RATE_LIMIT,default=12"`
	UploadRateWindow time.Duration `env:"UPLOAD_RATE_WINDOW,default=1m"`

	// EncryptionKey is a base64 32 byte key sealing message bodies at rest. Empty stores them as is.
	EncryptionKey string `env:"CHAT_ENCRYPTION_KEY"`

	CensoredDir     string `env:"CENSORED_DIR"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
}

// Load reads an optional .env file then the process environment.
func Load(files ...string) (Config, error) {
	var config Config
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return config, fmt.Errorf("loading %s: %w", strings.Join(files, ","), err)
	}
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreBadger:
		if c.BadgerFilepath == "" {
			return fmt.Errorf("BADGER_FILEPATH is required with STORE_DRIVER=%s", StoreBadger)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required with STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("PING_PERIOD (%s) must be shorter than PONG_WAIT (%s)", c.PingPeriod, c.PongWait)
	}
	if c.HistoryDefaultLimit <= 0 || c.HistoryDefaultLimit > c.HistoryMaxLimit {
		return fmt.Errorf("HISTORY_DEFAULT_LIMIT must be in (0, %d]", c.HistoryMaxLimit)
	}
	return nil
}

func (c Config) Origins() []string {
	return strings.Split(c.AllowedOrigins, ",")
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
