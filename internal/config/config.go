package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/origin"
)

const (
	envVarListenAddr      = "AERO_SIGNAL_CHAT_RELAY_LISTEN_ADDR"
	envVarMode            = "AERO_SIGNAL_CHAT_RELAY_MODE"
	envVarLogFormat       = "AERO_SIGNAL_CHAT_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_SIGNAL_CHAT_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_SIGNAL_CHAT_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Per-connection WebSocket knobs, shared by /signal and /ws.
	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	envVarSendQueueBytes       = "SEND_QUEUE_BYTES"
	envVarWSWriteTimeout       = "WS_WRITE_TIMEOUT"
)

const (
	flagListenAddr           = "listen-addr"
	flagMode                 = "mode"
	flagLogFormat            = "log-format"
	flagLogLevel             = "log-level"
	flagShutdownTimeout      = "shutdown-timeout"
	flagAllowedOrigins       = "allowed-origins"
	flagMaxMessageBytes      = "max-message-bytes"
	flagMaxMessagesPerSecond = "max-messages-per-second"
	flagSendQueueBytes       = "send-queue-bytes"
	flagWSWriteTimeout       = "ws-write-timeout"
)

// Exported env var names for use in tests and docs.
const (
	EnvListenAddr           = envVarListenAddr
	EnvMode                 = envVarMode
	EnvAllowedOrigins       = envVarAllowedOrigins
	EnvMaxMessageBytes      = envVarMaxMessageBytes
	EnvMaxMessagesPerSecond = envVarMaxMessagesPerSecond
	EnvSendQueueBytes       = envVarSendQueueBytes
	EnvWSWriteTimeout       = envVarWSWriteTimeout
)

const (
	DefaultListenAddr           = "127.0.0.1:8000"
	DefaultMode                 = ModeDev
	DefaultShutdown             = 15 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 0
	DefaultSendQueueBytes       = 1 << 20
	DefaultWSWriteTimeout       = 5 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string        `validate:"required,listen_addr"`
	Mode            Mode          `validate:"oneof=dev prod"`
	LogFormat       LogFormat     `validate:"oneof=text json"`
	LogLevel        slog.Level
	ShutdownTimeout time.Duration `validate:"gt=0"`

	// AllowedOrigins is the browser Origin allow-list. Empty means same-host
	// only.
	AllowedOrigins []string `validate:"dive,required"`

	MaxMessageBytes int64 `validate:"gt=0"`
	// MaxMessagesPerSecond is the inbound rate limit per connection. 0 disables
	// it.
	MaxMessagesPerSecond int           `validate:"gte=0"`
	SendQueueBytes       int           `validate:"gt=0"`
	WSWriteTimeout       time.Duration `validate:"gt=0"`

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports a problem with the ICE server env vars. Startup does
// not fail on it; /readyz does.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Variables already set win. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := lo.Filter(files, func(f string, _ int) bool {
		_, err := os.Stat(f)
		return err == nil
	})
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	envAllowedOrigins, envAllowedOriginsOK := lookup(envVarAllowedOrigins)
	envAllowedOriginsSet := envAllowedOriginsOK && strings.TrimSpace(envAllowedOrigins) != ""

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	wsWriteTimeout, err := envDurationOrDefault(lookup, envVarWSWriteTimeout, DefaultWSWriteTimeout)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := int64(DefaultMaxMessageBytes)
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSendQueueBytes, DefaultSendQueueBytes)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-signal-chat-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr           string
		logFormatStr      string
		logLevelStr       string
		allowedOriginsStr string
	)

	fs.StringVar(&listenAddr, flagListenAddr, listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, flagMode, modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, flagLogFormat, logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, flagLogLevel, logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, flagShutdownTimeout, shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&allowedOriginsStr, flagAllowedOrigins, envAllowedOrigins, "Comma-separated list of allowed browser origins, or * (default: * in dev, same host in prod; env "+envVarAllowedOrigins+")")
	fs.Int64Var(&maxMessageBytes, flagMaxMessageBytes, maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, flagMaxMessagesPerSecond, maxMessagesPerSecond, "Max inbound WebSocket messages per second per connection (0 = unlimited; env "+envVarMaxMessagesPerSecond+")")
	fs.IntVar(&sendQueueBytes, flagSendQueueBytes, sendQueueBytes, "Max queued outbound bytes per connection before sends fail (env "+envVarSendQueueBytes+")")
	fs.DurationVar(&wsWriteTimeout, flagWSWriteTimeout, wsWriteTimeout, "Deadline for writing one WebSocket frame (env "+envVarWSWriteTimeout+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags[flagLogFormat] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags[flagLogLevel] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if !envAllowedOriginsSet && !setFlags[flagAllowedOrigins] && mode == ModeDev {
		allowedOriginsStr = origin.Wildcard
	}
	allowedOrigins, ok := origin.ParseList(allowedOriginsStr)
	if !ok {
		return Config{}, fmt.Errorf("%s/--%s: invalid origin in %q (expected full origin like https://example.com)", envVarAllowedOrigins, flagAllowedOrigins, allowedOriginsStr)
	}

	cfg := Config{
		ListenAddr:           listenAddr,
		Mode:                 mode,
		LogFormat:            logFormat,
		LogLevel:             level,
		ShutdownTimeout:      shutdownTimeout,
		AllowedOrigins:       allowedOrigins,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		SendQueueBytes:       sendQueueBytes,
		WSWriteTimeout:       wsWriteTimeout,
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// fieldSources maps Config fields to the env var and flag that set them.
var fieldSources = map[string][2]string{
	"ListenAddr":           {envVarListenAddr, flagListenAddr},
	"Mode":                 {envVarMode, flagMode},
	"LogFormat":            {envVarLogFormat, flagLogFormat},
	"ShutdownTimeout":      {envVarShutdownTimeout, flagShutdownTimeout},
	"AllowedOrigins":       {envVarAllowedOrigins, flagAllowedOrigins},
	"MaxMessageBytes":      {envVarMaxMessageBytes, flagMaxMessageBytes},
	"MaxMessagesPerSecond": {envVarMaxMessagesPerSecond, flagMaxMessagesPerSecond},
	"SendQueueBytes":       {envVarSendQueueBytes, flagSendQueueBytes},
	"WSWriteTimeout":       {envVarWSWriteTimeout, flagWSWriteTimeout},
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		if err != nil {
			return false
		}
		_, err = strconv.ParseUint(port, 10, 16)
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("register listen_addr validation: %w", err)
	}
	return v, nil
}

func validate(cfg Config) error {
	v, err := newValidator()
	if err != nil {
		return err
	}
	err = v.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		src, ok := fieldSources[fe.StructField()]
		if !ok {
			return fmt.Sprintf("%s: invalid value %v (%s)", fe.Field(), fe.Value(), rule)
		}
		return fmt.Sprintf("%s/--%s: invalid value %v (%s)", src[0], src[1], fe.Value(), rule)
	})
	return errors.New(strings.Join(msgs, "; "))
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
