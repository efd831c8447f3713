package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Browser   BrowserConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	browser, err := loadBrowserConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log: LogConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		},
		Browser:   browser,
		Session:   session,
		RateLimit: rateLimit,
		Redis:     redis,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	origins := splitList(os.Getenv("CORS_ORIGINS"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3000" 或 "127.0.0.1:3000"。
		return ServerConfig{Addr: port, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigins: origins}, nil
}

// LogConfig 描述日志级别与格式。
type LogConfig struct {
	Level  string
	Format string
}

// BrowserConfig 描述 Chrome 的启动方式与页面默认参数。
type BrowserConfig struct {
	ExecPath       string
	RemoteURL      string
	Headless       bool
	Width          int
	Height         int
	UserAgent      string
	Locale         string
	Timezone       string
	AcceptLanguage string
}

func loadBrowserConfig() (BrowserConfig, error) {
	headless, err := parseBoolEnv("CHROME_HEADLESS", true)
	if err != nil {
		return BrowserConfig{}, err
	}

	width, err := parsePositiveIntEnv("VIEWPORT_WIDTH", 1366)
	if err != nil {
		return BrowserConfig{}, err
	}
	height, err := parsePositiveIntEnv("VIEWPORT_HEIGHT", 768)
	if err != nil {
		return BrowserConfig{}, err
	}

	return BrowserConfig{
		ExecPath:       strings.TrimSpace(os.Getenv("CHROME_PATH")),
		RemoteURL:      strings.TrimSpace(os.Getenv("CHROME_WS_URL")),
		Headless:       headless,
		Width:          width,
		Height:         height,
		UserAgent:      getEnvOrDefault("USER_AGENT", ""),
		Locale:         getEnvOrDefault("LOCALE", "pt-BR"),
		Timezone:       getEnvOrDefault("TIMEZONE", "America/Sao_Paulo"),
		AcceptLanguage: getEnvOrDefault("ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"),
	}, nil
}

// SessionConfig 描述会话生命周期与动作超时。
type SessionConfig struct {
	TTL              time.Duration
	DefaultID        string
	RequireID        bool
	CreateTimeout    time.Duration
	NavigateTimeout  time.Duration
	HistoryTimeout   time.Duration
	JPEGQuality      int
	WaitProfilesFile string
	Instance         string
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", 10*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	requireID, err := parseBoolEnv("SESSION_REQUIRE_ID", false)
	if err != nil {
		return SessionConfig{}, err
	}
	createTimeout, err := parseDurationEnv("SESSION_CREATE_TIMEOUT", 30*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	navigateTimeout, err := parseDurationEnv("NAVIGATE_TIMEOUT", 30*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	historyTimeout, err := parseDurationEnv("HISTORY_TIMEOUT", 15*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}

	quality := 80
	if override, err := parseOptionalIntEnv("JPEG_QUALITY"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 1 || *override > 100 {
			return SessionConfig{}, fmt.Errorf("invalid JPEG_QUALITY value %d: must be 1-100", *override)
		}
		quality = *override
	}

	instance := strings.TrimSpace(os.Getenv("INSTANCE_NAME"))
	if instance == "" {
		instance, _ = os.Hostname()
	}

	return SessionConfig{
		TTL:              ttl,
		DefaultID:        getEnvOrDefault("SESSION_DEFAULT_ID", "default"),
		RequireID:        requireID,
		CreateTimeout:    createTimeout,
		NavigateTimeout:  navigateTimeout,
		HistoryTimeout:   historyTimeout,
		JPEGQuality:      quality,
		WaitProfilesFile: strings.TrimSpace(os.Getenv("WAIT_PROFILES_FILE")),
		Instance:         instance,
	}, nil
}

// RateLimitConfig 描述每个会话的动作限流。RPS 为 0 表示关闭。
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	rps := 5.0
	if override, err := parseOptionalFloatEnv("ACTION_RATE"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil {
		rps = *override
	}

	burst := 10
	if override, err := parseOptionalIntEnv("ACTION_BURST"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil {
		burst = *override
	}
	return RateLimitConfig{RPS: rps, Burst: burst}, nil
}

// RedisConfig 描述会话目录使用的 Redis；Addr 为空表示不启用。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func loadRedisConfig() (RedisConfig, error) {
	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return RedisConfig{}, err
	} else if override != nil {
		db = *override
	}
	return RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 Go duration（"10m"、"1500ms"）或纯数字（毫秒）。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *val)
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
