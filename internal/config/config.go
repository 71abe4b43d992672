package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the dashboard service.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	BackendURL       string
	BackendTimeout   time.Duration
	FetchTimeout     time.Duration
	FetchConcurrency int
	UploadMaxBytes   int64
	AcceptedExts     []string
	EndpointsFile    string

	AuthToken        string
	AuthTokenURL     string
	AuthClientID     string
	AuthClientSecret string

	LogLevel  string
	LogFormat string

	EventsSQLitePath string

	EventsDBEnabled      bool
	EventsDBHost         string
	EventsDBPort         int
	EventsDBUser         string
	EventsDBPassword     string
	EventsDBName         string
	EventsDBConnTimeout  time.Duration
	EventsDBQueryTimeout time.Duration

	EventsAMQPURL      string
	EventsAMQPExchange string
}

// FromEnv loads configuration from environment variables with sensible defaults.
func FromEnv() Config {
	loadConfigDefaultsFromFile()
	loadSecretsDefaultsFromFile()

	return Config{
		ListenAddr:           getEnv("APP_LISTEN_ADDR", ":8080"),
		ReadTimeout:          time.Duration(getEnvInt("APP_READ_TIMEOUT_SEC", 30)) * time.Second,
		WriteTimeout:         time.Duration(getEnvInt("APP_WRITE_TIMEOUT_SEC", 60)) * time.Second,
		ShutdownTimeout:      time.Duration(getEnvInt("APP_SHUTDOWN_TIMEOUT_SEC", 10)) * time.Second,
		BackendURL:           getEnv("APP_BACKEND_URL", "http://127.0.0.1:5000"),
		BackendTimeout:       time.Duration(getEnvInt("APP_BACKEND_TIMEOUT_SEC", 120)) * time.Second,
		FetchTimeout:         time.Duration(getEnvInt("APP_FETCH_TIMEOUT_SEC", 60)) * time.Second,
		FetchConcurrency:     getEnvInt("APP_FETCH_CONCURRENCY", 1),
		UploadMaxBytes:       int64(getEnvInt("APP_UPLOAD_MAX_MB", 256)) << 20,
		AcceptedExts:         getEnvList("APP_ACCEPTED_EXTENSIONS", []string{".csv", ".log", ".txt"}),
		EndpointsFile:        getEnv("APP_ENDPOINTS_FILE", ""),
		AuthToken:            getEnv("APP_AUTH_TOKEN", ""),
		AuthTokenURL:         getEnv("APP_AUTH_TOKEN_URL", ""),
		AuthClientID:         getEnv("APP_AUTH_CLIENT_ID", ""),
		AuthClientSecret:     getEnv("APP_AUTH_CLIENT_SECRET", ""),
		LogLevel:             getEnv("APP_LOG_LEVEL", "info"),
		LogFormat:            getEnv("APP_LOG_FORMAT", "json"),
		EventsSQLitePath:     getEnv("APP_EVENTS_SQLITE_PATH", ""),
		EventsDBEnabled:      getEnvBool("APP_EVENTS_DB_ENABLED", false),
		EventsDBHost:         getEnv("APP_EVENTS_DB_HOST", "127.0.0.1"),
		EventsDBPort:         getEnvInt("APP_EVENTS_DB_PORT", 3306),
		EventsDBUser:         getEnv("APP_EVENTS_DB_USER", "logdash"),
		EventsDBPassword:     getEnv("APP_EVENTS_DB_PASSWORD", ""),
		EventsDBName:         getEnv("APP_EVENTS_DB_NAME", "logdash"),
		EventsDBConnTimeout:  time.Duration(getEnvInt("APP_EVENTS_DB_CONN_TIMEOUT_SEC", 5)) * time.Second,
		EventsDBQueryTimeout: time.Duration(getEnvInt("APP_EVENTS_DB_QUERY_TIMEOUT_SEC", 5)) * time.Second,
		EventsAMQPURL:        getEnv("APP_EVENTS_AMQP_URL", ""),
		EventsAMQPExchange:   getEnv("APP_EVENTS_AMQP_EXCHANGE", "logdash.events"),
	}
}

// AcceptAttr renders the accepted extensions as an HTML accept attribute.
func (c Config) AcceptAttr() string {
	return strings.Join(c.AcceptedExts, ",")
}

// EventsMySQLDSN returns a mysql driver DSN for the failure event store.
func (c Config) EventsMySQLDSN() string {
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("timeout", c.EventsDBConnTimeout.String())
	params.Set("readTimeout", c.EventsDBQueryTimeout.String())
	params.Set("writeTimeout", c.EventsDBQueryTimeout.String())
	params.Set("charset", "utf8mb4")
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.EventsDBUser, c.EventsDBPassword, c.EventsDBHost, c.EventsDBPort, c.EventsDBName, params.Encode())
}

func loadConfigDefaultsFromFile() {
	bootstrapCandidates := []string{
		"./logdash.env",
		"/etc/default/logdash",
	}
	for _, candidate := range bootstrapCandidates {
		_ = applyEnvDefaultsFromFile(absPath(candidate))
	}

	candidates := make([]string, 0, 2)
	if explicit := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, "/etc/logdash/config.env")

	for _, candidate := range candidates {
		if err := applyEnvDefaultsFromFile(absPath(candidate)); err == nil {
			return
		}
	}
}

func loadSecretsDefaultsFromFile() {
	candidates := make([]string, 0, 3)
	if explicit := strings.TrimSpace(os.Getenv("APP_SECRETS_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	if credDir := strings.TrimSpace(os.Getenv("CREDENTIALS_DIRECTORY")); credDir != "" {
		credName := strings.TrimSpace(os.Getenv("APP_SECRETS_CREDENTIAL_NAME"))
		if credName == "" {
			credName = "logdash-secrets"
		}
		candidates = append(candidates, filepath.Join(credDir, credName))
	}
	candidates = append(candidates, "/etc/logdash/secrets.env")
	for _, candidate := range candidates {
		if err := applyEnvDefaultsFromFile(candidate); err == nil {
			return
		}
	}
}

func absPath(candidate string) string {
	if filepath.IsAbs(candidate) {
		return candidate
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, candidate)
	}
	return candidate
}

// applyEnvDefaultsFromFile sets KEY=value pairs from path for keys that are
// not already present in the environment.
func applyEnvDefaultsFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if key == "" {
			continue
		}

		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}

		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}

	return scanner.Err()
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvList(key string, def []string) []string {
	val := strings.TrimSpace(os.Getenv(key))
	parts := def
	if val != "" {
		parts = strings.Split(val, ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
