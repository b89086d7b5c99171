package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App      `json:"app"      toml:"app"`
		HTTP     `json:"http"     toml:"http"`
		DB       `json:"db"       toml:"db"`
		Log      `json:"logger"   toml:"logger"`
		Tracing  `json:"tracing"  toml:"tracing"`
		Gate     `json:"gate"     toml:"gate"`
		Probe    `json:"probe"    toml:"probe"`
		Channels `json:"channels" toml:"channels"`
		Sync     `json:"sync"     toml:"sync"`
		Wallet   `json:"wallet"   toml:"wallet"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME" env-default:"paymesh"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		Driver            string `json:"driver"              toml:"driver"              env:"DB_DRIVER"            env-default:"sqlite"`
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		SQLitePath        string `json:"sqlite_path"         toml:"sqlite_path"         env:"SQLITE_PATH"          env-default:"paymesh.db"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}

	Tracing struct {
		URL string `json:"url" toml:"url" env:"TRACING_URL"`
	}

	// Gate holds the risk thresholds. The values are calibration points, not contract.
	Gate struct {
		FailOpen              bool    `json:"fail_open"               toml:"fail_open"               env:"GATE_FAIL_OPEN"               env-default:"true"`
		ContentThreshold      float64 `json:"content_threshold"       toml:"content_threshold"       env:"GATE_CONTENT_THRESHOLD"       env-default:"0.7"`
		AnomalyThreshold      float64 `json:"anomaly_threshold"       toml:"anomaly_threshold"       env:"GATE_ANOMALY_THRESHOLD"       env-default:"0.15"`
		NotificationThreshold float64 `json:"notification_threshold"  toml:"notification_threshold"  env:"GATE_NOTIFICATION_THRESHOLD"  env-default:"0.4"`
		TrustWindow           int     `json:"trust_window"            toml:"trust_window"            env:"GATE_TRUST_WINDOW"            env-default:"30"`
		TrustMinHistory       int     `json:"trust_min_history"       toml:"trust_min_history"       env:"GATE_TRUST_MIN_HISTORY"       env-default:"5"`
		TrustSigma            float64 `json:"trust_sigma"             toml:"trust_sigma"             env:"GATE_TRUST_SIGMA"             env-default:"2"`
		TrustPenalty          float64 `json:"trust_penalty"           toml:"trust_penalty"           env:"GATE_TRUST_PENALTY"           env-default:"0.25"`
		TrustFloor            float64 `json:"trust_floor"             toml:"trust_floor"             env:"GATE_TRUST_FLOOR"             env-default:"0.5"`
		TrustNeutral          float64 `json:"trust_neutral"           toml:"trust_neutral"           env:"GATE_TRUST_NEUTRAL"           env-default:"0.5"`
		ActiveFrom            string  `json:"active_from"             toml:"active_from"             env:"GATE_ACTIVE_FROM"             env-default:"07:00"`
		ActiveUntil           string  `json:"active_until"            toml:"active_until"            env:"GATE_ACTIVE_UNTIL"            env-default:"22:00"`
		ClassifierURL         string  `json:"classifier_url"          toml:"classifier_url"          env:"GATE_CLASSIFIER_URL"`
		ScorerURL             string  `json:"scorer_url"              toml:"scorer_url"              env:"GATE_SCORER_URL"`
		ModelTimeout          int     `json:"model_timeout"           toml:"model_timeout"           env:"GATE_MODEL_TIMEOUT"           env-default:"5"`
	}

	Probe struct {
		CacheTTL            int      `json:"cache_ttl"             toml:"cache_ttl"             env:"PROBE_CACHE_TTL"             env-default:"30"`
		SignalTimeout       int      `json:"signal_timeout"        toml:"signal_timeout"        env:"PROBE_SIGNAL_TIMEOUT"        env-default:"5"`
		DNSHost             string   `json:"dns_host"              toml:"dns_host"              env:"PROBE_DNS_HOST"              env-default:"www.google.com"`
		TCPAddress          string   `json:"tcp_address"           toml:"tcp_address"           env:"PROBE_TCP_ADDRESS"           env-default:"1.1.1.1:443"`
		HealthURL           string   `json:"health_url"            toml:"health_url"            env:"PROBE_HEALTH_URL"`
		ScanTimeout         int      `json:"scan_timeout"          toml:"scan_timeout"          env:"PROBE_SCAN_TIMEOUT"          env-default:"10"`
		MinDeviceConfidence float64  `json:"min_device_confidence" toml:"min_device_confidence" env:"PROBE_MIN_DEVICE_CONFIDENCE" env-default:"0.5"`
		PaymentServiceUUIDs []string `json:"payment_service_uuids" toml:"payment_service_uuids" env:"PROBE_PAYMENT_SERVICE_UUIDS" env-separator:","`
		WatchInterval       int      `json:"watch_interval"        toml:"watch_interval"        env:"PROBE_WATCH_INTERVAL"        env-default:"15"`
	}

	Channels struct {
		AttemptTimeout    int    `json:"attempt_timeout"     toml:"attempt_timeout"     env:"CHANNEL_ATTEMPT_TIMEOUT"  env-default:"10"`
		PaymentsURL       string `json:"payments_url"        toml:"payments_url"        env:"PAYMENTS_URL"`
		PaymentsAPIKey    string `json:"payments_api_key"    toml:"payments_api_key"    env:"PAYMENTS_API_KEY"`
		GatewayURL        string `json:"gateway_url"         toml:"gateway_url"         env:"GATEWAY_URL"              env-default:"https://api.twilio.com/2010-04-01"`
		GatewayAccountSID string `json:"gateway_account_sid" toml:"gateway_account_sid" env:"GATEWAY_ACCOUNT_SID"`
		GatewayAuthToken  string `json:"gateway_auth_token"  toml:"gateway_auth_token"  env:"GATEWAY_AUTH_TOKEN"`
		GatewayFrom       string `json:"gateway_from"        toml:"gateway_from"        env:"GATEWAY_FROM"`
		LocalStoreEnabled bool   `json:"local_store_enabled" toml:"local_store_enabled" env:"LOCAL_STORE_ENABLED"      env-default:"true"`
	}

	Sync struct {
		EndpointURL    string `json:"endpoint_url"    toml:"endpoint_url"    env:"SYNC_ENDPOINT_URL"`
		Interval       int    `json:"interval"        toml:"interval"        env:"SYNC_INTERVAL"        env-default:"60"`
		RequestTimeout int    `json:"request_timeout" toml:"request_timeout" env:"SYNC_REQUEST_TIMEOUT" env-default:"10"`
		BatchSize      int    `json:"batch_size"      toml:"batch_size"      env:"SYNC_BATCH_SIZE"      env-default:"100"`
		JWTSecret      string `json:"jwt_secret"      toml:"jwt_secret"      env:"SYNC_JWT_SECRET"`
		JWTIssuer      string `json:"jwt_issuer"      toml:"jwt_issuer"      env:"SYNC_JWT_ISSUER"      env-default:"paymesh-device"`
		ServerPort     string `json:"server_port"     toml:"server_port"     env:"SYNC_SERVER_PORT"     env-default:"5000"`
		SQLitePath     string `json:"sqlite_path"     toml:"sqlite_path"     env:"SYNC_SQLITE_PATH"     env-default:"paymesh-sync.db"`
	}

	Wallet struct {
		Mnemonic string `json:"mnemonic" toml:"mnemonic" env:"WALLET_MNEMONIC"`
		Index    uint32 `json:"index"    toml:"index"    env:"WALLET_INDEX" env-default:"0"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}

// Seconds converts the integer second fields used throughout the config.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
