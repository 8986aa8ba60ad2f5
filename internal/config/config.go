package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cron      CronConfig      `mapstructure:"cron"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Voting    VotingConfig    `mapstructure:"voting"`
	Custody   CustodyConfig   `mapstructure:"custody"`
	Callbacks CallbacksConfig `mapstructure:"callbacks"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// RedisConfig enables cross-replica locks. An empty Addr keeps locks in process.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockWait  time.Duration `mapstructure:"lock_wait"`
}

type CronConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	AdvanceReveal    string `mapstructure:"advance_reveal"`
	ResolveRequests  string `mapstructure:"resolve_requests"`
	SettleExpired    string `mapstructure:"settle_expired"`
	RetrySettlements string `mapstructure:"retry_settlements"`
	RetryTransfers   string `mapstructure:"retry_transfers"`
	BatchSize        int    `mapstructure:"batch_size"`
}

type OracleConfig struct {
	Owner                string        `mapstructure:"owner"`
	Account              string        `mapstructure:"account"`
	DefaultCurrency      string        `mapstructure:"default_currency"`
	DefaultLiveness      time.Duration `mapstructure:"default_liveness"`
	BurnedBondPercentage string        `mapstructure:"burned_bond_percentage"`
	VotingEnabled        bool          `mapstructure:"voting_enabled"`
}

type VotingConfig struct {
	Owner                         string        `mapstructure:"owner"`
	Account                       string        `mapstructure:"account"`
	CommitDuration                time.Duration `mapstructure:"commit_duration"`
	RevealDuration                time.Duration `mapstructure:"reveal_duration"`
	MinParticipationBps           int64         `mapstructure:"min_participation_bps"`
	TreasuryBps                   int64         `mapstructure:"treasury_bps"`
	MaxLowParticipationExtensions int           `mapstructure:"max_low_participation_extensions"`
	VotingToken                   string        `mapstructure:"voting_token"`
	Treasury                      string        `mapstructure:"treasury"`
}

type CustodyConfig struct {
	// Mode is "memory" or "http".
	Mode    string        `mapstructure:"mode"`
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// NotifierAccount is the only caller allowed to post inbound transfer
	// notifications when custody is remote.
	NotifierAccount string `mapstructure:"notifier_account"`
}

type CallbacksConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Token is sent as a bearer token with every webhook.
	Token string `mapstructure:"token"`
	// Recipients maps a callback recipient account to its webhook URL.
	Recipients map[string]string `mapstructure:"recipients"`
}

type DispatchConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "nest:lock:")
	v.SetDefault("redis.lock_ttl", "30s")
	v.SetDefault("redis.lock_wait", "10s")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.advance_reveal", "*/15 * * * * *")
	v.SetDefault("cron.resolve_requests", "*/30 * * * * *")
	v.SetDefault("cron.settle_expired", "*/30 * * * * *")
	v.SetDefault("cron.retry_settlements", "0 * * * * *")
	v.SetDefault("cron.retry_transfers", "30 * * * * *")
	v.SetDefault("cron.batch_size", 100)

	v.SetDefault("oracle.owner", "admin")
	v.SetDefault("oracle.account", "oracle")
	v.SetDefault("oracle.default_currency", "")
	v.SetDefault("oracle.default_liveness", "2h")
	v.SetDefault("oracle.burned_bond_percentage", "500000000000000000")
	v.SetDefault("oracle.voting_enabled", true)

	v.SetDefault("voting.owner", "admin")
	v.SetDefault("voting.account", "voting")
	v.SetDefault("voting.commit_duration", "24h")
	v.SetDefault("voting.reveal_duration", "24h")
	v.SetDefault("voting.min_participation_bps", 500)
	v.SetDefault("voting.treasury_bps", 5000)
	v.SetDefault("voting.max_low_participation_extensions", 1)
	v.SetDefault("voting.voting_token", "")
	v.SetDefault("voting.treasury", "")

	v.SetDefault("custody.mode", "memory")
	v.SetDefault("custody.base_url", "")
	v.SetDefault("custody.timeout", "15s")
	v.SetDefault("custody.notifier_account", "")

	v.SetDefault("callbacks.timeout", "10s")
	v.SetDefault("callbacks.token", "")

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 256)

	v.SetDefault("telemetry.service_name", "nest-oracle")
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
