package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/subosito/gotenv"
	"github/chapool/tx-signer/internal/util"
)

type EchoServer struct {
	Debug         bool
	ListenAddress string
	// APIKeys guards the management signing endpoints. Empty disables the API routes.
	APIKeys       []string `json:"-"` // sensitive
	EnableMetrics bool
}

type LoggerServer struct {
	Level              zerolog.Level
	RequestLevel       zerolog.Level
	PrettyPrintConsole bool
}

type Keystore struct {
	// Password unlocks the keystore without prompting. Leave empty to prompt on a terminal.
	Password           string `json:"-"` // sensitive
	AllowTerminalInput bool
	// Mnemonic seeds a fresh keystore instead of generating one. Only honored when no keystore exists yet.
	ImportMnemonic string `json:"-"` // sensitive
}

type Signing struct {
	RequestTimeout    time.Duration
	UserOpRetries     int
	RPCRetries        int
	RPCRetryBaseDelay time.Duration

	BundlerAPIKey   string `json:"-"` // sensitive
	PaymasterAPIKey string `json:"-"` // sensitive
	TronAPIKey      string `json:"-"` // sensitive
	// TronFeeLimitSun caps energy spending for TRC-20 transfers.
	TronFeeLimitSun int64
	// BitcoinDefaultFeeRate is used in sat/vB when the explorer has no estimate.
	BitcoinDefaultFeeRate int64
}

type Transport struct {
	Kind          string
	Brokers       []string
	GroupID       string
	ConsumerName  string
	RequestTopic  string
	ResponseTopic string
	RedisAddr     string
	RedisPassword string `json:"-"` // sensitive
	RedisDB       int
}

type Chains struct {
	// OverrideFile optionally points to a TOML file overriding catalog endpoints.
	OverrideFile string
}

type Server struct {
	Database  Database
	Echo      EchoServer
	Logger    LoggerServer
	Keystore  Keystore
	Signing   Signing
	Transport Transport
	Chains    Chains
}

const (
	TransportKafka = "kafka"
	TransportRedis = "redis"
	TransportNone  = "none"
)

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
// We don't expect that ENV_VARs change while we are running our application or our tests
// (and it would be a bad thing to do anyways with parallel testing).
// Do NOT use os.Setenv / os.Unsetenv in tests utilizing DefaultServiceConfigFromEnv()!
func DefaultServiceConfigFromEnv() Server {
	// An `.env.local` file in your project root can override the currently set ENV variables.
	//
	// We never automatically apply `.env.local` when running "go test" as these ENV variables
	// may be sensitive (e.g. secrets to external APIs) and applying them modifies the process
	// global "os.Env" state (it should be applied via t.SetEnv instead).
	//
	// If you need dotenv ENV variables available in a test, do that explicitly within that
	// test before executing DefaultServiceConfigFromEnv (or test.WithTestServer).
	// See /internal/test/helper_dot_env.go: test.DotEnvLoadLocalOrSkipTest(t)
	if !testing() {
		DotEnvTryLoad(filepath.Join(util.GetProjectRootDir(), ".env.local"), os.Setenv)
	}

	return Server{
		Database: Database{
			Host:     util.GetEnv("PGHOST", "postgres"),
			Port:     util.GetEnvAsInt("PGPORT", 5432),
			Database: util.GetEnv("PGDATABASE", "signer"),
			Username: util.GetEnv("PGUSER", "dbuser"),
			Password: util.GetEnv("PGPASSWORD", ""),
			AdditionalParams: map[string]string{
				"sslmode": util.GetEnv("PGSSLMODE", "disable"),
			},
			MaxOpenConns:    util.GetEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    util.GetEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: util.GetEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Echo: EchoServer{
			Debug:         util.GetEnvAsBool("SERVER_ECHO_DEBUG", false),
			ListenAddress: util.GetEnv("SERVER_ECHO_LISTEN_ADDRESS", ":8080"),
			APIKeys:       util.GetEnvAsStringArrTrimmed("SERVER_MANAGEMENT_API_KEYS", []string{}),
			EnableMetrics: util.GetEnvAsBool("SERVER_ECHO_ENABLE_METRICS", true),
		},
		Logger: LoggerServer{
			Level:              util.LogLevelFromString(util.GetEnv("SERVER_LOGGER_LEVEL", zerolog.DebugLevel.String())),
			RequestLevel:       util.LogLevelFromString(util.GetEnv("SERVER_LOGGER_REQUEST_LEVEL", zerolog.DebugLevel.String())),
			PrettyPrintConsole: util.GetEnvAsBool("SERVER_LOGGER_PRETTY_PRINT_CONSOLE", false),
		},
		Keystore: Keystore{
			Password:           util.GetEnv("KEYSTORE_PASSWORD", ""),
			AllowTerminalInput: util.GetEnvAsBool("KEYSTORE_ALLOW_TERMINAL_INPUT", true),
			ImportMnemonic:     util.GetEnv("KEYSTORE_IMPORT_MNEMONIC", ""),
		},
		Signing: Signing{
			RequestTimeout:        util.GetEnvAsDuration("SIGNING_REQUEST_TIMEOUT", 60*time.Second),
			UserOpRetries:         util.GetEnvAsInt("SIGNING_USEROP_RETRIES", 5),
			RPCRetries:            util.GetEnvAsInt("SIGNING_RPC_RETRIES", 3),
			RPCRetryBaseDelay:     util.GetEnvAsDuration("SIGNING_RPC_RETRY_BASE_DELAY", 250*time.Millisecond),
			BundlerAPIKey:         util.GetEnv("SIGNING_BUNDLER_API_KEY", ""),
			PaymasterAPIKey:       util.GetEnv("SIGNING_PAYMASTER_API_KEY", ""),
			TronAPIKey:            util.GetEnv("SIGNING_TRON_API_KEY", ""),
			TronFeeLimitSun:       int64(util.GetEnvAsInt("SIGNING_TRON_FEE_LIMIT_SUN", 100_000_000)),
			BitcoinDefaultFeeRate: int64(util.GetEnvAsInt("SIGNING_BITCOIN_DEFAULT_FEE_RATE", 10)),
		},
		Transport: Transport{
			Kind:          util.GetEnvEnum("TRANSPORT_KIND", TransportKafka, []string{TransportKafka, TransportRedis, TransportNone}),
			Brokers:       util.GetEnvAsStringArrTrimmed("TRANSPORT_KAFKA_BROKERS", []string{"kafka:9092"}),
			GroupID:       util.GetEnv("TRANSPORT_GROUP_ID", "tx-signer"),
			ConsumerName:  util.GetEnv("TRANSPORT_CONSUMER_NAME", util.GetEnv("HOSTNAME", "tx-signer-0")),
			RequestTopic:  util.GetEnv("TRANSPORT_REQUEST_TOPIC", "signer.requests"),
			ResponseTopic: util.GetEnv("TRANSPORT_RESPONSE_TOPIC", "signer.envelopes"),
			RedisAddr:     util.GetEnv("TRANSPORT_REDIS_ADDR", "redis:6379"),
			RedisPassword: util.GetEnv("TRANSPORT_REDIS_PASSWORD", ""),
			RedisDB:       util.GetEnvAsInt("TRANSPORT_REDIS_DB", 0),
		},
		Chains: Chains{
			OverrideFile: util.GetEnv("CHAINS_OVERRIDE_FILE", ""),
		},
	}
}

// DotEnvTryLoad forcefully overrides ENV variables through **a maybe available** .env file.
//
// This function is only useful for local development and tests.
// Errors are logged but never fatal: a missing file is the common case.
func DotEnvTryLoad(absolutePathToEnvFile string, setEnvFn func(k string, v string) error) {
	envs, err := gotenv.Read(absolutePathToEnvFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("envFile", absolutePathToEnvFile).Msg(".env parse error, skipping")
		}
		return
	}

	log.Warn().Str("envFile", absolutePathToEnvFile).Msg(".env overrides ENV variables!")

	for k, v := range envs {
		if err := setEnvFn(k, v); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("Failed to set ENV variable from .env")
		}
	}
}

func testing() bool {
	return len(os.Args) > 0 && filepath.Ext(os.Args[0]) == ".test"
}
