package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/core"
	"github.com/anchorwatch/sidetree-oracle/internal/logging"
)

// ProofOfFeeSettings shapes the normalized-fee pipeline.
type ProofOfFeeSettings struct {
	HistoricalOffsetInBlocks uint32
	QuantileScale            float64
	InitialNormalizedFee     uint64

	BatchSizeInBlocks   uint32
	WindowSizeInBatches uint32
	SampleSize          uint32
	Quantile            float64
	FeeApproximation    uint64
}

// Config is loaded once at startup and handed to the components that need
// it; nothing reads viper after Load returns.
type Config struct {
	BaseDirectory  string
	DBPath         string
	LogsPath       string
	LogLevel       string
	LogToConsole   bool
	StorageBackend string

	HTTPHost string

	RPCEndpoint       string
	RPCUser           string
	RPCPass           string
	CookiePath        string
	RequestTimeoutMS  uint32
	RequestMaxRetries uint32

	SidetreeTransactionPrefix    string
	GenesisBlockNumber           uint32
	TransactionFetchPageSize     uint32
	TransactionPollPeriodSeconds uint32
	MaxTransactionInputCount     uint32

	ProofOfFee ProofOfFeeSettings

	// write path; the writer stays disabled while the WIF is empty
	WalletWIF         string
	AnchorFeeSatoshis uint64
	Network           string
}

// Load reads the TOML config file, applies defaults and environment
// overrides, and validates the result.
func Load(pathToConfig string) (*Config, error) {
	viper.SetConfigFile(pathToConfig)

	if err := viper.ReadInConfig(); err != nil {
		logging.L.Warn().Err(err).Msg("No config file detected")
	}

	/* set defaults */
	viper.SetDefault("http_host", DefaultHTTPHost)
	viper.SetDefault("rpc_endpoint", DefaultRPCEndpoint)
	viper.SetDefault("storage_backend", DefaultStorageBackend)
	viper.SetDefault("network", "main")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_path", "")
	viper.SetDefault("log_to_console", true)

	viper.SetDefault("sidetree_transaction_prefix", DefaultAnchorPrefix)
	viper.SetDefault("genesis_block_number", DefaultGenesisBlockNumber)
	viper.SetDefault("transaction_fetch_page_size", DefaultPageSize)
	viper.SetDefault("transaction_poll_period_seconds", DefaultPollPeriodSeconds)
	viper.SetDefault("request_timeout_ms", DefaultRequestTimeoutMS)
	viper.SetDefault("request_max_retries", DefaultRequestMaxRetries)
	viper.SetDefault("max_transaction_input_count", DefaultMaxTransactionInputCount)

	viper.SetDefault("proof_of_fee.historical_offset_in_blocks", DefaultHistoricalOffset)
	viper.SetDefault("proof_of_fee.quantile_scale", DefaultQuantileScale)
	viper.SetDefault("proof_of_fee.initial_normalized_fee", DefaultInitialNormalizedFee)
	viper.SetDefault("proof_of_fee.batch_size_in_blocks", DefaultBatchSizeInBlocks)
	viper.SetDefault("proof_of_fee.window_size_in_batches", DefaultWindowSizeInBatches)
	viper.SetDefault("proof_of_fee.sample_size", DefaultSampleSize)
	viper.SetDefault("proof_of_fee.quantile", DefaultQuantile)
	viper.SetDefault("proof_of_fee.fee_approximation", DefaultFeeApproximation)

	viper.SetDefault("anchor_fee_satoshis", DefaultAnchorFeeSatoshis)

	// Bind viper keys to environment variables (optional, for backup)
	viper.AutomaticEnv()
	viper.BindEnv("http_host", "HTTP_HOST")
	viper.BindEnv("rpc_endpoint", "RPC_ENDPOINT")
	viper.BindEnv("rpc_user", "RPC_USER")
	viper.BindEnv("rpc_pass", "RPC_PASS")
	viper.BindEnv("cookie_path", "COOKIE_PATH")
	viper.BindEnv("network", "NETWORK")
	viper.BindEnv("storage_backend", "STORAGE_BACKEND")
	viper.BindEnv("genesis_block_number", "GENESIS_BLOCK_NUMBER")
	viper.BindEnv("log_level", "LOG_LEVEL")
	viper.BindEnv("wallet_wif", "WALLET_WIF")

	cfg := &Config{
		HTTPHost:       viper.GetString("http_host"),
		LogLevel:       viper.GetString("log_level"),
		LogsPath:       viper.GetString("log_path"),
		LogToConsole:   viper.GetBool("log_to_console"),
		StorageBackend: viper.GetString("storage_backend"),

		RPCEndpoint:       viper.GetString("rpc_endpoint"),
		RPCUser:           viper.GetString("rpc_user"),
		RPCPass:           viper.GetString("rpc_pass"),
		CookiePath:        viper.GetString("cookie_path"),
		RequestTimeoutMS:  viper.GetUint32("request_timeout_ms"),
		RequestMaxRetries: viper.GetUint32("request_max_retries"),

		SidetreeTransactionPrefix:    viper.GetString("sidetree_transaction_prefix"),
		GenesisBlockNumber:           viper.GetUint32("genesis_block_number"),
		TransactionFetchPageSize:     viper.GetUint32("transaction_fetch_page_size"),
		TransactionPollPeriodSeconds: viper.GetUint32("transaction_poll_period_seconds"),
		MaxTransactionInputCount:     viper.GetUint32("max_transaction_input_count"),

		ProofOfFee: ProofOfFeeSettings{
			HistoricalOffsetInBlocks: viper.GetUint32("proof_of_fee.historical_offset_in_blocks"),
			QuantileScale:            viper.GetFloat64("proof_of_fee.quantile_scale"),
			InitialNormalizedFee:     viper.GetUint64("proof_of_fee.initial_normalized_fee"),
			BatchSizeInBlocks:        viper.GetUint32("proof_of_fee.batch_size_in_blocks"),
			WindowSizeInBatches:      viper.GetUint32("proof_of_fee.window_size_in_batches"),
			SampleSize:               viper.GetUint32("proof_of_fee.sample_size"),
			Quantile:                 viper.GetFloat64("proof_of_fee.quantile"),
			FeeApproximation:         viper.GetUint64("proof_of_fee.fee_approximation"),
		},

		WalletWIF:         viper.GetString("wallet_wif"),
		AnchorFeeSatoshis: viper.GetUint64("anchor_fee_satoshis"),
		Network:           viper.GetString("network"),
	}

	switch cfg.LogLevel {
	case "trace":
		logging.SetLogLevel(zerolog.TraceLevel)
	case "debug":
		logging.SetLogLevel(zerolog.DebugLevel)
	case "info":
		logging.SetLogLevel(zerolog.InfoLevel)
	case "warn":
		logging.SetLogLevel(zerolog.WarnLevel)
	case "error":
		logging.SetLogLevel(zerolog.ErrorLevel)
	}

	if err := cfg.readCookie(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readCookie() error {
	if c.CookiePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.CookiePath)
	if err != nil {
		return fmt.Errorf("error reading cookie file: %w", err)
	}
	credentials := strings.Split(strings.TrimSpace(string(data)), ":")
	if len(credentials) != 2 {
		return errors.New("cookie file is invalid")
	}
	c.RPCUser = credentials[0]
	c.RPCPass = credentials[1]
	return nil
}

func (c *Config) validate() error {
	if c.RPCUser == "" || c.RPCPass == "" {
		return errors.New("rpc credentials not set")
	}
	if c.SidetreeTransactionPrefix == "" {
		return errors.New("sidetree_transaction_prefix not set")
	}
	if c.ProofOfFee.Quantile <= 0 || c.ProofOfFee.Quantile >= 1 {
		return errors.New("proof_of_fee.quantile must be in (0, 1)")
	}
	if c.ProofOfFee.BatchSizeInBlocks == 0 {
		return errors.New("proof_of_fee.batch_size_in_blocks must be positive")
	}
	if c.ProofOfFee.WindowSizeInBatches == 0 {
		return errors.New("proof_of_fee.window_size_in_batches must be positive")
	}
	if c.ProofOfFee.SampleSize == 0 {
		return errors.New("proof_of_fee.sample_size must be positive")
	}
	if c.TransactionFetchPageSize == 0 {
		return errors.New("transaction_fetch_page_size must be positive")
	}
	switch c.StorageBackend {
	case BackendLevelDB, BackendPebble:
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	switch c.Network {
	case "main", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}
	return nil
}

// SetDirectories resolves the data layout below the base directory. Has to
// run before any store is opened.
func (c *Config) SetDirectories() {
	c.DBPath = filepath.Join(c.BaseDirectory, "data")
	if c.LogsPath == "" {
		c.LogsPath = filepath.Join(c.BaseDirectory, "logs")
	}
}

func (c *Config) DBPathTransactions() string {
	return filepath.Join(c.DBPath, "transactions")
}

func (c *Config) DBPathQuantileSnapshots() string {
	return filepath.Join(c.DBPath, "quantile-snapshots")
}

func (c *Config) DBPathPebble() string {
	return filepath.Join(c.DBPath, "pebbledb")
}

/* wiring helpers */

func (c *Config) BitcoindConfig() chain.BitcoindConfig {
	return chain.BitcoindConfig{
		Endpoint:       c.RPCEndpoint,
		User:           c.RPCUser,
		Pass:           c.RPCPass,
		RequestTimeout: time.Duration(c.RequestTimeoutMS) * time.Millisecond,
		MaxRetries:     c.RequestMaxRetries,
	}
}

func (c *Config) QuantileConfig() core.QuantileConfig {
	return core.QuantileConfig{
		BatchSizeInBlocks:   c.ProofOfFee.BatchSizeInBlocks,
		WindowSizeInBatches: c.ProofOfFee.WindowSizeInBatches,
		SampleSize:          c.ProofOfFee.SampleSize,
		Quantile:            c.ProofOfFee.Quantile,
		FeeApproximation:    c.ProofOfFee.FeeApproximation,
	}
}

func (c *Config) ProofOfFeeConfig() core.ProofOfFeeConfig {
	return core.ProofOfFeeConfig{
		GenesisBlockNumber:       c.GenesisBlockNumber,
		HistoricalOffsetInBlocks: c.ProofOfFee.HistoricalOffsetInBlocks,
		QuantileScale:            c.ProofOfFee.QuantileScale,
		InitialNormalizedFee:     c.ProofOfFee.InitialNormalizedFee,
	}
}

func (c *Config) EngineConfig() core.EngineConfig {
	return core.EngineConfig{
		AnchorPrefix:             []byte(c.SidetreeTransactionPrefix),
		GenesisBlockNumber:       c.GenesisBlockNumber,
		BatchSizeInBlocks:        c.ProofOfFee.BatchSizeInBlocks,
		MaxTransactionInputCount: c.MaxTransactionInputCount,
		PollPeriod:               time.Duration(c.TransactionPollPeriodSeconds) * time.Second,
	}
}
