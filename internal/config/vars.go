package config

const (
	ConfigFileName       = "sidetree.toml"
	DefaultBaseDirectory = "~/.sidetree-oracle"

	DefaultHTTPHost    = "127.0.0.1:8000"
	DefaultRPCEndpoint = "http://127.0.0.1:8332" // default local node

	BackendLevelDB        = "leveldb"
	BackendPebble         = "pebble"
	DefaultStorageBackend = BackendLevelDB

	DefaultAnchorPrefix             = "sidetree:"
	DefaultGenesisBlockNumber       = 0
	DefaultPageSize                 = 100
	DefaultPollPeriodSeconds        = 60
	DefaultRequestTimeoutMS         = 10_000
	DefaultRequestMaxRetries        = 3
	DefaultMaxTransactionInputCount = 50

	DefaultHistoricalOffset     = 14
	DefaultQuantileScale        = 1.0
	DefaultInitialNormalizedFee = 10_000
	DefaultBatchSizeInBlocks    = 10
	DefaultWindowSizeInBatches  = 100
	DefaultSampleSize           = 100
	DefaultQuantile             = 0.25
	DefaultFeeApproximation     = 25

	DefaultAnchorFeeSatoshis = 30_000
)
