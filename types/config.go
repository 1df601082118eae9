package types

import "time"

// Config is the client and relay configuration.
type Config struct {
	// Base URL of the storage relay (POST <base>/upload).
	APIBaseURL string `toml:"api_base_url" envconfig:"API_BASE_URL" validate:"required,url"`

	// Address of the deployed payment ledger contract.
	ContractAddress string `toml:"contract_address" envconfig:"CONTRACT_ADDRESS" validate:"required,eth_addr"`

	// Upload fee in native units, e.g. "0.001".
	UploadFee string `toml:"upload_fee" envconfig:"UPLOAD_FEE" validate:"required,numeric"`

	// The single supported chain.
	ChainID uint64 `toml:"chain_id" envconfig:"CHAIN_ID" validate:"required,gt=0"`

	RPCURL string `toml:"rpc_url" envconfig:"RPC_URL" validate:"omitempty,url"`

	LogLevel string `toml:"log_level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`

	ConfirmTimeout time.Duration `toml:"confirm_timeout" envconfig:"CONFIRM_TIMEOUT" validate:"gte=0"`
	RequestTimeout time.Duration `toml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gte=0"`

	Relay RelayConfig `toml:"relay" envconfig:"RELAY"`
}

// RelayConfig configures the upload relay server.
type RelayConfig struct {
	ListenAddr     string `toml:"listen_addr" envconfig:"LISTEN_ADDR" validate:"required"`
	GatewayURL     string `toml:"gateway_url" envconfig:"GATEWAY_URL" validate:"required,url"`
	MaxFileSize    int64  `toml:"max_file_size" envconfig:"MAX_FILE_SIZE" validate:"gt=0"`
	VerifyPayments bool   `toml:"verify_payments" envconfig:"VERIFY_PAYMENTS"`
	FromBlock      uint64 `toml:"from_block" envconfig:"FROM_BLOCK"`
	CacheSize      int    `toml:"cache_size" envconfig:"CACHE_SIZE" validate:"gte=0"`

	Store string `toml:"store" envconfig:"STORE" validate:"omitempty,oneof=memory s3"`

	S3Bucket       string `toml:"s3_bucket" envconfig:"S3_BUCKET" validate:"required_if=Store s3"`
	S3Region       string `toml:"s3_region" envconfig:"S3_REGION"`
	S3Endpoint     string `toml:"s3_endpoint" envconfig:"S3_ENDPOINT" validate:"omitempty,url"`
	S3AccessKey    string `toml:"s3_access_key" envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `toml:"s3_secret_key" envconfig:"S3_SECRET_KEY"`
	S3UsePathStyle bool   `toml:"s3_use_path_style" envconfig:"S3_USE_PATH_STYLE"`
}

// DefaultConfig returns the deployment defaults: Rootstock testnet and a 0.001 fee.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:4000",
		UploadFee:      "0.001",
		ChainID:        NetworkRootstockTestnet.ChainID,
		RPCURL:         NetworkRootstockTestnet.RPCURL,
		LogLevel:       "info",
		ConfirmTimeout: 3 * time.Minute,
		RequestTimeout: 30 * time.Second,
		Relay: RelayConfig{
			ListenAddr:  ":4000",
			GatewayURL:  "https://gateway.pinata.cloud",
			MaxFileSize: MaxFileSize,
			CacheSize:   1024,
			Store:       "memory",
			S3Region:    "us-east-1",
		},
	}
}
