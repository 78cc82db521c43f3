package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Chains   ChainsConfig   `yaml:"chains"`
	Auction  AuctionConfig  `yaml:"auction"`
	Relayer  RelayerConfig  `yaml:"relayer"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message bus configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	StreamName    string `yaml:"streamName"`
	SubjectPrefix string `yaml:"subjectPrefix"`
	Timeout       int    `yaml:"timeout"`
	MaxReconnects int    `yaml:"maxReconnects"`
	Enabled       bool   `yaml:"enabled"`
}

// ChainsConfig the two sides of the swap pair
type ChainsConfig struct {
	EVM  EVMChainConfig  `yaml:"evm"`
	NEAR NEARChainConfig `yaml:"near"`
}

// EVMChainConfig EVM chain configuration
type EVMChainConfig struct {
	ChainID         int64    `yaml:"chainId"`
	Name            string   `yaml:"name"`
	RPCEndpoints    []string `yaml:"rpcEndpoints"`
	EscrowFactory   string   `yaml:"escrowFactory"`
	BridgeContract  string   `yaml:"bridgeContract"`
	PrivateKey      string   `yaml:"privateKey"`
	RelayerAddress  string   `yaml:"relayerAddress"`
	GasPrice        string   `yaml:"gasPrice"` // wei, or "auto"
	GasLimit        uint64   `yaml:"gasLimit"`
	SafetyDeposit   string   `yaml:"safetyDeposit"` // wei
	TokenDecimals   int      `yaml:"tokenDecimals"`
	TimelockOffset  int64    `yaml:"timelockOffset"` // seconds, destination cancellation offset
	EscrowSearchWin uint64   `yaml:"escrowSearchWindow"`
	Enabled         bool     `yaml:"enabled"`
}

// NEARChainConfig NEAR chain configuration
type NEARChainConfig struct {
	NetworkID       string `yaml:"networkId"` // mainnet | testnet
	RPCEndpoint     string `yaml:"rpcEndpoint"`
	EscrowAccount   string `yaml:"escrowAccount"` // escrow contract account id
	RelayerAccount  string `yaml:"relayerAccount"`
	SecretKey       string `yaml:"secretKey"`
	TokenDecimals   int    `yaml:"tokenDecimals"` // 24 for yoctoNEAR
	TimelockOffset  int64  `yaml:"timelockOffset"`
	EscrowSearchWin uint64 `yaml:"escrowSearchWindow"`
	Enabled         bool   `yaml:"enabled"`
}

// AuctionPointConfig one segment of the decay curve
type AuctionPointConfig struct {
	DelaySeconds   int64 `yaml:"delay"`
	CoefficientBps int64 `yaml:"coefficient"`
}

// AuctionConfig dutch auction curve parameters.
// All bps values use the 1_000_000 == 100% convention.
type AuctionConfig struct {
	DurationSeconds    int64                `yaml:"duration"`
	InitialRateBumpBps int64                `yaml:"initialRateBump"`
	Points             []AuctionPointConfig `yaml:"points"`
	GasBumpEstimateBps int64                `yaml:"gasBumpEstimate"`
	GasPriceEstimate   string               `yaml:"gasPriceEstimate"` // wei
	MinFillPercentage  int64                `yaml:"minFillPercentage"` // bps
	MaxRateBumpBps     int64                `yaml:"maxRateBump"`
}

// RelayerConfig engine tunables
type RelayerConfig struct {
	PollInterval     int `yaml:"pollInterval"`     // seconds
	BatchMaxBlocks   int `yaml:"batchMaxBlocks"`   // blocks per poll cycle
	MaxRetries       int `yaml:"maxRetries"`       // contract call retries
	RetryDelay       int `yaml:"retryDelay"`       // seconds, fixed
	SweepInterval    int `yaml:"sweepInterval"`    // seconds, expiry sweep cadence
	EvictionDepth    uint64 `yaml:"evictionDepth"` // blocks kept in the idempotency ledger
	SearchCandidates int `yaml:"searchCandidates"` // bounded candidate count for escrow search
}

var AppConfig *Config

// LoadConfig loads the configuration file and applies environment overrides
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return err
	}

	fmt.Printf("✅ [%s] Loaded configuration from %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)
	AppConfig = &config
	return nil
}

// overrideFromEnv overrides config values from environment variables
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
		config.NATS.Enabled = true
	}

	// EVM chain
	if rpc := os.Getenv("EVM_RPC_ENDPOINTS"); rpc != "" {
		config.Chains.EVM.RPCEndpoints = strings.Split(rpc, ",")
	}
	if factory := os.Getenv("EVM_ESCROW_FACTORY"); factory != "" {
		config.Chains.EVM.EscrowFactory = factory
	}
	if bridge := os.Getenv("EVM_BRIDGE_CONTRACT"); bridge != "" {
		config.Chains.EVM.BridgeContract = bridge
	}
	if key := os.Getenv("EVM_PRIVATE_KEY"); key != "" {
		config.Chains.EVM.PrivateKey = key
	}
	if gasPrice := os.Getenv("EVM_GAS_PRICE"); gasPrice != "" {
		config.Chains.EVM.GasPrice = gasPrice
	}
	if gasLimit := os.Getenv("EVM_GAS_LIMIT"); gasLimit != "" {
		if limit, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
			config.Chains.EVM.GasLimit = limit
		}
	}

	// NEAR chain
	if rpc := os.Getenv("NEAR_RPC_ENDPOINT"); rpc != "" {
		config.Chains.NEAR.RPCEndpoint = rpc
	}
	if account := os.Getenv("NEAR_ESCROW_ACCOUNT"); account != "" {
		config.Chains.NEAR.EscrowAccount = account
	}
	if account := os.Getenv("NEAR_RELAYER_ACCOUNT"); account != "" {
		config.Chains.NEAR.RelayerAccount = account
	}
	if key := os.Getenv("NEAR_SECRET_KEY"); key != "" {
		config.Chains.NEAR.SecretKey = key
	}

	// Relayer tunables
	if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			config.Relayer.PollInterval = v
		}
	}
	if retries := os.Getenv("MAX_RETRIES"); retries != "" {
		if v, err := strconv.Atoi(retries); err == nil {
			config.Relayer.MaxRetries = v
		}
	}
}

// applyDefaults fills unset tunables with engine defaults
func applyDefaults(config *Config) {
	if config.Relayer.PollInterval <= 0 {
		config.Relayer.PollInterval = 5
	}
	if config.Relayer.BatchMaxBlocks <= 0 {
		config.Relayer.BatchMaxBlocks = 10
	}
	if config.Relayer.MaxRetries <= 0 {
		config.Relayer.MaxRetries = 5
	}
	if config.Relayer.RetryDelay <= 0 {
		config.Relayer.RetryDelay = 10
	}
	if config.Relayer.SweepInterval <= 0 {
		config.Relayer.SweepInterval = 30
	}
	if config.Relayer.EvictionDepth == 0 {
		config.Relayer.EvictionDepth = 50_000
	}
	if config.Relayer.SearchCandidates <= 0 {
		config.Relayer.SearchCandidates = 100
	}
	if config.Chains.EVM.EscrowSearchWin == 0 {
		config.Chains.EVM.EscrowSearchWin = 10_000
	}
	if config.Chains.NEAR.EscrowSearchWin == 0 {
		config.Chains.NEAR.EscrowSearchWin = 10_000
	}
	if config.Chains.EVM.TokenDecimals == 0 {
		config.Chains.EVM.TokenDecimals = 18
	}
	if config.Chains.NEAR.TokenDecimals == 0 {
		config.Chains.NEAR.TokenDecimals = 24
	}
	if config.Auction.DurationSeconds <= 0 {
		config.Auction.DurationSeconds = 180
	}
	if config.Auction.MaxRateBumpBps == 0 {
		config.Auction.MaxRateBumpBps = config.Auction.InitialRateBumpBps
	}
}

// validate rejects configuration the process cannot start with
func validate(config *Config) error {
	if config.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if config.Chains.EVM.Enabled && len(config.Chains.EVM.RPCEndpoints) == 0 {
		return fmt.Errorf("chains.evm.rpcEndpoints is required when the EVM chain is enabled")
	}
	if config.Chains.NEAR.Enabled && config.Chains.NEAR.RPCEndpoint == "" {
		return fmt.Errorf("chains.near.rpcEndpoint is required when the NEAR chain is enabled")
	}
	if config.Auction.MaxRateBumpBps < config.Auction.InitialRateBumpBps {
		return fmt.Errorf("auction.maxRateBump must be >= auction.initialRateBump")
	}
	for i, p := range config.Auction.Points {
		if p.DelaySeconds <= 0 {
			return fmt.Errorf("auction.points[%d].delay must be positive", i)
		}
		if p.CoefficientBps < 0 || p.CoefficientBps > 1_000_000 {
			return fmt.Errorf("auction.points[%d].coefficient out of range [0, 1000000]", i)
		}
	}
	if config.Auction.InitialRateBumpBps < 0 || config.Auction.InitialRateBumpBps > 1_000_000 {
		return fmt.Errorf("auction.initialRateBump out of range [0, 1000000]")
	}
	return nil
}
