// Package config loads gateway settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/DeLi-Labs/deli-app/pkg/cipher"
	"github.com/DeLi-Labs/deli-app/pkg/evm"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/sessiontoken"
	"github.com/DeLi-Labs/deli-app/pkg/storage"
)

// Keys. Each maps to the upper-cased environment variable with dots
// replaced by underscores, e.g. siwe.domain is SIWE_DOMAIN.
const (
	KeyListenAddr   = "listen_addr"
	KeyLogLevel     = "log.level"
	KeyLogFormat    = "log.format"
	KeyReadTimeout  = "http.read_timeout"
	KeyWriteTimeout = "http.write_timeout"
	KeyIdleTimeout  = "http.idle_timeout"
	KeyCORSOrigin   = "cors.allowed_origin"
	KeyAdminToken   = "admin.token"

	KeySessionSecret = "session_token.secret"
	KeySiweDomain    = "siwe.domain"
	KeySiweChainID   = "siwe.chain_id"
	KeySiweMaxAge    = "siwe.max_age"

	KeyChainID         = "chain.id"
	KeyRPCURL          = "rpc.url"
	KeyPermit2         = "permit2.address"
	KeyCampaignManager = "campaign_manager.address"
	KeyEscrow          = "escrow.address"
	KeySwapRouter      = "swap_router.address"
	KeyHook            = "fixed_price_hook.address"
	KeyUpstreamTimeout = "upstream.timeout"

	KeyIndexerType     = "indexer.type"
	KeyIndexerURL      = "indexer.url"
	KeyIndexerFile     = "indexer.file"
	KeyIndexerCacheTTL = "indexer.cache_ttl"

	KeyStorageType    = "storage.type"
	KeyStoragePath    = "storage.path"
	KeyIPFSAPI        = "ipfs.api"
	KeyArweaveGateway = "arweave.gateway"

	KeyCipherType        = "cipher_gateway.type"
	KeyLocalCipherSecret = "local_cipher.secret"
	KeyLitRelayURL       = "lit.relay_url"
	KeyLitNetwork        = "lit.network"
	KeyLitTimeout        = "lit.connect_timeout"

	KeyCaptureEnabled    = "capture.enabled"
	KeyCapturePrivateKey = "capture.private_key"
	KeyCaptureLedger     = "capture.ledger_path"
)

// CanonicalPermit2 is the Permit2 deployment address on every EVM chain.
const CanonicalPermit2 = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

type Config struct {
	ListenAddr   string
	LogLevel     string
	LogFormat    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigin   string
	AdminToken   string

	SessionSecret string
	SiweDomain    string
	SiweChainID   int64
	SiweMaxAge    time.Duration

	ChainID         int64
	RPCURL          string
	Permit2         string
	CampaignManager string
	Escrow          string
	SwapRouter      string
	Hook            string
	UpstreamTimeout time.Duration

	IndexerType     string
	IndexerURL      string
	IndexerFile     string
	IndexerCacheTTL time.Duration

	StorageType    string
	StoragePath    string
	IPFSAPI        string
	ArweaveGateway string

	CipherType        string
	LocalCipherSecret string
	LitRelayURL       string
	LitNetwork        string
	LitTimeout        time.Duration

	CaptureEnabled    bool
	CapturePrivateKey string
	CaptureLedger     string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyReadTimeout, 15*time.Second)
	v.SetDefault(KeyWriteTimeout, 60*time.Second)
	v.SetDefault(KeyIdleTimeout, 120*time.Second)
	v.SetDefault(KeyCORSOrigin, "*")

	v.SetDefault(KeySiweChainID, 1)
	v.SetDefault(KeySiweMaxAge, 300*time.Second)

	v.SetDefault(KeyChainID, 84532)
	v.SetDefault(KeyRPCURL, "http://127.0.0.1:8545")
	v.SetDefault(KeyPermit2, CanonicalPermit2)
	v.SetDefault(KeyUpstreamTimeout, 10*time.Second)

	v.SetDefault(KeyIndexerType, indexer.TypePonder)
	v.SetDefault(KeyIndexerURL, indexer.DefaultPonderURL)
	v.SetDefault(KeyIndexerCacheTTL, 30*time.Second)

	v.SetDefault(KeyStorageType, storage.TypeLocal)
	v.SetDefault(KeyStoragePath, "./data/storage.json")
	v.SetDefault(KeyIPFSAPI, "/ip4/127.0.0.1/tcp/5001")
	v.SetDefault(KeyArweaveGateway, "https://arweave.net")

	v.SetDefault(KeyCipherType, cipher.TypeLocal)
	v.SetDefault(KeyLitNetwork, "naga-dev")
	v.SetDefault(KeyLitTimeout, 30*time.Second)

	v.SetDefault(KeyCaptureEnabled, false)
	v.SetDefault(KeyCaptureLedger, "./data/captures.db")
}

// NewViper returns a viper instance reading the environment, with defaults
// registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadDotEnv loads path into the process environment when it exists.
// Variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configFile (optional) and resolves every key on v.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	c := &Config{
		ListenAddr:   v.GetString(KeyListenAddr),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFormat:    v.GetString(KeyLogFormat),
		ReadTimeout:  v.GetDuration(KeyReadTimeout),
		WriteTimeout: v.GetDuration(KeyWriteTimeout),
		IdleTimeout:  v.GetDuration(KeyIdleTimeout),
		CORSOrigin:   v.GetString(KeyCORSOrigin),
		AdminToken:   strings.TrimSpace(v.GetString(KeyAdminToken)),

		SessionSecret: strings.TrimSpace(v.GetString(KeySessionSecret)),
		SiweDomain:    strings.TrimSpace(v.GetString(KeySiweDomain)),
		SiweChainID:   v.GetInt64(KeySiweChainID),
		SiweMaxAge:    v.GetDuration(KeySiweMaxAge),

		ChainID:         v.GetInt64(KeyChainID),
		RPCURL:          strings.TrimSpace(v.GetString(KeyRPCURL)),
		Permit2:         strings.TrimSpace(v.GetString(KeyPermit2)),
		CampaignManager: strings.TrimSpace(v.GetString(KeyCampaignManager)),
		Escrow:          strings.TrimSpace(v.GetString(KeyEscrow)),
		SwapRouter:      strings.TrimSpace(v.GetString(KeySwapRouter)),
		Hook:            strings.TrimSpace(v.GetString(KeyHook)),
		UpstreamTimeout: v.GetDuration(KeyUpstreamTimeout),

		IndexerType:     strings.ToLower(v.GetString(KeyIndexerType)),
		IndexerURL:      v.GetString(KeyIndexerURL),
		IndexerFile:     v.GetString(KeyIndexerFile),
		IndexerCacheTTL: v.GetDuration(KeyIndexerCacheTTL),

		StorageType:    strings.ToLower(v.GetString(KeyStorageType)),
		StoragePath:    v.GetString(KeyStoragePath),
		IPFSAPI:        v.GetString(KeyIPFSAPI),
		ArweaveGateway: v.GetString(KeyArweaveGateway),

		CipherType:        strings.ToLower(v.GetString(KeyCipherType)),
		LocalCipherSecret: strings.TrimSpace(v.GetString(KeyLocalCipherSecret)),
		LitRelayURL:       v.GetString(KeyLitRelayURL),
		LitNetwork:        v.GetString(KeyLitNetwork),
		LitTimeout:        v.GetDuration(KeyLitTimeout),

		CaptureEnabled:    v.GetBool(KeyCaptureEnabled),
		CapturePrivateKey: strings.TrimSpace(v.GetString(KeyCapturePrivateKey)),
		CaptureLedger:     v.GetString(KeyCaptureLedger),
	}
	return c, nil
}

// Validate fails fast on settings the gateway cannot start with.
func (c *Config) Validate() error {
	if _, err := sessiontoken.ParseSecret(c.SessionSecret); err != nil {
		return fmt.Errorf("SESSION_TOKEN_SECRET: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if c.SiweChainID <= 0 {
		return fmt.Errorf("SIWE_CHAIN_ID must be positive")
	}

	addrs := []struct {
		env      string
		val      string
		required bool
	}{
		{"PERMIT2_ADDRESS", c.Permit2, true},
		{"CAMPAIGN_MANAGER_ADDRESS", c.CampaignManager, true},
		{"SWAP_ROUTER_ADDRESS", c.SwapRouter, true},
		{"FIXED_PRICE_HOOK_ADDRESS", c.Hook, true},
		{"ESCROW_ADDRESS", c.Escrow, false},
	}
	for _, a := range addrs {
		if a.val == "" && !a.required {
			continue
		}
		if !evm.IsAddress(a.val) {
			return fmt.Errorf("%s must be a 0x-prefixed 20-byte address, got %q", a.env, a.val)
		}
	}

	switch c.IndexerType {
	case indexer.TypePonder:
	case indexer.TypeLocal:
		if c.IndexerFile == "" {
			return fmt.Errorf("INDEXER_FILE is required for the local indexer")
		}
	default:
		return fmt.Errorf("INDEXER_TYPE %q is not one of ponder, local", c.IndexerType)
	}

	switch c.StorageType {
	case storage.TypeLocal, storage.TypeBolt:
		if c.StoragePath == "" {
			return fmt.Errorf("STORAGE_PATH is required for %s storage", c.StorageType)
		}
	case storage.TypeIPFS:
		if _, err := storage.HTTPBaseURL(c.IPFSAPI); err != nil {
			return fmt.Errorf("IPFS_API: %w", err)
		}
	case storage.TypeArweave:
	default:
		return fmt.Errorf("STORAGE_TYPE %q is not one of local, bolt, ipfs, arweave", c.StorageType)
	}

	switch c.CipherType {
	case cipher.TypeLocal:
		if c.LocalCipherSecret == "" {
			return fmt.Errorf("LOCAL_CIPHER_SECRET is required for the local cipher")
		}
	case cipher.TypeLit:
		if c.LitRelayURL == "" {
			return fmt.Errorf("LIT_RELAY_URL is required for the lit cipher")
		}
	default:
		return fmt.Errorf("CIPHER_GATEWAY_TYPE %q is not one of local, lit", c.CipherType)
	}

	if c.CaptureEnabled {
		if c.CapturePrivateKey == "" {
			return fmt.Errorf("CAPTURE_PRIVATE_KEY is required when CAPTURE_ENABLED is true")
		}
		if c.CaptureLedger == "" {
			return fmt.Errorf("CAPTURE_LEDGER_PATH is required when CAPTURE_ENABLED is true")
		}
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(w io.Writer, level, format string) (log.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	opts := []log.Option{log.LevelOption(lvl)}
	if strings.EqualFold(format, "json") {
		opts = append(opts, log.OutputJSONOption())
	} else {
		opts = append(opts, log.ColorOption(false))
	}
	return log.NewLogger(w, opts...), nil
}
