package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"

	"github.com/DeLi-Labs/deli-app/pkg/api"
	"github.com/DeLi-Labs/deli-app/pkg/attachment"
	"github.com/DeLi-Labs/deli-app/pkg/capture"
	"github.com/DeLi-Labs/deli-app/pkg/chain"
	"github.com/DeLi-Labs/deli-app/pkg/cipher"
	"github.com/DeLi-Labs/deli-app/pkg/config"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/market"
	"github.com/DeLi-Labs/deli-app/pkg/sessiontoken"
	"github.com/DeLi-Labs/deli-app/pkg/siwe"
	"github.com/DeLi-Labs/deli-app/pkg/storage"
)

type gateway struct {
	handler http.Handler
	closers []func() error
	logger  log.Logger
}

func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			g.logger.Error("close", "err", err)
		}
	}
}

func buildIndexer(cfg *config.Config, logger log.Logger) (indexer.Gateway, api.Probe, error) {
	var (
		gw    indexer.Gateway
		probe api.Probe
	)
	switch cfg.IndexerType {
	case indexer.TypeLocal:
		local, err := indexer.LoadLocal(cfg.IndexerFile)
		if err != nil {
			return nil, nil, err
		}
		gw = local
	default:
		ponder := indexer.NewPonder(cfg.IndexerURL, cfg.UpstreamTimeout, logger)
		gw = ponder
		probe = api.PingURL(strings.TrimSuffix(ponder.URL(), "/graphql") + "/health")
	}
	if cfg.IndexerCacheTTL > 0 {
		gw = indexer.NewCache(gw, cfg.IndexerCacheTTL)
	}
	return gw, probe, nil
}

func buildStorage(cfg *config.Config, logger log.Logger) (storage.Gateway, api.Probe, func() error, error) {
	switch cfg.StorageType {
	case storage.TypeBolt:
		b, err := storage.OpenBolt(cfg.StoragePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, nil, b.Close, nil
	case storage.TypeIPFS:
		ipfs, err := storage.NewIPFS(cfg.IPFSAPI, cfg.UpstreamTimeout, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return ipfs, api.PingErr(ipfs.Ping), nil, nil
	case storage.TypeArweave:
		return storage.NewArweave(cfg.ArweaveGateway, cfg.UpstreamTimeout), api.PingURL(cfg.ArweaveGateway + "/info"), nil, nil
	default:
		local, err := storage.NewLocal(cfg.StoragePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return local, nil, nil, nil
	}
}

// buildCipher returns the decryption backend and the challenge nonce source
// that goes with it.
func buildCipher(cfg *config.Config, client *chain.Client, logger log.Logger) (cipher.Gateway, attachment.NonceSource, api.Probe, error) {
	if cfg.CipherType == cipher.TypeLit {
		lit := cipher.NewLit(cfg.LitRelayURL, cfg.LitNetwork, cfg.LitTimeout, logger)
		return lit, lit, func(context.Context) bool { return lit.Connected() }, nil
	}
	local, err := cipher.NewLocalFromHex(cfg.LocalCipherSecret, client, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return local, client, nil, nil
}

func buildGateway(ctx context.Context, cfg *config.Config, logger log.Logger) (*gateway, error) {
	gw := &gateway{logger: logger}
	probes := map[string]api.Probe{}

	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	gw.closers = append(gw.closers, func() error { client.Close(); return nil })
	probes["rpc"] = api.PingErr(func(ctx context.Context) error {
		_, err := client.Ping(ctx)
		return err
	})

	idx, probe, err := buildIndexer(cfg, logger)
	if err != nil {
		gw.Close()
		return nil, err
	}
	if probe != nil {
		probes["indexer"] = probe
	}

	store, probe, closer, err := buildStorage(cfg, logger)
	if err != nil {
		gw.Close()
		return nil, err
	}
	if probe != nil {
		probes["storage"] = probe
	}
	if closer != nil {
		gw.closers = append(gw.closers, closer)
	}

	cph, nonces, probe, err := buildCipher(cfg, client, logger)
	if err != nil {
		gw.Close()
		return nil, err
	}
	if probe != nil {
		probes["cipher"] = probe
	}

	tokens, err := sessiontoken.NewCodecFromHex(cfg.SessionSecret)
	if err != nil {
		gw.Close()
		return nil, err
	}
	verifier := siwe.NewVerifier()
	if cfg.SiweMaxAge > 0 {
		verifier.MaxAge = cfg.SiweMaxAge
	}

	addrs := chain.Addresses{
		Permit2:         common.HexToAddress(cfg.Permit2),
		CampaignManager: common.HexToAddress(cfg.CampaignManager),
		Router:          common.HexToAddress(cfg.SwapRouter),
		Hook:            common.HexToAddress(cfg.Hook),
	}
	if cfg.Escrow != "" {
		addrs.Escrow = common.HexToAddress(cfg.Escrow)
	}
	manager, err := chain.NewCampaignManager(addrs.CampaignManager, client, client)
	if err != nil {
		gw.Close()
		return nil, err
	}
	authorizer, err := chain.NewPaymentAuthorizer(cfg.ChainID, client, manager, addrs.Escrow, logger)
	if err != nil {
		gw.Close()
		return nil, err
	}
	marketplace, err := chain.NewMarketplace(cfg.ChainID, addrs, client, client, authorizer)
	if err != nil {
		gw.Close()
		return nil, err
	}

	deps := attachment.Deps{
		Indexer:  idx,
		Storage:  store,
		Cipher:   cph,
		Tokens:   tokens,
		Nonces:   nonces,
		Payments: authorizer,
		Verifier: verifier,
	}
	var ledger api.CaptureLedger
	if cfg.CaptureEnabled {
		svc, err := capture.Open(capture.Config{
			LedgerPath:    cfg.CaptureLedger,
			PrivateKeyHex: cfg.CapturePrivateKey,
			ChainID:       cfg.ChainID,
		}, manager, authorizer, logger)
		if err != nil {
			gw.Close()
			return nil, err
		}
		gw.closers = append(gw.closers, svc.Close)
		deps.Capturer = svc
		ledger = svc
		logger.Info("capture enabled", "operator", svc.Operator().Hex())
	}

	orchestrator, err := attachment.New(deps, attachment.Config{
		Domain:   cfg.SiweDomain,
		ChainID:  cfg.SiweChainID,
		Operator: addrs.CampaignManager,
	}, logger)
	if err != nil {
		gw.Close()
		return nil, err
	}

	srv, err := api.NewServer(api.Deps{
		Indexer:     idx,
		Attachments: orchestrator,
		Market:      market.NewService(idx, marketplace, logger),
		Captures:    ledger,
		Probes:      probes,
	}, api.Options{
		ListenAddr: cfg.ListenAddr,
		CORSOrigin: cfg.CORSOrigin,
		AdminToken: cfg.AdminToken,
		Backends: map[string]string{
			"indexer": cfg.IndexerType,
			"storage": cfg.StorageType,
			"cipher":  cfg.CipherType,
		},
	}, logger)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("build api: %w", err)
	}
	gw.handler = srv.Handler()
	return gw, nil
}
