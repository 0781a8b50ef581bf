package main

import (
	"net/http"
	"time"

	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	core "ntt-bridge/core"
	"ntt-bridge/cmd/nttd/server"
	"ntt-bridge/pkg/config"
	"ntt-bridge/pkg/utils"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Warn("falling back to defaults: config not found")
		cfg = &config.Config{}
		cfg.HTTP.ListenAddr = utils.EnvOrDefault("NTT_HTTP_ADDR", ":8082")
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":8082"
	}

	store, err := core.OpenStore(cfg.Storage.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer store.Close()

	manager := core.NewManager(cfg.Manager.LocalChainID)
	events := core.NewMemoryEventSink()
	roles := core.NewMemoryRoleStore()
	token := &noopTokenAuthority{}

	bootCtx := &core.Context{Clock: core.SystemClock{}, Store: store, Events: events, Roles: roles, Token: token}
	seed(bootCtx, manager, cfg)

	deps := &server.Deps{
		Manager:             manager,
		Clock:               core.SystemClock{},
		Store:               store,
		Token:               token,
		Events:              events,
		Roles:               roles,
		InboundRateDuration: time.Duration(cfg.Manager.InboundRateDuration) * time.Second,
	}

	router := server.NewRouter(deps)
	log.Infof("ntt-bridge operations server listening on %s", cfg.HTTP.ListenAddr)
	if err := http.ListenAndServe(cfg.HTTP.ListenAddr, router); err != nil {
		log.Fatal(err)
	}
}

// seed applies the configured Manager identity, peers, and buckets at
// startup, mirroring the reference project's pattern of loading
// network/consensus parameters from pkg/config before accepting
// traffic. Errors are logged, not fatal: a misconfigured peer or
// bucket shouldn't block the others from loading.
func seed(ctx *core.Context, manager *core.Manager, cfg *config.Config) {
	managerID, err := core.ParseAddress(cfg.Manager.ManagerID)
	if err == nil && !managerID.IsZero() {
		admin, _ := core.ParseAddress(cfg.Manager.Admin)
		custody, _ := core.ParseAddress(cfg.Manager.CustodyAccount)
		outboundDur := time.Duration(cfg.Manager.OutboundRateDuration) * time.Second
		if err := manager.Initialize(ctx, managerID, admin, custody, cfg.Manager.AssetID, outboundDur, cfg.Manager.MinBalanceDeposit); err != nil {
			log.WithError(err).Warn("initialize manager")
		}
	}

	for _, p := range cfg.Manager.Peers {
		contract, err := core.ParseAddress(p.PeerContract)
		if err != nil {
			log.WithError(err).Warnf("seed peer %d: invalid contract", p.ChainID)
			continue
		}
		if _, _, err := manager.Peers.SetPeer(ctx, p.ChainID, contract, p.PeerDecimals); err != nil {
			log.WithError(err).Warnf("seed peer %d", p.ChainID)
		}
	}

	for _, b := range cfg.Manager.Buckets {
		limit, err := uint256.FromDecimal(b.RateLimit)
		if err != nil {
			log.WithError(err).Warnf("seed bucket %s/%d: invalid rate_limit", b.Direction, b.Chain)
			continue
		}
		duration := time.Duration(b.RateDurationSecs) * time.Second
		var id core.BucketID
		if b.Direction == "inbound" {
			id = core.InboundBucketID(b.Chain)
		} else {
			id = core.OutboundBucketID()
		}
		if err := manager.RL.RegisterBucket(ctx, id, limit, duration, limit); err != nil {
			log.WithError(err).Warnf("seed bucket %s/%d", b.Direction, b.Chain)
		}
	}
}

// noopTokenAuthority is the default TokenAuthority wired when no real
// token ledger collaborator is configured. Deployments that mint and
// burn a real asset must supply their own TokenAuthority; this
// implementation exists so cmd/nttd can start without one for
// evaluation and local testing.
type noopTokenAuthority struct{}

func (noopTokenAuthority) Mint(to core.Address, amount uint64) error { return nil }
func (noopTokenAuthority) Burn(from core.Address, amount uint64) error { return nil }
