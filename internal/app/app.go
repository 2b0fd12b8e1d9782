package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/brolab-dev/x402-mcp/internal/alerting"
	"github.com/brolab-dev/x402-mcp/internal/authorization"
	"github.com/brolab-dev/x402-mcp/internal/chain"
	"github.com/brolab-dev/x402-mcp/internal/config"
	"github.com/brolab-dev/x402-mcp/internal/facilitator"
	"github.com/brolab-dev/x402-mcp/internal/market"
	"github.com/brolab-dev/x402-mcp/internal/policy"
	"github.com/brolab-dev/x402-mcp/internal/server"
	"github.com/brolab-dev/x402-mcp/internal/settlement"
	"github.com/brolab-dev/x402-mcp/internal/storage"
	"github.com/brolab-dev/x402-mcp/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSigner() (*authorization.Signer, error) {
	token := a.Config.Network.Token
	return authorization.NewSigner(authorization.Options{
		PrivateKey: a.Config.Signer.PrivateKey,
		Domain: authorization.Domain{
			Name:              token.Name,
			Version:           token.Version,
			ChainID:           a.Config.Network.ChainID,
			VerifyingContract: common.HexToAddress(token.Address),
		},
		Validity: a.Config.Signer.Validity,
	})
}

func (a *App) newMarketSource() *market.Source {
	client := market.NewClient(market.ClientOptions{
		BaseURL:   a.Config.Market.BaseURL,
		Timeout:   a.Config.Market.RequestTimeout,
		UserAgent: version.UserAgent(),
	}, a.Logger)
	return market.NewSource(client, a.Logger)
}

func (a *App) newFacilitator() *facilitator.Client {
	return facilitator.NewClient(facilitator.Options{
		BaseURL: a.Config.Facilitator.BaseURL,
		Version: a.Config.Facilitator.Version,
		Timeout: a.Config.Facilitator.RequestTimeout,
	}, a.Logger)
}

func (a *App) newChainReader() *chain.Reader {
	return chain.NewReader(chain.Options{
		RPCURL:       a.Config.Network.RPCURL,
		TokenAddress: a.Config.Network.Token.Address,
		Decimals:     a.Config.Network.Token.Decimals,
		Timeout:      a.Config.Network.RequestTimeout,
	}, a.Logger)
}

func (a *App) newPolicies() (*policy.Store, error) {
	return policy.NewStore(a.Logger, policy.DefaultPolicies(policy.Defaults{
		Symbol:               a.Config.Policy.Symbol,
		VolatilityThreshold:  decimal.NewFromFloat(a.Config.Policy.VolatilityThreshold),
		PriceChangeThreshold: decimal.NewFromFloat(a.Config.Policy.PriceChangeThreshold),
	})...)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil, nil
	}
	cfg := a.Config.Alerting.Telegram
	notifier, err := alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken: cfg.BotToken,
		ChatID:   cfg.ChatID,
		APIBase:  cfg.APIBase,
		Timeout:  10 * time.Second,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return notifier, nil
}

func (a *App) settlementOptions() (settlement.Options, error) {
	amount, err := a.Config.SettlementAmount()
	if err != nil {
		return settlement.Options{}, err
	}
	return settlement.Options{
		Network:           a.Config.Network.Name,
		ChainID:           a.Config.Network.ChainID,
		Asset:             common.HexToAddress(a.Config.Network.Token.Address),
		Recipient:         common.HexToAddress(a.Config.Settlement.Recipient),
		Amount:            new(big.Int).Set(amount.BigInt()),
		MaxTimeoutSeconds: a.Config.Settlement.MaxTimeoutSeconds,
		Validity:          a.Config.Signer.Validity,
		Symbols:           a.Config.Market.Symbols,
		PollInterval:      a.Config.Market.PollInterval,
		StartupDelay:      a.Config.Market.StartupDelay,
	}, nil
}

// newEngine wires the settlement engine. Configuration errors surface here,
// before any network activity.
func (a *App) newEngine(src settlement.MarketSource, fac settlement.Facilitator, notifier alerting.Notifier) (*settlement.Engine, *authorization.Signer, error) {
	signer, err := a.newSigner()
	if err != nil {
		return nil, nil, fmt.Errorf("init signer: %w", err)
	}
	policies, err := a.newPolicies()
	if err != nil {
		return nil, nil, fmt.Errorf("init policies: %w", err)
	}
	opts, err := a.settlementOptions()
	if err != nil {
		return nil, nil, err
	}

	engine, err := settlement.New(opts, settlement.Dependencies{
		Market:      src,
		Signer:      signer,
		Facilitator: fac,
		Policies:    policies,
		History:     storage.NewMemory(),
		Notifier:    notifier,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return engine, signer, nil
}

// Run executes the settlement loop and the status server until SIGINT or
// SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		a.Logger.Debug().Msg("alerting disabled; settlement notifications off")
	}

	engine, _, err := a.newEngine(a.newMarketSource(), a.newFacilitator(), notifier)
	if err != nil {
		return err
	}

	a.checkChain(ctx)

	var srv *server.Server
	if a.Config.Server.Enabled {
		srv = server.New(server.Config{
			Port:          a.Config.Server.Port,
			CORSOrigins:   a.Config.Server.CORSOrigins,
			MaxDataPoints: a.Config.Report.MaxDataPoints,
			Log:           a.Logger,
			Engine:        engine,
		})
	}

	return a.serve(ctx, engine, srv)
}

func (a *App) serve(ctx context.Context, engine *settlement.Engine, srv *server.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := engine.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if srv != nil {
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.Logger.Info().Msg("starting settlement service")
	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("settlement service stopped")
	return nil
}

// checkChain compares the RPC chain id with the signing domain. A mismatch
// or an unreachable node is logged, not fatal.
func (a *App) checkChain(ctx context.Context) {
	if a.Config.Network.RPCURL == "" {
		return
	}
	reader := a.newChainReader()
	defer reader.Close()

	if err := reader.VerifyChain(ctx, a.Config.Network.ChainID); err != nil {
		a.Logger.Warn().Err(err).Str("rpc_url", a.Config.Network.RPCURL).Msg("chain check failed")
		return
	}
	a.Logger.Info().Int64("chain_id", a.Config.Network.ChainID).Msg("rpc chain verified")
}
