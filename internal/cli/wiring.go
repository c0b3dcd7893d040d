package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/protocolx/internal/artifacts"
	"github.com/Bidon15/protocolx/internal/config"
	"github.com/Bidon15/protocolx/internal/evm"
	"github.com/Bidon15/protocolx/internal/gmp"
	"github.com/Bidon15/protocolx/internal/protocolx"
	"github.com/Bidon15/protocolx/internal/signer"
	"github.com/Bidon15/protocolx/internal/store"
)

// env is everything a command needs to talk to chains.
type env struct {
	runner *protocolx.Runner
	wallet *signer.LocalSigner
	store  store.Store

	closers []func()
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// newEnv loads artifacts, the wallet and the deployment store.
func (a *app) newEnv(ctx context.Context) (*env, error) {
	bundle, err := artifacts.LoadBundle(a.cfg.ArtifactsDir)
	if err != nil {
		return nil, err
	}

	wallet, err := signer.NewLocalSigner(a.cfg.PrivateKey, 0)
	if err != nil {
		return nil, err
	}

	st, closeStore, err := openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return nil, err
	}

	opts := []protocolx.RunnerOption{protocolx.WithMetrics(a.metrics)}
	if a.cfg.Execute.ReceiptTimeout > 0 {
		opts = append(opts, protocolx.WithTransactorOptions(evm.WithReceiptTimeout(a.cfg.Execute.ReceiptTimeout)))
	}

	return &env{
		runner:  protocolx.NewRunner(bundle, a.logger, opts...),
		wallet:  wallet,
		store:   st,
		closers: []func(){closeStore},
	}, nil
}

// openStore returns the configured deployment store and its cleanup.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Debug("using postgres deployment store")
		return pg, pg.Close, nil
	case "file", "":
		logger.Debug("using file deployment store", slog.String("path", cfg.Path))
		return store.NewFileStore(cfg.Path), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newFeeEstimator returns the configured bridge fee source and its cleanup.
func newFeeEstimator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gmp.FeeEstimator, func(), error) {
	noop := func() {}

	switch cfg.Fees.Mode {
	case "fixed":
		amount, err := cfg.Fees.FixedFee()
		if err != nil {
			return nil, nil, err
		}
		return gmp.FixedFee{Amount: amount}, noop, nil
	case "axelarscan":
	default:
		return nil, nil, fmt.Errorf("unknown fee mode %q", cfg.Fees.Mode)
	}

	var estimator gmp.FeeEstimator = gmp.NewAxelarscanEstimator(
		gmp.WithBaseURL(cfg.Fees.AxelarscanURL),
		gmp.WithGasLimit(cfg.Fees.GasLimit),
		gmp.WithGasMultiplier(cfg.Fees.GasMultiplier),
	)
	if !cfg.Redis.Enabled {
		return estimator, noop, nil
	}

	cache, err := gmp.NewRedisQuoteCache(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	closeCache := func() {
		if err := cache.Close(); err != nil {
			logger.Warn("failed to close redis", slog.String("error", err.Error()))
		}
	}
	return gmp.NewCachedEstimator(estimator, cache, cfg.Fees.CacheTTL, logger), closeCache, nil
}

// chainFromConfig converts a configured chain to a protocolx.Chain.
func chainFromConfig(cc config.ChainConfig) *protocolx.Chain {
	return &protocolx.Chain{
		Name:                 cc.Name,
		ChainID:              cc.ChainID,
		RPC:                  cc.RPC,
		Gateway:              common.HexToAddress(cc.Gateway),
		GasService:           common.HexToAddress(cc.GasService),
		ConstAddressDeployer: common.HexToAddress(cc.ConstAddressDeployer),
		TokenSymbol:          cc.TokenSymbol,
	}
}

// selectChains returns the named chains, or every configured chain when
// names is empty.
func selectChains(cfg *config.Config, names []string) ([]config.ChainConfig, error) {
	if len(names) == 0 {
		return cfg.Chains, nil
	}

	selected := make([]config.ChainConfig, 0, len(names))
	var unknown []string
	for _, name := range names {
		cc, ok := cfg.Chain(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, cc)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown chain(s): %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}
