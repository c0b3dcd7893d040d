package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Bidon15/protocolx/internal/store"
)

func newDeployCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy [chain...]",
		Short: "Deploy the distributor and calculator",
		Long: `Deploy DaoTokenDistributor behind an upgradable proxy and a
DaoDistributionCalculator on each named chain, or on every configured chain
when none are named. Deployed addresses are saved to the deployment store
for later execute runs.

Examples:
  protocolx deploy
  protocolx deploy Ethereum Avalanche`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() { a.finish("deploy", err) }()
			return a.runDeploy(cmd, args)
		},
	}
}

func (a *app) runDeploy(cmd *cobra.Command, names []string) error {
	ctx := cmd.Context()

	chains, err := selectChains(a.cfg, names)
	if err != nil {
		return err
	}

	e, err := a.newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	records := make([]*store.Deployment, 0, len(chains))
	for _, cc := range chains {
		chain := chainFromConfig(cc)
		record, err := e.runner.Deploy(ctx, chain, e.wallet)
		chain.Close()
		if err != nil {
			return err
		}
		if err := e.store.Save(ctx, record); err != nil {
			return fmt.Errorf("%s: save deployment: %w", chain.Name, err)
		}
		a.logger.Info("deployment saved", slog.String("chain", chain.Name), slog.String("id", record.ID.String()))
		records = append(records, record)
	}

	if a.jsonOut {
		return a.printJSON(records)
	}
	for _, r := range records {
		a.printf("%s (chain ID %d)\n", r.Chain, r.ChainID)
		a.printf("  DaoTokenDistributor:       %s\n", r.Distributor)
		a.printf("  Implementation:            %s\n", r.DistributorImplementation)
		a.printf("  DaoDistributionCalculator: %s\n", r.Calculator)
	}
	return nil
}
