package cli

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Bidon15/protocolx/internal/protocolx"
)

func newExecuteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <source> <destination> [l1Chain l2Chain l1Contract l2Contract]",
		Short: "Run the cross-chain distribution and claim sequence",
		Long: `Attach to the contracts deployed on source and destination, cross-configure
them, request a token distribution for freshly generated addresses and run
the claim sequence once the destination chain has answered.

The four optional arguments override the values written during
configuration. They default to the source name, the destination name, the
source distributor address and the destination calculator address.

Examples:
  protocolx execute Ethereum Avalanche
  protocolx execute Ethereum Avalanche Ethereum Avalanche 0xDistributor 0xCalculator`,
		Args: executeArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() { a.finish("execute", err) }()
			return a.runExecute(cmd, args)
		},
	}
}

func executeArgs(_ *cobra.Command, args []string) error {
	if len(args) != 2 && len(args) != 6 {
		return fmt.Errorf("accepts 2 or 6 arg(s), received %d", len(args))
	}
	return nil
}

func (a *app) runExecute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	chains, err := selectChains(a.cfg, args[:2])
	if err != nil {
		return err
	}
	source, destination := chainFromConfig(chains[0]), chainFromConfig(chains[1])
	if source.Name == destination.Name {
		return fmt.Errorf("source and destination are both %s", source.Name)
	}

	e, err := a.newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	for _, chain := range []*protocolx.Chain{source, destination} {
		defer chain.Close()
		record, err := e.store.Get(ctx, chain.Name)
		if err != nil {
			return fmt.Errorf("%s: load deployment (run deploy first): %w", chain.Name, err)
		}
		if err := e.runner.Attach(ctx, chain, record, e.wallet); err != nil {
			return err
		}
	}

	estimator, closeEstimator, err := newFeeEstimator(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeEstimator()

	res, err := e.runner.Execute(ctx, []*protocolx.Chain{source, destination}, e.wallet, protocolx.ExecuteOptions{
		Source:             source,
		Destination:        destination,
		CalculateBridgeFee: protocolx.BridgeFee(estimator),
		Args:               args[2:],
		TokenSupply:        big.NewInt(a.cfg.Execute.TokenSupply),
		WalletCount:        a.cfg.Execute.WalletCount,
		SettleTimeout:      a.cfg.Execute.SettleTimeout,
		PollInterval:       a.cfg.Execute.PollInterval,
	})
	if res != nil {
		if perr := a.printResult(res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

type claimView struct {
	Account       string `json:"account"`
	Method        string `json:"method"`
	ExpectSuccess bool   `json:"expect_success"`
	Succeeded     bool   `json:"succeeded"`
	Balance       string `json:"balance,omitempty"`
	Error         string `json:"error,omitempty"`
}

type resultView struct {
	RunID          string            `json:"run_id"`
	LayerTwoChain  string            `json:"layer_two_chain"`
	LayerOneChain  string            `json:"layer_one_chain"`
	SourceFee      string            `json:"source_fee"`
	DestinationFee string            `json:"destination_fee"`
	TotalFee       string            `json:"total_fee"`
	CalculationTx  string            `json:"calculation_tx"`
	Settlement     string            `json:"settlement"`
	Selected       []string          `json:"selected"`
	Distributions  map[string]string `json:"distributions"`
	Claims         []claimView       `json:"claims"`
	Balances       map[string]string `json:"balances"`
}

func newResultView(res *protocolx.ExecuteResult) resultView {
	v := resultView{
		RunID:          res.RunID.String(),
		LayerTwoChain:  res.LayerTwoChain,
		LayerOneChain:  res.LayerOneChain,
		SourceFee:      amount(res.SourceFee),
		DestinationFee: amount(res.DestinationFee),
		TotalFee:       amount(res.TotalFee),
		CalculationTx:  res.CalculationTx.Hex(),
		Settlement:     res.Settlement.String(),
		Distributions:  amounts(res.Distributions),
		Balances:       amounts(res.Balances),
	}
	for _, addr := range res.Selected {
		v.Selected = append(v.Selected, addr.Hex())
	}
	for _, c := range res.Claims {
		cv := claimView{
			Account:       c.Account.Hex(),
			Method:        c.Method,
			ExpectSuccess: c.ExpectSuccess,
			Succeeded:     c.Succeeded,
		}
		if c.Balance != nil {
			cv.Balance = c.Balance.String()
		}
		if c.Err != nil {
			cv.Error = c.Err.Error()
		}
		v.Claims = append(v.Claims, cv)
	}
	return v
}

func (a *app) printResult(res *protocolx.ExecuteResult) error {
	v := newResultView(res)
	if a.jsonOut {
		return a.printJSON(v)
	}

	a.printf("Run %s\n\n", v.RunID)
	a.printf("  Distributor configured to: %s\n", v.LayerTwoChain)
	a.printf("  Calculator configured to:  %s\n", v.LayerOneChain)
	a.printf("  Bridge fee:                %s (%s + %s)\n", v.TotalFee, v.SourceFee, v.DestinationFee)
	a.printf("  Calculation tx:            %s\n", v.CalculationTx)
	a.printf("  Settlement:                %s\n\n", v.Settlement)

	for _, addr := range v.Selected {
		a.printf("  %s distribution %s\n", addr, v.Distributions[addr])
	}
	a.printf("\nClaims:\n")
	for _, c := range v.Claims {
		status := "ok"
		if !c.Succeeded {
			status = "reverted"
		}
		a.printf("  %-20s %s  %s\n", c.Method, c.Account, status)
	}
	a.printf("\nBalances:\n")
	for _, addr := range res.Generated {
		a.printf("  %s %s\n", addr.Hex(), v.Balances[addr.Hex()])
	}
	return nil
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func amounts(m map[common.Address]*big.Int) map[string]string {
	out := make(map[string]string, len(m))
	for addr, v := range m {
		out[addr.Hex()] = amount(v)
	}
	return out
}
