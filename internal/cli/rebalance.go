package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"bosgateway/internal/app"
	"bosgateway/internal/rebalance"
)

// rebalanceFlags mirror the optional request fields; only flags the user
// actually set become present fields.
type rebalanceFlags struct {
	avoid      []string
	inThrough  string
	outThrough string
	node       string
	maxFee     int64
	maxFeeRate int64
	amount     string
	outInbound string
	minutes    int
}

var (
	rebalanceUser string
	rebalanceOpts rebalanceFlags
	paramsOpts    rebalanceFlags
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Run one rebalance for a user and stream its progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rebalanceUser == "" {
			return fmt.Errorf("--user is required")
		}
		req, err := rebalanceOpts.request(cmd.Flags())
		if err != nil {
			return err
		}
		return getApp().RunRebalance(cmd.Context(), app.RebalanceOptions{UserID: rebalanceUser, Request: req})
	},
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Print the normalized rebalance parameters without running bos",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := paramsOpts.request(cmd.Flags())
		if err != nil {
			return err
		}
		return getApp().Params(req)
	},
}

func (f *rebalanceFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.avoid, "avoid", nil, "Keys or channels to avoid (repeatable)")
	fs.StringVar(&f.inThrough, "in", "", "Peer to route inbound liquidity through")
	fs.StringVar(&f.outThrough, "out", "", "Peer to route outbound liquidity through")
	fs.StringVar(&f.node, "node", "", "Saved node name")
	fs.Int64Var(&f.maxFee, "max-fee", 0, "Maximum fee in sats")
	fs.Int64Var(&f.maxFeeRate, "max-fee-rate", 0, "Maximum fee rate in ppm")
	fs.StringVar(&f.amount, "amount", "", "Maximum amount to rebalance in sats")
	fs.StringVar(&f.outInbound, "out-inbound", "", "Outbound peer inbound liquidity target in sats")
	fs.IntVar(&f.minutes, "minutes", 0, "Timeout in minutes (default 5)")
}

func (f *rebalanceFlags) request(fs *pflag.FlagSet) (rebalance.Request, error) {
	var req rebalance.Request
	if fs.Changed("avoid") {
		req.Avoid = f.avoid
	}
	if fs.Changed("in") {
		req.InThrough = &f.inThrough
	}
	if fs.Changed("out") {
		req.OutThrough = &f.outThrough
	}
	if fs.Changed("node") {
		req.Node = &f.node
	}
	if fs.Changed("max-fee") {
		req.MaxFee = &f.maxFee
	}
	if fs.Changed("max-fee-rate") {
		req.MaxFeeRate = &f.maxFeeRate
	}
	if fs.Changed("minutes") {
		req.TimeoutMinutes = &f.minutes
	}
	for _, d := range []struct {
		flag  string
		value string
		dst   **decimal.Decimal
	}{
		{"amount", f.amount, &req.MaxRebalance},
		{"out-inbound", f.outInbound, &req.OutInbound},
	} {
		if !fs.Changed(d.flag) {
			continue
		}
		parsed, err := decimal.NewFromString(d.value)
		if err != nil {
			return rebalance.Request{}, fmt.Errorf("invalid --%s value: %w", d.flag, err)
		}
		*d.dst = &parsed
	}
	return req, nil
}

func init() {
	rebalanceCmd.Flags().StringVar(&rebalanceUser, "user", "", "User id owning the node account")
	rebalanceOpts.register(rebalanceCmd.Flags())
	paramsOpts.register(paramsCmd.Flags())
}
