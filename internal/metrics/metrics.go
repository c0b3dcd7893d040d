// Package metrics records ProtocolX run metrics in a Prometheus registry.
package metrics

import (
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Bidon15/protocolx/internal/evm"
)

// Transaction statuses
const (
	StatusSuccess  = "success"
	StatusReverted = "reverted"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Recorder holds the run metrics. It implements evm.TxObserver.
type Recorder struct {
	registry *prometheus.Registry

	transactionsTotal *prometheus.CounterVec
	gasUsedTotal      *prometheus.CounterVec
	claimsTotal       *prometheus.CounterVec
	bridgeFeeWei      *prometheus.GaugeVec
	settlementSeconds *prometheus.HistogramVec
	runsTotal         *prometheus.CounterVec
}

var _ evm.TxObserver = (*Recorder)(nil)

// NewRecorder registers the metrics in a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocolx_transactions_total",
				Help: "Transactions submitted by chain, method and outcome",
			},
			[]string{"chain", "method", "status"},
		),

		gasUsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocolx_gas_used_total",
				Help: "Gas used by mined transactions",
			},
			[]string{"chain", "method"},
		),

		claimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocolx_claims_total",
				Help: "Claim attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		bridgeFeeWei: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "protocolx_bridge_fee_wei",
				Help: "Last quoted cross-chain fee in wei",
			},
			[]string{"source", "destination"},
		),

		settlementSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "protocolx_settlement_seconds",
				Help:    "Time from the distribution request until the result is visible on the source chain",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"source", "destination"},
		),

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocolx_runs_total",
				Help: "Completed runs by command and outcome",
			},
			[]string{"command", "outcome"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveTransaction records a transaction outcome.
func (r *Recorder) ObserveTransaction(chain, method string, receipt *types.Receipt, err error) {
	status := StatusSuccess
	switch {
	case errors.Is(err, evm.ErrTransactionReverted):
		status = StatusReverted
	case errors.Is(err, evm.ErrExecutionReverted):
		status = StatusRejected
	case err != nil:
		status = StatusError
	}
	r.transactionsTotal.WithLabelValues(chain, method, status).Inc()

	if receipt != nil {
		r.gasUsedTotal.WithLabelValues(chain, method).Add(float64(receipt.GasUsed))
	}
}

// ObserveClaim records a claim attempt. succeeded is whether the call went through.
func (r *Recorder) ObserveClaim(kind string, succeeded bool) {
	r.claimsTotal.WithLabelValues(kind, strconv.FormatBool(succeeded)).Inc()
}

// ObserveBridgeFee records a fee quote.
func (r *Recorder) ObserveBridgeFee(source, destination string, fee *big.Int) {
	if fee == nil {
		return
	}
	f, _ := new(big.Float).SetInt(fee).Float64()
	r.bridgeFeeWei.WithLabelValues(source, destination).Set(f)
}

// ObserveSettlement records how long a cross-chain round trip took.
func (r *Recorder) ObserveSettlement(source, destination string, d time.Duration) {
	r.settlementSeconds.WithLabelValues(source, destination).Observe(d.Seconds())
}

// ObserveRun records the outcome of a CLI command.
func (r *Recorder) ObserveRun(command string, err error) {
	outcome := StatusSuccess
	if err != nil {
		outcome = StatusError
	}
	r.runsTotal.WithLabelValues(command, outcome).Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
