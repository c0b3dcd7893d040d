package metrics

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protocolx/internal/evm"
)

func TestRecorder_ObserveTransaction(t *testing.T) {
	r := NewRecorder()

	r.ObserveTransaction("ethereum", "configureLayerTwo", &types.Receipt{GasUsed: 21000}, nil)
	r.ObserveTransaction("ethereum", "configureLayerTwo", &types.Receipt{GasUsed: 4000}, nil)
	r.ObserveTransaction("ethereum", "claimTokensTest", &types.Receipt{GasUsed: 100}, fmt.Errorf("x: %w", evm.ErrTransactionReverted))
	r.ObserveTransaction("ethereum", "claimTokensTest", nil, fmt.Errorf("x: %w", evm.ErrExecutionReverted))
	r.ObserveTransaction("avalanche", "deploy", nil, errors.New("dial"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transactionsTotal.WithLabelValues("ethereum", "configureLayerTwo", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transactionsTotal.WithLabelValues("ethereum", "claimTokensTest", StatusReverted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transactionsTotal.WithLabelValues("ethereum", "claimTokensTest", StatusRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transactionsTotal.WithLabelValues("avalanche", "deploy", StatusError)))
	assert.Equal(t, 25000.0, testutil.ToFloat64(r.gasUsedTotal.WithLabelValues("ethereum", "configureLayerTwo")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.gasUsedTotal.WithLabelValues("ethereum", "claimTokensTest")))
}

func TestRecorder_ClaimsAndFees(t *testing.T) {
	r := NewRecorder()

	r.ObserveClaim("test", true)
	r.ObserveClaim("test", false)
	r.ObserveClaim("delegate", true)
	r.ObserveBridgeFee("ethereum", "avalanche", big.NewInt(123456))
	r.ObserveBridgeFee("ethereum", "avalanche", nil)
	r.ObserveRun("execute", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.claimsTotal.WithLabelValues("test", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.claimsTotal.WithLabelValues("test", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.claimsTotal.WithLabelValues("delegate", "true")))
	assert.Equal(t, 123456.0, testutil.ToFloat64(r.bridgeFeeWei.WithLabelValues("ethereum", "avalanche")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("execute", StatusSuccess)))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveSettlement("ethereum", "avalanche", 12*time.Second)
	r.ObserveRun("deploy", errors.New("boom"))

	path := filepath.Join(t.TempDir(), "protocolx.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `protocolx_settlement_seconds_count{destination="avalanche",source="ethereum"} 1`)
	assert.Contains(t, string(data), `protocolx_runs_total{command="deploy",outcome="error"} 1`)
}
