package ledger

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/units"
)

var (
	// opsTotal counts balance movements by kind and result.
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger balance movements by kind and result.",
		},
		[]string{"op", "result"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "solace",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger store latency by kind.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	// nativeVolume sums native-asset amounts moved, in ether.
	nativeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace",
			Subsystem: "ledger",
			Name:      "native_volume_ether_total",
			Help:      "Native asset moved by successful ledger operations, in ether.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(opsTotal, opDuration, nativeVolume)
}

// track times one ledger operation. The returned func records its outcome.
func track(op string, asset common.Address, amount *big.Int) func(err *error) {
	start := time.Now()
	return func(err *error) {
		opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		opsTotal.WithLabelValues(op, result(*err)).Inc()
		if *err == nil && asset == chain.NativeAsset && amount != nil && amount.Sign() > 0 {
			nativeVolume.WithLabelValues(op).Add(units.Float(amount))
		}
	}
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrZeroRecipient):
		return "rejected"
	default:
		return "error"
	}
}
