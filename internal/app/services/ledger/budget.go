package ledger

import "math"

// Cost charged against the meter for each item minted in a batch, and the
// margin kept in reserve before the executor stops early.
const (
	MintCost     uint64 = 1
	SafetyMargin uint64 = 1
)

// Meter is the per-call execution budget consulted by the batch executor.
// Remaining reports the budget still available; Charge records consumption.
type Meter interface {
	Remaining() uint64
	Charge(amount uint64)
}

// MeterFunc produces a fresh meter for one batch call.
type MeterFunc func() Meter

type unlimitedMeter struct{}

func (unlimitedMeter) Remaining() uint64 { return math.MaxUint64 }
func (unlimitedMeter) Charge(uint64)     {}

// Unlimited returns a meter that never exhausts.
func Unlimited() Meter { return unlimitedMeter{} }

// FixedMeter is a finite budget.
type FixedMeter struct {
	remaining uint64
}

// NewFixedMeter creates a meter holding the given number of units.
func NewFixedMeter(units uint64) *FixedMeter {
	return &FixedMeter{remaining: units}
}

func (m *FixedMeter) Remaining() uint64 { return m.remaining }

func (m *FixedMeter) Charge(amount uint64) {
	if amount > m.remaining {
		m.remaining = 0
		return
	}
	m.remaining -= amount
}
