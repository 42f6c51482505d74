package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Decision is the per-asset result of one cycle.
type Decision string

const (
	DecisionBought  Decision = "bought"
	DecisionSkipped Decision = "skipped"
	DecisionErrored Decision = "errored"
)

// Reason codes carried on outcomes.
const (
	ReasonGreenDip         = "green_dip"
	ReasonTurnUp           = "turn_up"
	ReasonHold             = "hold"
	ReasonFallbackDeadline = "fallback_deadline"
	ReasonZeroBudget       = "zero_budget"
	ReasonError            = "error"
)

// Float is a float64 that encodes NaN and ±Inf as JSON null.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Snapshot holds the latest indicator values the decision was based on.
type Snapshot struct {
	Price    Float `json:"price"`
	EMA20    Float `json:"ema20"`
	EMA50    Float `json:"ema50"`
	EMA200   Float `json:"ema200"`
	RSI      Float `json:"rsi"`
	MACDHist Float `json:"macdHist"`
	Z20      Float `json:"z20"`
}

// Flags are the named trigger conditions.
type Flags struct {
	UptrendOK bool `json:"uptrendOk"`
	GreenDip  bool `json:"greenDip"`
	TurnUp    bool `json:"turnUp"`
}

// SwapRequest is the body sent to the swap delegate.
// RefPrice is the last observed close; it never goes on the wire.
type SwapRequest struct {
	Asset          string  `json:"asset"`
	AmountUSDC     float64 `json:"amount_usdc"`
	MaxSlippageBps int     `json:"max_slippage_bps"`
	RefPrice       float64 `json:"-"`
}

// Receipt is the swap delegate's answer.
type Receipt struct {
	TxSig string `json:"txSig"`
	Price Float  `json:"price"`
}

// AssetOutcome is one asset's result for one cycle.
type AssetOutcome struct {
	Asset      string    `json:"asset"`
	Decision   Decision  `json:"decision"`
	Budget     float64   `json:"budget"`
	Receipt    *Receipt  `json:"receipt,omitempty"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Indicators *Snapshot `json:"indicators,omitempty"`
	Flags      *Flags    `json:"flags,omitempty"`
}

// Cycle is one orchestration run over the configured assets.
type Cycle struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Budget     float64        `json:"budget"`
	Outcomes   []AssetOutcome `json:"outcomes"`
}

// Report is the process output for a cycle.
type Report struct {
	OK      bool           `json:"ok"`
	Results []AssetOutcome `json:"results"`
}

// Report renders the cycle for stdout. Batch-level ok is always true;
// failures are visible only inside individual outcomes.
func (c Cycle) Report() Report {
	results := c.Outcomes
	if results == nil {
		results = []AssetOutcome{}
	}
	return Report{OK: true, Results: results}
}

// Tally counts outcomes by decision.
func (c Cycle) Tally() (bought, skipped, errored int) {
	for _, o := range c.Outcomes {
		switch o.Decision {
		case DecisionBought:
			bought++
		case DecisionSkipped:
			skipped++
		case DecisionErrored:
			errored++
		}
	}
	return bought, skipped, errored
}
