package types

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Phase identifies the search stage a trial belongs to
type Phase string

const (
	PhaseBaseline Phase = "baseline"
	PhaseSweep    Phase = "sweep"
	PhaseRefine   Phase = "refine"
)

// StopReason records why an optimization run ended
type StopReason string

const (
	StopCompleted   StopReason = "completed"
	StopTrialBudget StopReason = "trial_budget"
	StopCancelled   StopReason = "cancelled"
)

// BaselineTxIndex marks trials that scale no single transaction
const BaselineTxIndex = -1

// Trial is one sandboxed replay of a scaled sequence
type Trial struct {
	Index         int             `json:"index"`
	Phase         Phase           `json:"phase"`
	TxIndex       int             `json:"txIndex"`
	ScaleFactor   decimal.Decimal `json:"scaleFactor"`
	Success       bool            `json:"success"`
	NetProfitWei  *big.Int        `json:"netProfitWei"`
	GasUsed       uint64          `json:"gasUsed"`
	FailureReason string          `json:"failureReason,omitempty"`
}

// OptimizationResult is the outcome of one optimization run. It is built
// once by the optimizer and not mutated afterwards.
type OptimizationResult struct {
	RunID             uuid.UUID       `json:"runId"`
	VulnerabilityID   string          `json:"vulnerabilityId"`
	Pattern           Pattern         `json:"pattern"`
	BaselineProfitWei *big.Int        `json:"baselineProfitWei"`
	BaselineSuccess   bool            `json:"baselineSuccess"`
	BestProfitWei     *big.Int        `json:"bestProfitWei"`
	BestScaleFactor   decimal.Decimal `json:"bestScaleFactor"`
	BestTxIndex       int             `json:"bestTxIndex"`
	Confirmed         bool            `json:"confirmed"`
	CeilingProfitWei  *big.Int        `json:"ceilingProfitWei"`
	StopReason        StopReason      `json:"stopReason"`
	Trials            []Trial         `json:"trials"`
}

// Improvement returns best minus baseline profit
func (r *OptimizationResult) Improvement() *big.Int {
	return new(big.Int).Sub(r.BestProfitWei, r.BaselineProfitWei)
}

// SuccessfulTrials counts trials whose replay succeeded
func (r *OptimizationResult) SuccessfulTrials() int {
	n := 0
	for _, t := range r.Trials {
		if t.Success {
			n++
		}
	}
	return n
}
