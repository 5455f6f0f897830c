package pattern

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/fuzztriage/types"
	"github.com/michaelpento.lv/fuzztriage/utils"
)

var (
	ownershipNames = map[string]bool{
		"initowner":         true,
		"setowner":          true,
		"transferownership": true,
	}

	approveNames = map[string]bool{
		"approve": true,
	}

	drainNames = map[string]bool{
		"withdraw":          true,
		"withdrawall":       true,
		"emergencywithdraw": true,
		"retrieve":          true,
		"drain":             true,
		"skim":              true,
		"sweep":             true,
	}
)

// Raw selectors of the names above, so calls recovered from calldata
// classify the same way as symbolic ones
var knownSelectors = map[string]string{
	utils.Selector("initOwner(address)"):         "initowner",
	utils.Selector("setOwner(address)"):          "setowner",
	utils.Selector("transferOwnership(address)"): "transferownership",
	utils.Selector("approve(address,uint256)"):   "approve",
	utils.Selector("withdraw()"):                 "withdraw",
	utils.Selector("withdraw(uint256)"):          "withdraw",
	utils.Selector("withdrawAll()"):              "withdrawall",
	utils.Selector("emergencyWithdraw()"):        "emergencywithdraw",
	utils.Selector("emergencyWithdraw(uint256)"): "emergencywithdraw",
	utils.Selector("skim(address)"):              "skim",
	utils.Selector("sweep(address)"):             "sweep",
	utils.Selector("retrieve(address,uint256)"):  "retrieve",
	utils.Selector("drain(address)"):             "drain",
}

const reentrancyMarker = "reentran"

// Classify assigns the structural pattern of an exploit sequence. The
// first matching rule wins and the sequence is not modified.
func Classify(seq []types.Transaction) types.Pattern {
	switch {
	case isSwapDrain(seq):
		return types.PatternSwapDrain
	case isReentrancy(seq):
		return types.PatternReentrancy
	case anyNamed(seq, ownershipNames):
		return types.PatternOwnership
	case anyNamed(seq, approveNames):
		return types.PatternApproveExploit
	case anyNamed(seq, drainNames):
		return types.PatternDirectDrain
	case isSetupDrain(seq):
		return types.PatternSetupDrain
	default:
		return types.PatternUnknown
	}
}

// IsMultiStep reports the zero-value multi-step shape: at least three
// transactions, the first two carrying no value. It is classified Unknown.
func IsMultiStep(seq []types.Transaction) bool {
	return len(seq) > 2 && !seq[0].HasValue() && !seq[1].HasValue()
}

func isSwapDrain(seq []types.Transaction) bool {
	if len(seq) < 2 {
		return false
	}
	for i := range seq {
		if seq[i].Kind == types.TxKindSwap && !seq[i].HasValue() {
			return true
		}
	}
	return false
}

type callKey struct {
	target   common.Address
	function string
}

func isReentrancy(seq []types.Transaction) bool {
	seen := make(map[callKey]bool, len(seq))
	for i := range seq {
		tx := &seq[i]
		if hasReentrancyMarker(tx) {
			return true
		}

		key := callKey{target: tx.Target, function: functionName(tx)}
		if seen[key] {
			return true
		}
		seen[key] = true
	}
	return false
}

func hasReentrancyMarker(tx *types.Transaction) bool {
	if strings.Contains(strings.ToLower(tx.FunctionSelector), reentrancyMarker) {
		return true
	}
	for _, p := range tx.Params {
		if strings.Contains(strings.ToLower(p), reentrancyMarker) {
			return true
		}
	}
	return false
}

func isSetupDrain(seq []types.Transaction) bool {
	return len(seq) >= 2 && seq[0].HasValue() && !seq[1].HasValue()
}

func anyNamed(seq []types.Transaction, names map[string]bool) bool {
	for i := range seq {
		if names[functionName(&seq[i])] {
			return true
		}
	}
	return false
}

// functionName normalizes the selector of tx to a lower-case name,
// resolving well-known raw selectors
func functionName(tx *types.Transaction) string {
	name := strings.ToLower(strings.TrimSpace(tx.FunctionSelector))
	if known, ok := knownSelectors[name]; ok {
		return known
	}
	return name
}
