package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrInvalidVulnerability = errors.New("invalid vulnerability")
)

// TxKind distinguishes router swaps from direct contract calls
type TxKind uint8

const (
	TxKindSwap TxKind = iota
	TxKindCall
)

func (k TxKind) String() string {
	switch k {
	case TxKindSwap:
		return "SWAP"
	case TxKindCall:
		return "CALL"
	default:
		return fmt.Sprintf("TxKind(%d)", uint8(k))
	}
}

func (k TxKind) MarshalText() ([]byte, error) {
	switch k {
	case TxKindSwap, TxKindCall:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown tx kind %d", uint8(k))
}

func (k *TxKind) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "SWAP":
		*k = TxKindSwap
	case "CALL":
		*k = TxKindCall
	default:
		return fmt.Errorf("unknown tx kind %q", string(text))
	}
	return nil
}

// Transaction is one step of an exploit sequence recovered from a report.
// Params are kept as the literal argument strings of the trace.
type Transaction struct {
	Kind             TxKind         `json:"kind"`
	Target           common.Address `json:"target"`
	ValueWei         *big.Int       `json:"valueWei"`
	FunctionSelector string         `json:"functionSelector"`
	Params           []string       `json:"params"`
	Path             []string       `json:"path,omitempty"`
}

// Value returns the attached value, treating nil as zero
func (tx *Transaction) Value() *big.Int {
	if tx.ValueWei == nil {
		return new(big.Int)
	}
	return tx.ValueWei
}

// HasValue reports whether the transaction carries a positive value
func (tx *Transaction) HasValue() bool {
	return tx.ValueWei != nil && tx.ValueWei.Sign() > 0
}

// Validate checks the transaction invariants
func (tx *Transaction) Validate() error {
	if tx.Target == (common.Address{}) {
		return fmt.Errorf("%w: empty target", ErrInvalidTransaction)
	}
	if tx.ValueWei != nil {
		if tx.ValueWei.Sign() < 0 {
			return fmt.Errorf("%w: negative value %s", ErrInvalidTransaction, tx.ValueWei)
		}
		if _, overflow := uint256.FromBig(tx.ValueWei); overflow {
			return fmt.Errorf("%w: value %s exceeds 256 bits", ErrInvalidTransaction, tx.ValueWei)
		}
	}
	if tx.Kind != TxKindSwap && tx.Kind != TxKindCall {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidTransaction, uint8(tx.Kind))
	}
	return nil
}

// Clone returns a deep copy of the transaction
func (tx *Transaction) Clone() Transaction {
	out := *tx
	out.ValueWei = new(big.Int).Set(tx.Value())
	if tx.Params != nil {
		out.Params = append([]string(nil), tx.Params...)
	}
	if tx.Path != nil {
		out.Path = append([]string(nil), tx.Path...)
	}
	return out
}

// WithValue returns a copy of the transaction carrying value
func (tx *Transaction) WithValue(value *big.Int) Transaction {
	out := tx.Clone()
	out.ValueWei = new(big.Int).Set(value)
	return out
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("%s %s.%s{value: %s}(%s)", tx.Kind, tx.Target.Hex(), tx.FunctionSelector, tx.Value(), strings.Join(tx.Params, ", "))
}

// Vulnerability is the structured form of one fuzzer finding
type Vulnerability struct {
	ID                string           `json:"id"`
	ReportedProfitWei *big.Int         `json:"reportedProfitWei"`
	Chain             string           `json:"chain"`
	BlockNumber       uint64           `json:"blockNumber"`
	Contracts         []common.Address `json:"contracts"`
	Sequence          []Transaction    `json:"sequence"`
	Sender            common.Address   `json:"sender"`
	Fingerprint       string           `json:"fingerprint"`
	TraceFound        bool             `json:"traceFound"`
}

// TotalInputWei sums the value of every swap that spends native currency
func (v *Vulnerability) TotalInputWei() *big.Int {
	total := new(big.Int)
	for i := range v.Sequence {
		if v.Sequence[i].Kind == TxKindSwap && v.Sequence[i].HasValue() {
			total.Add(total, v.Sequence[i].ValueWei)
		}
	}
	return total
}

// TotalValueWei sums the value attached to every transaction
func TotalValueWei(seq []Transaction) *big.Int {
	total := new(big.Int)
	for i := range seq {
		total.Add(total, seq[i].Value())
	}
	return total
}

// CloneSequence returns a deep copy of the exploit sequence
func (v *Vulnerability) CloneSequence() []Transaction {
	out := make([]Transaction, len(v.Sequence))
	for i := range v.Sequence {
		out[i] = v.Sequence[i].Clone()
	}
	return out
}

// Validate checks that the vulnerability can be handed to the optimizer
func (v *Vulnerability) Validate() error {
	if len(v.Sequence) == 0 {
		return fmt.Errorf("%w: empty sequence", ErrInvalidVulnerability)
	}
	if v.ReportedProfitWei != nil {
		if v.ReportedProfitWei.Sign() < 0 {
			return fmt.Errorf("%w: negative reported profit", ErrInvalidVulnerability)
		}
		if _, overflow := uint256.FromBig(v.ReportedProfitWei); overflow {
			return fmt.Errorf("%w: reported profit exceeds 256 bits", ErrInvalidVulnerability)
		}
	}
	for i := range v.Sequence {
		if err := v.Sequence[i].Validate(); err != nil {
			return fmt.Errorf("%w: tx %d: %v", ErrInvalidVulnerability, i, err)
		}
	}
	return nil
}
