package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTarget = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

func TestTransactionValidate(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)

	tests := []struct {
		name    string
		tx      Transaction
		wantErr bool
	}{
		{"valid swap", Transaction{Kind: TxKindSwap, Target: testTarget, ValueWei: big.NewInt(1)}, false},
		{"nil value", Transaction{Kind: TxKindCall, Target: testTarget}, false},
		{"empty target", Transaction{Kind: TxKindCall, ValueWei: big.NewInt(0)}, true},
		{"negative value", Transaction{Kind: TxKindCall, Target: testTarget, ValueWei: big.NewInt(-1)}, true},
		{"overflow", Transaction{Kind: TxKindCall, Target: testTarget, ValueWei: tooBig}, true},
		{"unknown kind", Transaction{Kind: TxKind(9), Target: testTarget}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransaction)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransactionCloneIsDeep(t *testing.T) {
	tx := Transaction{
		Kind:     TxKindSwap,
		Target:   testTarget,
		ValueWei: big.NewInt(10),
		Params:   []string{"0", "path:(WETH → TOKEN)"},
		Path:     []string{"WETH", "TOKEN"},
	}

	clone := tx.Clone()
	clone.ValueWei.SetInt64(99)
	clone.Params[0] = "changed"
	clone.Path[1] = "OTHER"

	assert.Equal(t, int64(10), tx.ValueWei.Int64())
	assert.Equal(t, "0", tx.Params[0])
	assert.Equal(t, "TOKEN", tx.Path[1])

	scaled := tx.WithValue(big.NewInt(50))
	assert.Equal(t, int64(50), scaled.ValueWei.Int64())
	assert.Equal(t, int64(10), tx.ValueWei.Int64())
}

func TestVulnerabilityTotals(t *testing.T) {
	v := &Vulnerability{
		Sequence: []Transaction{
			{Kind: TxKindSwap, Target: testTarget, ValueWei: big.NewInt(3)},
			{Kind: TxKindSwap, Target: testTarget, ValueWei: big.NewInt(0)},
			{Kind: TxKindCall, Target: testTarget, ValueWei: big.NewInt(7)},
		},
	}

	assert.Equal(t, int64(3), v.TotalInputWei().Int64())
	assert.Equal(t, int64(10), TotalValueWei(v.Sequence).Int64())

	seq := v.CloneSequence()
	seq[0].ValueWei.SetInt64(100)
	assert.Equal(t, int64(3), v.Sequence[0].ValueWei.Int64())
}

func TestVulnerabilityValidate(t *testing.T) {
	empty := &Vulnerability{ID: "x"}
	assert.ErrorIs(t, empty.Validate(), ErrInvalidVulnerability)

	badTx := &Vulnerability{Sequence: []Transaction{{Kind: TxKindCall}}}
	assert.ErrorIs(t, badTx.Validate(), ErrInvalidVulnerability)

	ok := &Vulnerability{
		ReportedProfitWei: big.NewInt(1),
		Sequence:          []Transaction{{Kind: TxKindCall, Target: testTarget}},
	}
	assert.NoError(t, ok.Validate())

	huge := &Vulnerability{
		ReportedProfitWei: new(big.Int).Lsh(big.NewInt(1), 256),
		Sequence:          []Transaction{{Kind: TxKindCall, Target: testTarget}},
	}
	err := huge.Validate()
	assert.ErrorIs(t, err, ErrInvalidVulnerability)
	assert.Contains(t, err.Error(), "256 bits")

	negative := &Vulnerability{
		ReportedProfitWei: big.NewInt(-1),
		Sequence:          []Transaction{{Kind: TxKindCall, Target: testTarget}},
	}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidVulnerability)
}

func TestPatternZeroValueIsUnknown(t *testing.T) {
	var p Pattern
	assert.Equal(t, PatternUnknown, p)
	assert.Equal(t, "unknown", p.String())

	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "unknown", string(text))

	var decoded struct {
		Pattern Pattern `json:"pattern"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{}`), &decoded))
	assert.Equal(t, PatternUnknown, decoded.Pattern)
}

func TestPatternText(t *testing.T) {
	for _, p := range Patterns() {
		text, err := p.MarshalText()
		require.NoError(t, err)

		var back Pattern
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, p, back)
	}

	_, err := ParsePattern("flash_loan")
	assert.Error(t, err)
}

func TestTransactionJSONFieldNames(t *testing.T) {
	tx := Transaction{Kind: TxKindCall, Target: testTarget, ValueWei: big.NewInt(5), FunctionSelector: "withdraw"}
	data, err := json.Marshal(tx)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "CALL", raw["kind"])
	assert.Equal(t, "withdraw", raw["functionSelector"])
	assert.Equal(t, float64(5), raw["valueWei"])
}
