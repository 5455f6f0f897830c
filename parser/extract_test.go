package parser

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/fuzztriage/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRouter = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")

func TestSwapExtractor(t *testing.T) {
	section := `   ├─[1] Router.swapExactETHForTokensSupportingFeeOnTransferTokens{value: 0.5 ether}(100, path:(WBNB -> 0x2222222222222222222222222222222222222222), address(this), block.timestamp);`

	matches := swapExtractor{}.Find(section, extractEnv{router: testRouter})
	require.Len(t, matches, 1)

	tx := matches[0].tx
	assert.Equal(t, types.TxKindSwap, tx.Kind)
	assert.Equal(t, testRouter, tx.Target)
	assert.Equal(t, big.NewInt(5e17), tx.ValueWei)
	assert.Equal(t, "swapExactETHForTokensSupportingFeeOnTransferTokens", tx.FunctionSelector)
	assert.Equal(t, []string{"100", "path:(WBNB -> 0x2222222222222222222222222222222222222222)", "address(this)", "block.timestamp"}, tx.Params)
	assert.Equal(t, []string{"WBNB", "0x2222222222222222222222222222222222222222"}, tx.Path)
}

func TestCallExtractor(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		selector string
		value    *big.Int
		params   []string
	}{
		{
			name:     "named call without value",
			line:     "└─[1] 0x3333333333333333333333333333333333333333.withdraw(100)",
			selector: "withdraw",
			value:    big.NewInt(0),
			params:   []string{"100"},
		},
		{
			name:     "value in gwei",
			line:     "0x3333333333333333333333333333333333333333.deposit{value: 2 gwei}()",
			selector: "deposit",
			value:    big.NewInt(2e9),
		},
		{
			name:     "value without unit is wei",
			line:     "0x3333333333333333333333333333333333333333.deposit{value: 7}()",
			selector: "deposit",
			value:    big.NewInt(7),
		},
		{
			name:     "raw calldata yields the selector",
			line:     "0x3333333333333333333333333333333333333333.call(0xA9059CBB00000000)",
			selector: "0xa9059cbb",
			value:    big.NewInt(0),
			params:   []string{"0xA9059CBB00000000"},
		},
		{
			name:     "quoted parenthesis in arguments",
			line:     `0x3333333333333333333333333333333333333333.setName("a)b", 1)`,
			selector: "setName",
			value:    big.NewInt(0),
			params:   []string{`"a)b"`, "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := callExtractor{}.Find(tt.line, extractEnv{})
			require.Len(t, matches, 1)
			tx := matches[0].tx
			assert.Equal(t, types.TxKindCall, tx.Kind)
			assert.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), tx.Target)
			assert.Equal(t, tt.selector, tx.FunctionSelector)
			assert.Equal(t, 0, tt.value.Cmp(tx.ValueWei))
			assert.Equal(t, tt.params, tx.Params)
		})
	}
}

func TestExtractorsSkipNestedAndUnbalanced(t *testing.T) {
	section := strings.Join([]string{
		"   ├─[1] 0x3333333333333333333333333333333333333333.deposit{value: 1 ether}()",
		"   │  ├─[2] 0x2222222222222222222222222222222222222222.transfer(0x3333333333333333333333333333333333333333, 5)",
		"   ├─[1] 0x3333333333333333333333333333333333333333.broken(1, 2",
		"   └─[1] Router.swapExactETHForTokens{value: 1 ether}(0, path:(WETH → 0x2222222222222222222222222222222222222222))",
	}, "\n")

	seq := extractSequence(section, extractEnv{router: testRouter}, []txExtractor{swapExtractor{}, callExtractor{}})
	require.Len(t, seq, 2)
	assert.Equal(t, "deposit", seq[0].FunctionSelector)
	assert.Equal(t, types.TxKindSwap, seq[1].Kind)
}

func TestExtractSequenceKeepsTextualOrder(t *testing.T) {
	section := strings.Join([]string{
		"├─[1] Router.swapExactETHForTokens{value: 1 ether}(0, path:(WETH → 0x2222222222222222222222222222222222222222))",
		"├─[1] 0x3333333333333333333333333333333333333333.sync()",
		"└─[1] Router.swapExactETHForTokens{value: 0 ether}(0, path:(WETH → 0x2222222222222222222222222222222222222222))",
	}, "\n")

	seq := extractSequence(section, extractEnv{router: testRouter}, []txExtractor{callExtractor{}, swapExtractor{}})
	require.Len(t, seq, 3)
	assert.Equal(t, types.TxKindSwap, seq[0].Kind)
	assert.Equal(t, types.TxKindCall, seq[1].Kind)
	assert.Equal(t, types.TxKindSwap, seq[2].Kind)
}

func TestSplitTopLevel(t *testing.T) {
	assert.Equal(t, []string{"a", "f(b, c)", "[d, e]"}, splitTopLevel("a, f(b, c), [d, e]"))
	assert.Nil(t, splitTopLevel("   "))
}

func TestFindTraceSection(t *testing.T) {
	text := "header\n" + traceDelimiter + "\n\n  line one\n  line two\n\nfooter"

	section, offset, ok := findTraceSection(text, 0, len(text), 1000)
	require.True(t, ok)
	assert.Equal(t, "  line one\n  line two", section)
	assert.Equal(t, section, text[offset:offset+len(section)])

	section, _, ok = findTraceSection(text, 0, len(text), 5)
	require.True(t, ok)
	assert.Equal(t, "  lin", section)

	_, _, ok = findTraceSection(text, 0, 10, 1000)
	assert.False(t, ok)
}

func TestFindBlockNumber(t *testing.T) {
	tests := []struct {
		text string
		want uint64
	}{
		{"block_number: 18500000", 18500000},
		{"Block Number = 42", 42},
		{"ityfuzz evm --onchain-block-number 31000000 -c bsc", 31000000},
		{"forked at block #17000001", 17000001},
		{"block 12", 0},
		{"nothing here", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findBlockNumber(tt.text), tt.text)
	}
}

func TestFindContracts(t *testing.T) {
	text := "0x2222222222222222222222222222222222222222 then 0x1111111111111111111111111111111111111111 and again 0x2222222222222222222222222222222222222222"
	assert.Equal(t, []common.Address{
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}, findContracts(text))
}

func TestDetectChain(t *testing.T) {
	assert.Equal(t, "bsc", detectChain("", "chain_type: BSC", "eth"))
	assert.Equal(t, "polygon", detectChain("", "  network = matic", "eth"))
	assert.Equal(t, "bsc", detectChain("bego_20240101.log", "", "eth"))
	assert.Equal(t, "arbitrum", detectChain("ARBITRUM-run.txt", "", "eth"))
	assert.Equal(t, "eth", detectChain("run.log", "chain: solana", "eth"))
}
