package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/michaelpento.lv/fuzztriage/types"
	weimath "github.com/michaelpento.lv/fuzztriage/utils/math"
	"go.uber.org/zap"
)

const UniswapV2RouterABI = `[{"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},{"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokensSupportingFeeOnTransferTokens","outputs":[],"stateMutability":"payable","type":"function"}]`

const defaultSwapMethod = "swapExactETHForTokens"

// Far enough ahead that a forked block never expires a replayed swap
var defaultDeadline = new(big.Int).SetUint64(1 << 62)

var (
	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hexBlobPattern  = regexp.MustCompile(`^0x(?:[0-9a-fA-F]{2})*$`)
	selectorPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{8}$`)
	intPattern      = regexp.MustCompile(`^-?[0-9]+$`)
	amountPattern   = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*(ether|gwei|wei)$`)
	labelPattern    = regexp.MustCompile(`^[A-Za-z_]\w*:\s*`)
)

// Symbolic raw-call names that carry no function selector
var rawCallNames = map[string]bool{
	"":         true,
	"call":     true,
	"fallback": true,
	"receive":  true,
}

// CallEncoder turns recovered exploit transactions into calldata
type CallEncoder struct {
	router   abi.ABI
	tokens   map[string]common.Address
	deadline *big.Int
	logger   *zap.Logger
}

// NewCallEncoder creates a new call encoder. tokens maps upper-case symbols
// that appear in swap paths (WETH, WBNB, ...) to their addresses.
func NewCallEncoder(tokens map[string]common.Address, logger *zap.Logger) (*CallEncoder, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	router, err := abi.JSON(strings.NewReader(UniswapV2RouterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse UniswapV2Router ABI: %w", err)
	}

	normalized := make(map[string]common.Address, len(tokens))
	for sym, addr := range tokens {
		normalized[strings.ToUpper(sym)] = addr
	}

	return &CallEncoder{
		router:   router,
		tokens:   normalized,
		deadline: defaultDeadline,
		logger:   logger,
	}, nil
}

// Encode builds calldata for tx with from as the swap recipient
func (e *CallEncoder) Encode(tx *types.Transaction, from common.Address) ([]byte, error) {
	switch tx.Kind {
	case types.TxKindSwap:
		return e.encodeSwap(tx, from)
	case types.TxKindCall:
		return e.encodeCall(tx)
	default:
		return nil, fmt.Errorf("unsupported transaction kind %s", tx.Kind)
	}
}

func (e *CallEncoder) encodeSwap(tx *types.Transaction, from common.Address) ([]byte, error) {
	if len(tx.Path) < 2 {
		return nil, fmt.Errorf("swap path requires at least two tokens, got %d", len(tx.Path))
	}

	path := make([]common.Address, 0, len(tx.Path))
	for _, sym := range tx.Path {
		addr, err := e.resolveToken(sym)
		if err != nil {
			return nil, err
		}
		path = append(path, addr)
	}

	amountOutMin := new(big.Int)
	if len(tx.Params) > 0 {
		if v, ok := new(big.Int).SetString(stripLabel(tx.Params[0]), 10); ok && v.Sign() >= 0 {
			amountOutMin = v
		}
	}

	method := tx.FunctionSelector
	if _, ok := e.router.Methods[method]; !ok {
		method = defaultSwapMethod
	}

	data, err := e.router.Pack(method, amountOutMin, path, from, e.deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swap: %w", err)
	}
	return data, nil
}

func (e *CallEncoder) encodeCall(tx *types.Transaction) ([]byte, error) {
	name := strings.TrimSpace(tx.FunctionSelector)

	if rawCallNames[strings.ToLower(name)] {
		if len(tx.Params) == 1 && hexBlobPattern.MatchString(strings.TrimSpace(tx.Params[0])) {
			return hexutil.Decode(strings.TrimSpace(tx.Params[0]))
		}
		return nil, nil
	}

	if selectorPattern.MatchString(name) {
		if len(tx.Params) == 1 {
			blob := strings.TrimSpace(tx.Params[0])
			if hexBlobPattern.MatchString(blob) && strings.HasPrefix(strings.ToLower(blob), strings.ToLower(name)) {
				return hexutil.Decode(blob)
			}
		}
		args, values, _, err := e.inferArguments(tx.Params)
		if err != nil {
			return nil, err
		}
		packed, err := args.Pack(values...)
		if err != nil {
			return nil, fmt.Errorf("failed to pack arguments for %s: %w", name, err)
		}
		return append(hexutil.MustDecode(name), packed...), nil
	}

	args, values, typeNames, err := e.inferArguments(tx.Params)
	if err != nil {
		return nil, err
	}
	signature := fmt.Sprintf("%s(%s)", name, strings.Join(typeNames, ","))
	packed, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack arguments for %s: %w", signature, err)
	}

	e.logger.Debug("Encoded call",
		zap.String("signature", signature),
		zap.String("target", tx.Target.Hex()),
	)

	return append(crypto.Keccak256([]byte(signature))[:4], packed...), nil
}

func (e *CallEncoder) inferArguments(params []string) (abi.Arguments, []interface{}, []string, error) {
	args := make(abi.Arguments, 0, len(params))
	values := make([]interface{}, 0, len(params))
	typeNames := make([]string, 0, len(params))

	for _, raw := range params {
		typeName, value, err := e.inferArgument(raw)
		if err != nil {
			return nil, nil, nil, err
		}
		typ, err := abi.NewType(typeName, "", nil)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to build abi type %s: %w", typeName, err)
		}
		args = append(args, abi.Argument{Type: typ})
		values = append(values, value)
		typeNames = append(typeNames, typeName)
	}

	return args, values, typeNames, nil
}

func (e *CallEncoder) inferArgument(raw string) (string, interface{}, error) {
	s := stripLabel(raw)

	switch {
	case s == "true" || s == "false":
		return "bool", s == "true", nil
	case addressPattern.MatchString(s):
		return "address", common.HexToAddress(s), nil
	case hexBlobPattern.MatchString(s):
		return "bytes", hexutil.MustDecode(s), nil
	case intPattern.MatchString(s):
		v, _ := new(big.Int).SetString(s, 10)
		if v.Sign() < 0 {
			return "int256", v, nil
		}
		return "uint256", v, nil
	}

	if m := amountPattern.FindStringSubmatch(s); m != nil {
		v, err := weimath.ToWei(m[1], m[2])
		if err != nil {
			return "", nil, err
		}
		return "uint256", v, nil
	}

	if addr, ok := e.tokens[strings.ToUpper(s)]; ok {
		return "address", addr, nil
	}

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return "string", s[1 : len(s)-1], nil
	}

	return "", nil, fmt.Errorf("cannot infer abi type of argument %q", raw)
}

func (e *CallEncoder) resolveToken(sym string) (common.Address, error) {
	sym = strings.TrimSpace(sym)
	if addressPattern.MatchString(sym) {
		return common.HexToAddress(sym), nil
	}
	if addr, ok := e.tokens[strings.ToUpper(sym)]; ok {
		return addr, nil
	}
	return common.Address{}, fmt.Errorf("unknown token %q in swap path", sym)
}

// Selector returns the 4-byte selector of a canonical signature as hex
func Selector(signature string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(signature))[:4])
}

func stripLabel(s string) string {
	s = strings.TrimSpace(s)
	if labelPattern.MatchString(s) && !strings.HasPrefix(s, "0x") {
		return strings.TrimSpace(labelPattern.ReplaceAllString(s, ""))
	}
	return s
}
