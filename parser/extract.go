package parser

import (
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/fuzztriage/types"
	weimath "github.com/michaelpento.lv/fuzztriage/utils/math"
)

const traceDelimiter = "================ Trace ================"

var (
	profitMarkerPattern = regexp.MustCompile(`Anyone can earn\s+([0-9]+(?:\.[0-9]+)?)\s+([A-Za-z]+)`)
	senderPattern       = regexp.MustCompile(`\[Sender\]\s*(0x[0-9a-fA-F]{40})\b`)
	addressScanPattern  = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	depthPattern        = regexp.MustCompile(`─\[(\d+)\]`)
	swapPattern         = regexp.MustCompile(`Router\.(swap\w*ETHForTokens\w*)\{value:\s*([0-9]+(?:\.[0-9]+)?)\s*(ether|gwei|wei)\}\(`)
	callPattern         = regexp.MustCompile(`\b(0x[0-9a-fA-F]{40})\.(\w+)(?:\{value:\s*([0-9]+(?:\.[0-9]+)?)\s*(ether|gwei|wei)?\})?\(`)
	pathPattern         = regexp.MustCompile(`^path:\s*\((.*)\)$`)
	pathSeparator       = regexp.MustCompile(`\s*(?:→|->|,)\s*`)
	hexDataPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]{8,}$`)

	blockPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)block[_ ]?number\s*[:=]?\s*(\d+)`),
		regexp.MustCompile(`(?i)--onchain-block-number[ =](\d+)`),
		regexp.MustCompile(`(?i)\bblock\b[^\d\n]{0,40}?\b(\d{6,})\b`),
	}
	chainPattern = regexp.MustCompile(`(?im)^\s*(?:--)?(?:chain[-_]?type|chain|network)\s*[:= ]\s*"?([A-Za-z]+)`)
)

var chainAliases = map[string]string{
	"eth":      "eth",
	"ethereum": "eth",
	"mainnet":  "eth",
	"bsc":      "bsc",
	"bnb":      "bsc",
	"binance":  "bsc",
	"polygon":  "polygon",
	"matic":    "polygon",
	"arbitrum": "arbitrum",
	"arb":      "arbitrum",
}

// Substrings of report names that identify the chain, checked in order
var chainNameHints = []struct {
	hint  string
	chain string
}{
	{"bsc", "bsc"},
	{"bego", "bsc"},
	{"polygon", "polygon"},
	{"arbitrum", "arbitrum"},
}

// txMatch is one transaction found in a trace section, keyed by its offset
// so matches from different extractors can be merged in textual order
type txMatch struct {
	offset int
	tx     types.Transaction
}

type extractEnv struct {
	router common.Address
}

// txExtractor recognizes one textual shape of exploit transaction
type txExtractor interface {
	Name() string
	Find(section string, env extractEnv) []txMatch
}

type swapExtractor struct{}

func (swapExtractor) Name() string { return "router_swap" }

func (swapExtractor) Find(section string, env extractEnv) []txMatch {
	var out []txMatch
	for _, loc := range swapPattern.FindAllStringSubmatchIndex(section, -1) {
		if !isTopLevelCall(section, loc[0]) {
			continue
		}
		args, ok := readBalanced(section, loc[1]-1)
		if !ok {
			continue
		}
		value, err := weimath.ToWei(section[loc[4]:loc[5]], section[loc[6]:loc[7]])
		if err != nil {
			continue
		}

		params := splitTopLevel(args)
		out = append(out, txMatch{
			offset: loc[0],
			tx: types.Transaction{
				Kind:             types.TxKindSwap,
				Target:           env.router,
				ValueWei:         value,
				FunctionSelector: section[loc[2]:loc[3]],
				Params:           params,
				Path:             swapPath(params),
			},
		})
	}
	return out
}

type callExtractor struct{}

func (callExtractor) Name() string { return "direct_call" }

func (callExtractor) Find(section string, env extractEnv) []txMatch {
	var out []txMatch
	for _, loc := range callPattern.FindAllStringSubmatchIndex(section, -1) {
		if !isTopLevelCall(section, loc[0]) {
			continue
		}
		args, ok := readBalanced(section, loc[1]-1)
		if !ok {
			continue
		}

		value := new(big.Int)
		if loc[6] >= 0 {
			unit := "wei"
			if loc[8] >= 0 {
				unit = section[loc[8]:loc[9]]
			}
			v, err := weimath.ToWei(section[loc[6]:loc[7]], unit)
			if err != nil {
				continue
			}
			value = v
		}

		params := splitTopLevel(args)
		out = append(out, txMatch{
			offset: loc[0],
			tx: types.Transaction{
				Kind:             types.TxKindCall,
				Target:           common.HexToAddress(section[loc[2]:loc[3]]),
				ValueWei:         value,
				FunctionSelector: callSelector(section[loc[4]:loc[5]], params),
				Params:           params,
			},
		})
	}
	return out
}

// extractSequence runs every extractor over section and merges the
// matches into textual order
func extractSequence(section string, env extractEnv, extractors []txExtractor) []types.Transaction {
	var matches []txMatch
	for _, ex := range extractors {
		matches = append(matches, ex.Find(section, env)...)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].offset < matches[j].offset
	})

	seq := make([]types.Transaction, 0, len(matches))
	for _, m := range matches {
		seq = append(seq, m.tx)
	}
	return seq
}

// isTopLevelCall rejects nested calls: a depth marker like ├─[2] on the
// same line means the call happened inside another transaction
func isTopLevelCall(s string, offset int) bool {
	lineStart := strings.LastIndexByte(s[:offset], '\n') + 1
	m := depthPattern.FindStringSubmatch(s[lineStart:offset])
	if m == nil {
		return true
	}
	depth, err := strconv.Atoi(m[1])
	return err == nil && depth <= 1
}

// readBalanced returns the text between the parenthesis at open and its
// matching close on the same line, honouring nesting and double quotes
func readBalanced(s string, open int) (string, bool) {
	if open < 0 || open >= len(s) || s[open] != '(' {
		return "", false
	}
	depth := 0
	inQuote := false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
			if depth == 0 {
				return s[open+1 : i], true
			}
		case c == '\n':
			return "", false
		}
	}
	return "", false
}

// splitTopLevel splits an argument list at commas outside nested brackets
func splitTopLevel(args string) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(args); i++ {
		switch c := args[i]; {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			if p := strings.TrimSpace(args[start:i]); p != "" {
				out = append(out, p)
			}
			start = i + 1
		}
	}
	if p := strings.TrimSpace(args[start:]); p != "" {
		out = append(out, p)
	}
	return out
}

func swapPath(params []string) []string {
	for _, p := range params {
		m := pathPattern.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		var path []string
		for _, tok := range pathSeparator.Split(strings.TrimSpace(m[1]), -1) {
			if tok != "" {
				path = append(path, tok)
			}
		}
		return path
	}
	return nil
}

// callSelector keeps symbolic names and lifts the selector out of raw calldata
func callSelector(name string, params []string) string {
	if name == "call" && len(params) == 1 && hexDataPattern.MatchString(params[0]) {
		return strings.ToLower(params[0][:10])
	}
	return name
}

// findTraceSection locates the trace delimiter within [lo, hi) and returns
// the section body that follows it, or ok=false
func findTraceSection(text string, lo, hi, maxBytes int) (section string, offset int, ok bool) {
	idx := strings.Index(text[lo:hi], traceDelimiter)
	if idx < 0 {
		return "", 0, false
	}
	start := lo + idx + len(traceDelimiter)
	body := text[start:]

	// blank lines right after the delimiter do not end the section
	trimmed := strings.TrimLeft(body, "\r\n")
	start += len(body) - len(trimmed)
	body = trimmed

	if end := strings.Index(body, "\n\n"); end >= 0 {
		body = body[:end]
	}
	if len(body) > maxBytes {
		body = body[:maxBytes]
	}
	return body, start, true
}

func findSender(s string) common.Address {
	if m := senderPattern.FindStringSubmatch(s); m != nil {
		return common.HexToAddress(m[1])
	}
	return common.Address{}
}

func findBlockNumber(s string) uint64 {
	for _, re := range blockPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func findContracts(s string) []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, raw := range addressScanPattern.FindAllString(s, -1) {
		addr := common.HexToAddress(raw)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

func detectChain(name, text, fallback string) string {
	for _, m := range chainPattern.FindAllStringSubmatch(text, -1) {
		if chain, ok := chainAliases[strings.ToLower(m[1])]; ok {
			return chain
		}
	}
	lower := strings.ToLower(name)
	for _, h := range chainNameHints {
		if strings.Contains(lower, h.hint) {
			return h.chain
		}
	}
	return fallback
}
