package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/fuzztriage/config"
	"github.com/michaelpento.lv/fuzztriage/types"
	weimath "github.com/michaelpento.lv/fuzztriage/utils/math"
	"go.uber.org/zap"
)

const profitMarker = "Anyone can earn"

// Parser turns fuzzer report text into vulnerabilities
type Parser struct {
	cfg          config.ParserConfig
	routers      map[string]common.Address
	defaultChain string
	extractors   []txExtractor
	logger       *zap.Logger
}

// NewParser creates a new report parser
func NewParser(cfg *config.Config, logger *zap.Logger) *Parser {
	routers := make(map[string]common.Address, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		routers[name] = chain.RouterAddress()
	}

	return &Parser{
		cfg:          cfg.Parser,
		routers:      routers,
		defaultChain: cfg.DefaultChain,
		extractors:   []txExtractor{swapExtractor{}, callExtractor{}},
		logger:       logger,
	}
}

// Fingerprint returns the content hash used to identify report text
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// Parse extracts the first vulnerability disclosed in text
func (p *Parser) Parse(text string) (*types.Vulnerability, error) {
	return p.ParseReport("", text)
}

// ParseReport is Parse for a named report. The name becomes the
// vulnerability id and may hint at the chain.
func (p *Parser) ParseReport(name, text string) (*types.Vulnerability, error) {
	markers := markerOffsets(text)
	if len(markers) == 0 {
		return nil, &ParseError{Kind: ErrNoVulnerabilityFound, Report: name}
	}
	return p.parseAt(name, text, markers, 0)
}

// ParseAll extracts every vulnerability disclosed in text. Findings that
// fail to parse are reported in the joined error.
func (p *Parser) ParseAll(name, text string) ([]*types.Vulnerability, error) {
	markers := markerOffsets(text)
	if len(markers) == 0 {
		return nil, &ParseError{Kind: ErrNoVulnerabilityFound, Report: name}
	}

	var (
		vulns []*types.Vulnerability
		errs  []error
	)
	for i := range markers {
		v, err := p.parseAt(name, text, markers, i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		vulns = append(vulns, v)
	}
	return vulns, errors.Join(errs...)
}

func (p *Parser) parseAt(name, text string, markers []int, i int) (*types.Vulnerability, error) {
	markerStart := markers[i]
	limit := len(text)
	if i+1 < len(markers) {
		limit = markers[i+1]
	}
	scope := text[:limit]

	loc := profitMarkerPattern.FindStringSubmatchIndex(scope[markerStart:])
	if loc == nil || loc[0] != 0 {
		return nil, newParseError(ErrMalformedReport, name, markerStart, "profit disclosure has no amount")
	}
	amount := scope[markerStart+loc[2] : markerStart+loc[3]]
	unit := scope[markerStart+loc[4] : markerStart+loc[5]]
	profit, err := weimath.ToWei(amount, unit)
	if err != nil {
		return nil, newParseError(ErrMalformedReport, name, markerStart, "reported profit: %v", err)
	}
	markerEnd := markerStart + loc[1]

	chain := detectChain(name, text, p.defaultChain)
	env := extractEnv{router: p.routers[chain]}

	// later findings never look back into the previous finding's trace
	lo := max(0, markerStart-p.cfg.TraceLookbehind)
	if i > 0 {
		lo = markerStart
	}
	hi := min(limit, markerEnd+p.cfg.TraceLookahead+len(traceDelimiter))

	section, sectionOffset, traceFound := findTraceSection(scope, lo, hi, p.cfg.TraceMaxBytes)
	if !traceFound {
		end := min(limit, markerEnd+p.cfg.FallbackBudget)
		section, sectionOffset = scope[markerEnd:end], markerEnd
		p.logger.Debug("Trace delimiter not found, scanning after disclosure",
			zap.String("report", name),
			zap.Int("budget", p.cfg.FallbackBudget),
		)
	}

	seq := extractSequence(section, env, p.extractors)
	if len(seq) == 0 {
		return nil, newParseError(ErrMalformedTrace, name, sectionOffset, "no transactions recognized")
	}
	for j := range seq {
		if seq[j].Kind == types.TxKindSwap && seq[j].Target == (common.Address{}) {
			return nil, newParseError(ErrMalformedReport, name, sectionOffset, "no router configured for chain %q", chain)
		}
		if err := seq[j].Validate(); err != nil {
			return nil, newParseError(ErrMalformedTrace, name, sectionOffset, "tx %d: %v", j, err)
		}
	}

	sender := findSender(section)
	if sender == (common.Address{}) {
		sender = findSender(scope[markerStart:])
	}

	fingerprint := Fingerprint(text)
	id := name
	if id == "" {
		id = "report-" + fingerprint
	}
	if len(markers) > 1 {
		id = fmt.Sprintf("%s#%d", id, i+1)
	}

	vuln := &types.Vulnerability{
		ID:                id,
		ReportedProfitWei: profit,
		Chain:             chain,
		BlockNumber:       findBlockNumber(scope),
		Contracts:         findContracts(text[:markerStart]),
		Sequence:          seq,
		Sender:            sender,
		Fingerprint:       fingerprint,
		TraceFound:        traceFound,
	}

	p.logger.Debug("Parsed vulnerability",
		zap.String("id", vuln.ID),
		zap.String("chain", vuln.Chain),
		zap.Uint64("block", vuln.BlockNumber),
		zap.Int("transactions", len(vuln.Sequence)),
		zap.String("reported_profit", weimath.FormatEther(profit)),
		zap.Bool("trace_found", traceFound),
	)

	return vuln, nil
}

func markerOffsets(text string) []int {
	var out []int
	for off := 0; ; {
		idx := strings.Index(text[off:], profitMarker)
		if idx < 0 {
			return out
		}
		out = append(out, off+idx)
		off += idx + len(profitMarker)
	}
}
