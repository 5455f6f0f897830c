package types

import "fmt"

// Pattern is the structural class of an exploit sequence. The zero value
// is PatternUnknown.
type Pattern uint8

const (
	PatternUnknown Pattern = iota
	PatternSwapDrain
	PatternSetupDrain
	PatternReentrancy
	PatternOwnership
	PatternApproveExploit
	PatternDirectDrain
)

var patternNames = map[Pattern]string{
	PatternSwapDrain:      "swap_drain",
	PatternSetupDrain:     "setup_drain",
	PatternReentrancy:     "reentrancy",
	PatternOwnership:      "ownership",
	PatternApproveExploit: "approve_exploit",
	PatternDirectDrain:    "direct_drain",
	PatternUnknown:        "unknown",
}

// Patterns lists every pattern
func Patterns() []Pattern {
	return []Pattern{
		PatternSwapDrain,
		PatternSetupDrain,
		PatternReentrancy,
		PatternOwnership,
		PatternApproveExploit,
		PatternDirectDrain,
		PatternUnknown,
	}
}

func (p Pattern) String() string {
	if name, ok := patternNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Pattern(%d)", uint8(p))
}

func (p Pattern) MarshalText() ([]byte, error) {
	if name, ok := patternNames[p]; ok {
		return []byte(name), nil
	}
	return nil, fmt.Errorf("unknown pattern %d", uint8(p))
}

func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := ParsePattern(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePattern resolves a pattern from its snake_case name
func ParsePattern(name string) (Pattern, error) {
	for p, n := range patternNames {
		if n == name {
			return p, nil
		}
	}
	return PatternUnknown, fmt.Errorf("unknown pattern %q", name)
}
