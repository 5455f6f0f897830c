package simulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/michaelpento.lv/fuzztriage/types"
)

var (
	// ErrSandboxUnavailable means the sandbox can no longer be trusted to
	// run or isolate trials. It always aborts an optimization run.
	ErrSandboxUnavailable = errors.New("sandbox unavailable")

	ErrForkUnavailable = fmt.Errorf("%w: fork unavailable", ErrSandboxUnavailable)
	ErrInvalidSnapshot = fmt.Errorf("%w: invalid snapshot", ErrSandboxUnavailable)
)

// SnapshotID identifies a saved sandbox state
type SnapshotID string

// ReplayResult represents the outcome of replaying a sequence. A reverted
// sequence is reported here and not as an error.
type ReplayResult struct {
	Success       bool
	GasUsed       uint64
	FailureReason string
}

// Sandbox is an isolated, snapshot-capable EVM forked from a real chain
type Sandbox interface {
	Fork(ctx context.Context, chain string, block uint64) error
	Snapshot(ctx context.Context) (SnapshotID, error)
	Revert(ctx context.Context, id SnapshotID) error
	Replay(ctx context.Context, seq []types.Transaction, from common.Address) (*ReplayResult, error)
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	GasPrice(ctx context.Context) (*uint256.Int, error)
}

// AccountProvider is implemented by sandboxes that own a funded account
type AccountProvider interface {
	Account() common.Address
}

// Unavailable wraps err so that it matches ErrSandboxUnavailable
func Unavailable(op string, err error) error {
	if errors.Is(err, ErrSandboxUnavailable) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w: %v", op, ErrSandboxUnavailable, err)
}
