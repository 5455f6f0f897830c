package testutils

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/michaelpento.lv/fuzztriage/simulator"
	"github.com/michaelpento.lv/fuzztriage/types"
)

// DefaultAccount is the funded account of a FakeSandbox
var DefaultAccount = common.HexToAddress("0x68Dd4F5AC792eAaa5e36f4f4e0474E0625dc9024")

// Outcome decides what replaying seq does: the native amount paid back to
// the sender, whether the sequence succeeds and the gas it burns
type Outcome func(seq []types.Transaction) (payout *big.Int, ok bool, gasUsed uint64)

// FakeSandbox is an in-memory Sandbox with deterministic replay outcomes
type FakeSandbox struct {
	mu        sync.Mutex
	account   common.Address
	balances  map[common.Address]*big.Int
	snapshots map[simulator.SnapshotID]map[common.Address]*big.Int
	nextID    int
	gasPrice  *uint256.Int
	outcome   Outcome

	// BeforeReplay runs at the start of every replay. A non-nil error is
	// returned from Replay as is.
	BeforeReplay func(ctx context.Context) error
	// ForkErr, SnapshotErr and BalanceErr fail the matching call
	ForkErr     error
	SnapshotErr error
	BalanceErr  error

	chain   string
	block   uint64
	replays [][]types.Transaction
	reverts int
}

// NewFakeSandbox creates a fake sandbox funding DefaultAccount with funding wei
func NewFakeSandbox(funding *big.Int, outcome Outcome) *FakeSandbox {
	return &FakeSandbox{
		account:   DefaultAccount,
		balances:  map[common.Address]*big.Int{DefaultAccount: new(big.Int).Set(funding)},
		snapshots: make(map[simulator.SnapshotID]map[common.Address]*big.Int),
		gasPrice:  uint256.NewInt(0),
		outcome:   outcome,
	}
}

// SetGasPrice changes the gas price reported by the sandbox
func (f *FakeSandbox) SetGasPrice(price uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasPrice = uint256.NewInt(price)
}

func (f *FakeSandbox) Account() common.Address {
	return f.account
}

func (f *FakeSandbox) Fork(ctx context.Context, chain string, block uint64) error {
	if f.ForkErr != nil {
		return f.ForkErr
	}
	if block == 0 {
		return fmt.Errorf("%w: block number is required", simulator.ErrForkUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chain, f.block = chain, block
	return nil
}

// Forked returns the chain and block of the last successful Fork
func (f *FakeSandbox) Forked() (string, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chain, f.block
}

func (f *FakeSandbox) Snapshot(ctx context.Context) (simulator.SnapshotID, error) {
	if f.SnapshotErr != nil {
		return "", f.SnapshotErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := simulator.SnapshotID(fmt.Sprintf("0x%x", f.nextID))
	f.snapshots[id] = copyBalances(f.balances)
	return id, nil
}

// Revert restores id and, like Anvil, forgets it
func (f *FakeSandbox) Revert(ctx context.Context, id simulator.SnapshotID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved, ok := f.snapshots[id]
	if !ok {
		return fmt.Errorf("%w: %s", simulator.ErrInvalidSnapshot, id)
	}
	f.balances = saved
	delete(f.snapshots, id)
	f.reverts++
	return nil
}

func (f *FakeSandbox) Replay(ctx context.Context, seq []types.Transaction, from common.Address) (*simulator.ReplayResult, error) {
	if f.BeforeReplay != nil {
		if err := f.BeforeReplay(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	recorded := make([]types.Transaction, len(seq))
	for i := range seq {
		recorded[i] = seq[i].Clone()
	}
	f.replays = append(f.replays, recorded)

	payout, ok, gasUsed := f.outcome(seq)
	if !ok {
		return &simulator.ReplayResult{Success: false, GasUsed: gasUsed, FailureReason: "execution reverted"}, nil
	}

	balance := f.balance(from)
	spent := types.TotalValueWei(seq)
	if balance.Cmp(spent) < 0 {
		return &simulator.ReplayResult{Success: false, FailureReason: "insufficient funds for value"}, nil
	}
	balance.Sub(balance, spent)
	if payout != nil {
		balance.Add(balance, payout)
	}
	return &simulator.ReplayResult{Success: true, GasUsed: gasUsed}, nil
}

func (f *FakeSandbox) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out, _ := uint256.FromBig(f.balance(account))
	return out, nil
}

func (f *FakeSandbox) GasPrice(ctx context.Context) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(uint256.Int).Set(f.gasPrice), nil
}

// Replays returns copies of every sequence replayed so far, in order
func (f *FakeSandbox) Replays() [][]types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]types.Transaction(nil), f.replays...)
}

// Reverts returns how many snapshots have been restored
func (f *FakeSandbox) Reverts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reverts
}

// OpenSnapshots returns the number of snapshots not yet reverted
func (f *FakeSandbox) OpenSnapshots() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

// StateHash fingerprints every balance held by the sandbox
func (f *FakeSandbox) StateHash() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts := make([]common.Address, 0, len(f.balances))
	for addr := range f.balances {
		accounts = append(accounts, addr)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Cmp(accounts[j]) < 0
	})

	h := xxhash.New()
	var n [8]byte
	for _, addr := range accounts {
		h.Write(addr.Bytes())
		b := f.balances[addr].Bytes()
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	return h.Sum64()
}

func (f *FakeSandbox) balance(addr common.Address) *big.Int {
	b, ok := f.balances[addr]
	if !ok {
		b = new(big.Int)
		f.balances[addr] = b
	}
	return b
}

func copyBalances(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Sleep returns a BeforeReplay hook that blocks for d or until ctx is done
func Sleep(d time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Hang returns a BeforeReplay hook that blocks for d ignoring ctx
func Hang(d time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		time.Sleep(d)
		return nil
	}
}

// Ether returns n ether in wei
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// ScaledPayout returns an Outcome paying back rate times the value of the
// transaction at txIndex, capped at ceiling when ceiling is non-nil
func ScaledPayout(txIndex int, rate int64, ceiling *big.Int, gasUsed uint64) Outcome {
	return func(seq []types.Transaction) (*big.Int, bool, uint64) {
		if txIndex >= len(seq) {
			return nil, false, gasUsed
		}
		profit := new(big.Int).Mul(seq[txIndex].Value(), big.NewInt(rate))
		if ceiling != nil && profit.Cmp(ceiling) > 0 {
			profit.Set(ceiling)
		}
		return profit.Add(profit, types.TotalValueWei(seq)), true, gasUsed
	}
}

// AlwaysRevert is an Outcome under which no replay succeeds
func AlwaysRevert(seq []types.Transaction) (*big.Int, bool, uint64) {
	return nil, false, 21000
}
