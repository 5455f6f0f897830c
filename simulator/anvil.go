package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/michaelpento.lv/fuzztriage/config"
	"github.com/michaelpento.lv/fuzztriage/types"
	"github.com/michaelpento.lv/fuzztriage/utils"
	"github.com/michaelpento.lv/fuzztriage/utils/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const receiptPollInterval = 50 * time.Millisecond

// AnvilSandbox drives an Anvil node over JSON-RPC
type AnvilSandbox struct {
	endpoint  string
	rpcClient *rpc.Client
	client    *ethclient.Client
	cfg       *config.Config
	limiter   *rate.Limiter
	metrics   *metrics.SandboxMetrics
	logger    *zap.Logger

	mu       sync.Mutex
	chain    string
	encoder  *utils.CallEncoder
	account  common.Address
	encoders map[string]*utils.CallEncoder
}

// NewAnvilSandbox connects to an Anvil node at endpoint
func NewAnvilSandbox(ctx context.Context, endpoint string, cfg *config.Config, m *metrics.SandboxMetrics, logger *zap.Logger) (*AnvilSandbox, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sandbox RPC: %w", err)
	}
	return NewAnvilSandboxWithClient(endpoint, rpcClient, cfg, m, logger)
}

// NewAnvilSandboxWithClient wraps an existing RPC client
func NewAnvilSandboxWithClient(endpoint string, rpcClient *rpc.Client, cfg *config.Config, m *metrics.SandboxMetrics, logger *zap.Logger) (*AnvilSandbox, error) {
	if cfg == nil || m == nil || logger == nil {
		return nil, errors.New("config, metrics and logger are required")
	}

	encoders := make(map[string]*utils.CallEncoder, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		enc, err := utils.NewCallEncoder(chain.TokenMap(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder for %s: %w", name, err)
		}
		encoders[name] = enc
	}

	rl := cfg.Sandbox.RateLimit
	return &AnvilSandbox{
		endpoint:  endpoint,
		rpcClient: rpcClient,
		client:    ethclient.NewClient(rpcClient),
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize),
		metrics:   m,
		logger:    logger.With(zap.String("sandbox", endpoint)),
		encoders:  encoders,
		account:   cfg.Sandbox.AccountAddress(),
	}, nil
}

// Endpoint returns the node URL the sandbox talks to
func (s *AnvilSandbox) Endpoint() string {
	return s.endpoint
}

// Account returns the funded account replays are sent from
func (s *AnvilSandbox) Account() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Close releases the RPC connection
func (s *AnvilSandbox) Close() {
	s.rpcClient.Close()
}

// Fork resets the node onto chain at block and prepares the replay account
func (s *AnvilSandbox) Fork(ctx context.Context, chain string, block uint64) error {
	chainCfg, ok := s.cfg.Chains[chain]
	if !ok {
		return fmt.Errorf("%w: unknown chain %q", ErrForkUnavailable, chain)
	}
	if block == 0 {
		return fmt.Errorf("%w: block number is required", ErrForkUnavailable)
	}

	forking := map[string]interface{}{
		"jsonRpcUrl":  chainCfg.ForkURL,
		"blockNumber": block,
	}
	if err := s.call(ctx, nil, "anvil_reset", map[string]interface{}{"forking": forking}); err != nil {
		return fmt.Errorf("%w: %v", ErrForkUnavailable, err)
	}

	account := s.cfg.Sandbox.AccountAddress()
	if account == (common.Address{}) {
		var accounts []common.Address
		if err := s.call(ctx, &accounts, "eth_accounts"); err != nil {
			return fmt.Errorf("%w: failed to list accounts: %v", ErrForkUnavailable, err)
		}
		if len(accounts) == 0 {
			return fmt.Errorf("%w: node has no unlocked accounts", ErrForkUnavailable)
		}
		account = accounts[0]
	} else if err := s.call(ctx, nil, "anvil_impersonateAccount", account); err != nil {
		return fmt.Errorf("%w: failed to impersonate %s: %v", ErrForkUnavailable, account.Hex(), err)
	}

	funding, err := s.cfg.Sandbox.FundingWei()
	if err != nil {
		return err
	}
	if funding.Sign() > 0 {
		if err := s.call(ctx, nil, "anvil_setBalance", account, (*hexutil.Big)(funding)); err != nil {
			return fmt.Errorf("%w: failed to fund %s: %v", ErrForkUnavailable, account.Hex(), err)
		}
	}

	s.mu.Lock()
	s.chain = chain
	s.encoder = s.encoders[chain]
	s.account = account
	s.mu.Unlock()

	s.logger.Info("Forked sandbox",
		zap.String("chain", chain),
		zap.Uint64("block", block),
		zap.String("account", account.Hex()),
	)
	return nil
}

// Snapshot saves the current sandbox state
func (s *AnvilSandbox) Snapshot(ctx context.Context) (SnapshotID, error) {
	var id hexutil.Big
	if err := s.call(ctx, &id, "evm_snapshot"); err != nil {
		return "", Unavailable("take snapshot", err)
	}
	return SnapshotID(id.String()), nil
}

// Revert restores a snapshot taken by Snapshot
func (s *AnvilSandbox) Revert(ctx context.Context, id SnapshotID) error {
	var ok bool
	if err := s.call(ctx, &ok, "evm_revert", string(id)); err != nil {
		return Unavailable("revert snapshot", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidSnapshot, id)
	}
	return nil
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Gas   hexutil.Uint64 `json:"gas"`
	Data  hexutil.Bytes  `json:"data"`
}

type receipt struct {
	Status  hexutil.Uint64 `json:"status"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
}

// Replay sends the sequence in order from the replay account and stops at
// the first transaction that fails
func (s *AnvilSandbox) Replay(ctx context.Context, seq []types.Transaction, from common.Address) (*ReplayResult, error) {
	s.mu.Lock()
	encoder := s.encoder
	s.mu.Unlock()
	if encoder == nil {
		return nil, fmt.Errorf("%w: sandbox has not been forked", ErrSandboxUnavailable)
	}

	result := &ReplayResult{Success: true}
	for i := range seq {
		tx := &seq[i]
		data, err := encoder.Encode(tx, from)
		if err != nil {
			return &ReplayResult{
				Success:       false,
				GasUsed:       result.GasUsed,
				FailureReason: fmt.Sprintf("tx %d: encode: %v", i, err),
			}, nil
		}

		args := sendTxArgs{
			From:  from,
			To:    tx.Target,
			Value: (*hexutil.Big)(tx.Value()),
			Gas:   hexutil.Uint64(s.cfg.Sandbox.TxGasLimit),
			Data:  data,
		}

		var hash common.Hash
		if err := s.call(ctx, &hash, "eth_sendTransaction", args); err != nil {
			var rpcErr rpc.Error
			if errors.As(err, &rpcErr) {
				return &ReplayResult{
					Success:       false,
					GasUsed:       result.GasUsed,
					FailureReason: fmt.Sprintf("tx %d: %s", i, rpcErr.Error()),
				}, nil
			}
			return nil, Unavailable("send transaction", err)
		}

		rcpt, err := s.waitReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		result.GasUsed += uint64(rcpt.GasUsed)
		s.metrics.GasUsed.Observe(float64(rcpt.GasUsed))

		if rcpt.Status == 0 {
			result.Success = false
			result.FailureReason = fmt.Sprintf("tx %d reverted", i)
			return result, nil
		}
	}

	return result, nil
}

func (s *AnvilSandbox) waitReceipt(ctx context.Context, hash common.Hash) (*receipt, error) {
	for attempt := 0; attempt < s.cfg.Sandbox.ReceiptPolls; attempt++ {
		var rcpt *receipt
		if err := s.call(ctx, &rcpt, "eth_getTransactionReceipt", hash); err != nil {
			return nil, Unavailable("fetch receipt", err)
		}
		if rcpt != nil {
			return rcpt, nil
		}

		select {
		case <-ctx.Done():
			return nil, Unavailable("fetch receipt", ctx.Err())
		case <-time.After(receiptPollInterval):
		}
	}
	return nil, fmt.Errorf("%w: receipt for %s not mined", ErrSandboxUnavailable, hash.Hex())
}

// BalanceOf returns the native balance of account
func (s *AnvilSandbox) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	var balance *big.Int
	err := s.observe(ctx, "eth_getBalance", func() error {
		var err error
		balance, err = s.client.BalanceAt(ctx, account, nil)
		return err
	})
	if err != nil {
		return nil, Unavailable("read balance", err)
	}
	return toUint256(balance)
}

// GasPrice returns the sandbox's current gas price
func (s *AnvilSandbox) GasPrice(ctx context.Context) (*uint256.Int, error) {
	var price *big.Int
	err := s.observe(ctx, "eth_gasPrice", func() error {
		var err error
		price, err = s.client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, Unavailable("read gas price", err)
	}
	return toUint256(price)
}

func (s *AnvilSandbox) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return s.observe(ctx, method, func() error {
		return s.rpcClient.CallContext(ctx, result, method, args...)
	})
}

// observe rate-limits fn and records it under method
func (s *AnvilSandbox) observe(ctx context.Context, method string, fn func() error) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.Sandbox.RateLimit.WaitTimeout)
	defer cancel()
	if err := s.limiter.Wait(waitCtx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	err := fn()
	s.metrics.Calls.WithLabelValues(method).Inc()
	s.metrics.Latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Errors.WithLabelValues(method).Inc()
		s.logger.Debug("Sandbox call failed", zap.String("method", method), zap.Error(err))
	}
	return err
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid quantity %v", ErrSandboxUnavailable, v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: quantity %s exceeds 256 bits", ErrSandboxUnavailable, v)
	}
	return out, nil
}
