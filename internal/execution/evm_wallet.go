package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution/signer"
	"github.com/ggonzalez94/sonic-agent/internal/id"
)

type WalletOptions struct {
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultWalletOptions() WalletOptions {
	return WalletOptions{
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

// EVMWallet is a Wallet backed by an RPC endpoint and a local signer.
type EVMWallet struct {
	client  *ethclient.Client
	signer  signer.Signer
	chainID *big.Int
	opts    WalletOptions
}

func DialWallet(ctx context.Context, rpcURL string, chain id.Chain, txSigner signer.Signer, opts WalletOptions) (*EVMWallet, error) {
	if txSigner == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if strings.TrimSpace(rpcURL) == "" {
		return nil, clierr.New(clierr.CodeUsage, "missing rpc url")
	}
	defaults := DefaultWalletOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = defaults.GasMultiplier
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if chain.EVMChainID != 0 && chainID.Int64() != chain.EVMChainID {
		client.Close()
		return nil, clierr.New(clierr.CodeActionPlan, fmt.Sprintf("rpc chain mismatch: expected %s, got eip155:%d", chain.CAIP2, chainID.Int64()))
	}
	return &EVMWallet{client: client, signer: txSigner, chainID: chainID, opts: opts}, nil
}

func (w *EVMWallet) Close() {
	if w != nil && w.client != nil {
		w.client.Close()
	}
}

func (w *EVMWallet) Address() common.Address { return w.signer.Address() }

func (w *EVMWallet) ChainID() int64 { return w.chainID.Int64() }

func (w *EVMWallet) ReadContract(ctx context.Context, req CallRequest) ([]byte, error) {
	to := req.To
	msg := ethereum.CallMsg{From: w.Address(), To: &to, Value: req.Value, Data: req.Data}
	out, err := w.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, wrapEVMExecutionError(clierr.CodeActionSim, "eth_call", err)
	}
	return out, nil
}

func (w *EVMWallet) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		balance, err := w.client.BalanceAt(ctx, w.Address(), nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		return balance, nil
	}
	return ReadUint(ctx, w, erc20ABI, token, "balanceOf", w.Address())
}

func (w *EVMWallet) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	from := w.Address()
	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: req.Data}

	gasLimit, err := w.client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodeActionSim, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * w.opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, w.client, w.opts.MaxPriorityFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := w.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, w.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := w.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := w.signer.SignTx(w.chainID, tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	return signed.Hash(), nil
}

// WaitForTransactionReceipt polls until the receipt is available. Reverted
// receipts are returned as-is; the caller inspects Status.
func (w *EVMWallet) WaitForTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := w.client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// NotFound and transient RPC failures are retried until the deadline.
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeActionTimeout, fmt.Sprintf("timed out waiting for receipt of %s", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func resolveTipCap(ctx context.Context, client *ethclient.Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(1_000_000_000), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap), nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
