// Package executiontest provides an in-memory execution.Wallet for tests.
package executiontest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
)

var DefaultAddress = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// Wallet records submissions and answers reads from canned responses keyed
// by target and 4-byte selector.
type Wallet struct {
	mu sync.Mutex

	Addr  common.Address
	Chain int64

	balances map[common.Address]*big.Int
	reads    map[string][]byte
	sendErrs map[string]error
	reverts  map[string]bool

	// OnSend runs after a submission is accepted, typically to move balances.
	OnSend func(w *Wallet, req execution.TxRequest)

	WaitErr error
	Sent    []execution.TxRequest
	Reads   int
}

func New() *Wallet {
	return &Wallet{
		Addr:     DefaultAddress,
		Chain:    146,
		balances: map[common.Address]*big.Int{},
		reads:    map[string][]byte{},
		sendErrs: map[string]error{},
		reverts:  map[string]bool{},
	}
}

func (w *Wallet) Address() common.Address { return w.Addr }

func (w *Wallet) ChainID() int64 { return w.Chain }

// SetBalance sets the wallet balance of token (zero address for native).
func (w *Wallet) SetBalance(token common.Address, value *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[token] = new(big.Int).Set(value)
}

// AddBalance adjusts a balance by delta, which may be negative.
func (w *Wallet) AddBalance(token common.Address, delta *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	current, ok := w.balances[token]
	if !ok {
		current = new(big.Int)
	}
	w.balances[token] = new(big.Int).Add(current, delta)
}

// SetRead registers the packed outputs returned for method on target.
func (w *Wallet) SetRead(target common.Address, contract abi.ABI, method string, outputs ...any) {
	m, ok := contract.Methods[method]
	if !ok {
		panic(fmt.Sprintf("unknown method %s", method))
	}
	packed, err := m.Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("pack %s outputs: %v", method, err))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reads[key(target, m.ID)] = packed
}

func (w *Wallet) FailSend(target common.Address, contract abi.ABI, method string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sendErrs[key(target, contract.Methods[method].ID)] = err
}

// Revert makes submissions of method on target produce a failed receipt.
func (w *Wallet) Revert(target common.Address, contract abi.ABI, method string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reverts[key(target, contract.Methods[method].ID)] = true
}

func (w *Wallet) ReadContract(_ context.Context, req execution.CallRequest) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Reads++
	k := key(req.To, req.Data)
	if out, ok := w.reads[k]; ok {
		return out, nil
	}
	// Unregistered calls behave like state-changing calls that return nothing.
	return []byte{}, nil
}

func (w *Wallet) BalanceOf(_ context.Context, token common.Address) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, ok := w.balances[token]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (w *Wallet) SendTransaction(_ context.Context, req execution.TxRequest) (common.Hash, error) {
	w.mu.Lock()
	if err, ok := w.sendErrs[key(req.To, req.Data)]; ok {
		w.mu.Unlock()
		return common.Hash{}, err
	}
	w.Sent = append(w.Sent, req)
	n := len(w.Sent)
	hook := w.OnSend
	w.mu.Unlock()
	if hook != nil && !w.reverted(req) {
		hook(w, req)
	}
	return HashFor(n), nil
}

func (w *Wallet) WaitForTransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.WaitErr != nil {
		return nil, w.WaitErr
	}
	index := int(new(big.Int).SetBytes(hash.Bytes()).Int64()) - 0xa000
	status := types.ReceiptStatusSuccessful
	if index >= 1 && index <= len(w.Sent) {
		req := w.Sent[index-1]
		if w.reverts[key(req.To, req.Data)] {
			status = types.ReceiptStatusFailed
		}
	}
	return &types.Receipt{Status: status, TxHash: hash}, nil
}

// SentTo counts submissions that called method on target.
func (w *Wallet) SentTo(target common.Address, contract abi.ABI, method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := contract.Methods[method].ID
	count := 0
	for _, req := range w.Sent {
		if key(req.To, req.Data) == key(target, id) {
			count++
		}
	}
	return count
}

// HashFor is the hash assigned to the n-th submission (1-based).
func HashFor(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(0xa000 + n)))
}

func (w *Wallet) reverted(req execution.TxRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reverts[key(req.To, req.Data)]
}

func key(target common.Address, data []byte) string {
	selector := data
	if len(selector) > 4 {
		selector = selector[:4]
	}
	return strings.ToLower(target.Hex()) + ":" + common.Bytes2Hex(selector)
}
