package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

type CallRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Wallet is the chain client the engine drives. BalanceOf treats the zero
// address as the native coin.
type Wallet interface {
	Address() common.Address
	ChainID() int64
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitForTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ReadContract(ctx context.Context, req CallRequest) ([]byte, error)
	BalanceOf(ctx context.Context, token common.Address) (*big.Int, error)
}
