package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
)

var (
	erc20ABI         = MustABI(registry.ERC20ABI)
	wrappedNativeABI = MustABI(registry.WrappedNativeABI)
)

func MustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Pack encodes calldata, mapping failures to internal errors.
func Pack(contract abi.ABI, method string, args ...any) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	return data, nil
}

// Call performs a read-only contract call and returns the decoded outputs.
func Call(ctx context.Context, w Wallet, contract abi.ABI, target common.Address, method string, args ...any) ([]any, error) {
	data, err := Pack(contract, method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := w.ReadContract(ctx, CallRequest{To: target, Data: data})
	if err != nil {
		return nil, wrapEVMExecutionError(clierr.CodeUnavailable, fmt.Sprintf("read %s on %s", method, target.Hex()), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s response", method), err)
	}
	return out, nil
}

// ReadUint calls a method whose first output is a uint.
func ReadUint(ctx context.Context, w Wallet, contract abi.ABI, target common.Address, method string, args ...any) (*big.Int, error) {
	out, err := Call(ctx, w, contract, target, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("empty %s response", method))
	}
	value, ok := toBigInt(out[0])
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("invalid %s response", method))
	}
	return value, nil
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	case uint8:
		return big.NewInt(int64(value)), true
	case uint16:
		return big.NewInt(int64(value)), true
	case uint32:
		return big.NewInt(int64(value)), true
	case uint64:
		return new(big.Int).SetUint64(value), true
	default:
		return nil, false
	}
}
