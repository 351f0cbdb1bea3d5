package execution

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"
	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
)

var signerNonceLocks sync.Map

// acquireSignerNonceLock serializes submissions for one account on one chain
// within the process.
func acquireSignerNonceLock(chainID *big.Int, address common.Address) func() {
	key := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(address.Hex()))
	value, _ := signerNonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// lockWallet holds the in-process lock and, when lockDir is set, a file lock
// shared with other processes using the same wallet.
func lockWallet(ctx context.Context, w Wallet, lockDir string, timeout time.Duration) (func(), error) {
	chainID := big.NewInt(w.ChainID())
	release := acquireSignerNonceLock(chainID, w.Address())
	if strings.TrimSpace(lockDir) == "" {
		return release, nil
	}
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		release()
		return nil, clierr.Wrap(clierr.CodeInternal, "create wallet lock directory", err)
	}
	path := filepath.Join(lockDir, fmt.Sprintf("wallet-%s-%s.lock", chainID.String(), strings.ToLower(w.Address().Hex())))
	fileLock := flock.New(path)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	locked, err := fileLock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil || !locked {
		release()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "wallet is busy with another submission", err)
	}
	return func() {
		_ = fileLock.Unlock()
		release()
	}, nil
}
