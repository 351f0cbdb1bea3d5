package registry

import (
	"fmt"
	"strings"
)

// Default RPC endpoints used whenever --rpc-url is not set.
var defaultRPCByChainID = map[int64]string{
	146:   "https://rpc.soniclabs.com",
	57054: "https://rpc.blaze.soniclabs.com",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
