package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

var (
	ErrRangeTooLarge = errors.New("block range exceeds provider limit")
	ErrModelNotFound = errors.New("model not registered")
	ErrNoEndpoint    = errors.New("no reachable rpc endpoint")
)

// rangeLimitCode is the generic server error most public EVM endpoints use
// when eth_getLogs spans too many blocks.
const rangeLimitCode = -32000

// IsRangeTooLarge reports whether err means the queried block window was
// wider than the provider accepts.
func IsRangeTooLarge(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRangeTooLarge) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rangeLimitCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "maximum") || strings.Contains(msg, "blocks distance")
}
