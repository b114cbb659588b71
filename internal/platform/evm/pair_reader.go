package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// pairABI is the read surface of a UniswapV2-style pair, hand-declared
// so the module does not carry generated bindings for three methods.
const pairABI = `[
	{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"reserve0","type":"uint112"},{"internalType":"uint112","name":"reserve1","type":"uint112"},{"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}
]`

// PairReader quotes a deployed pair contract.
type PairReader struct {
	caller  contractCaller
	address common.Address
	abi     abi.ABI

	// Token ordering is immutable once a pair is deployed, so the
	// first successful read is cached.
	mu     sync.Mutex
	token0 *common.Address
	token1 *common.Address
}

var _ domain.AmmQuoter = (*PairReader)(nil)

// NewPairReader binds a reader to the pair at address.
func NewPairReader(caller contractCaller, address common.Address) (*PairReader, error) {
	parsed, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parsing pair abi: %w", err)
	}
	return &PairReader{caller: caller, address: address, abi: parsed}, nil
}

func (r *PairReader) Address() common.Address { return r.address }

func (r *PairReader) Token0(ctx context.Context) (common.Address, error) {
	return r.token(ctx, "token0", &r.token0)
}

func (r *PairReader) Token1(ctx context.Context) (common.Address, error) {
	return r.token(ctx, "token1", &r.token1)
}

// Reserves returns the pair's current reserves in token order.
func (r *PairReader) Reserves(ctx context.Context) (*big.Int, *big.Int, error) {
	out, err := r.call(ctx, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	if len(out) < 2 {
		return nil, nil, fmt.Errorf("evm: getReserves on %s returned %d values", r.address, len(out))
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("evm: getReserves on %s returned unexpected types", r.address)
	}
	return reserve0, reserve1, nil
}

func (r *PairReader) token(ctx context.Context, method string, slot **common.Address) (common.Address, error) {
	r.mu.Lock()
	if *slot != nil {
		addr := **slot
		r.mu.Unlock()
		return addr, nil
	}
	r.mu.Unlock()

	out, err := r.call(ctx, method)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 1 {
		return common.Address{}, fmt.Errorf("evm: %s on %s returned nothing", method, r.address)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("evm: %s on %s returned unexpected type", method, r.address)
	}

	r.mu.Lock()
	*slot = &addr
	r.mu.Unlock()
	return addr, nil
}

func (r *PairReader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: packing %s: %w", method, err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: %s on pair %s: %w", method, r.address, err)
	}
	out, err := r.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("evm: decoding %s from pair %s: %w", method, r.address, err)
	}
	return out, nil
}
