package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// poolABI is the read surface of the mint facility.
const poolABI = `[
	{"inputs":[],"name":"getDollarPriceUsd","outputs":[{"internalType":"uint256","name":"dollarPriceUsd","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"allCollaterals","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"collateralIndex","type":"uint256"},{"internalType":"uint256","name":"dollarAmount","type":"uint256"}],"name":"getDollarInCollateral","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const bpsDenominator = 10_000

// PoolReaderConfig describes the facility to read. The dollar token
// rides in config because the pool facet does not expose it; the fee
// rates mirror the facility's mint/redeem bps so quote projections
// match what an execution would pay.
type PoolReaderConfig struct {
	Address      common.Address
	DollarToken  common.Address
	MintFeeBps   int64
	RedeemFeeBps int64
}

// PoolReader quotes a deployed mint facility.
type PoolReader struct {
	caller       contractCaller
	abi          abi.ABI
	address      common.Address
	dollar       common.Address
	mintFeeBps   *big.Int
	redeemFeeBps *big.Int
}

var _ domain.MintQuoter = (*PoolReader)(nil)

// NewPoolReader binds a reader to the facility described by cfg.
func NewPoolReader(caller contractCaller, cfg PoolReaderConfig) (*PoolReader, error) {
	if cfg.MintFeeBps < 0 || cfg.RedeemFeeBps < 0 {
		return nil, fmt.Errorf("evm: negative fee bps (%d mint, %d redeem)", cfg.MintFeeBps, cfg.RedeemFeeBps)
	}
	parsed, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parsing pool abi: %w", err)
	}
	return &PoolReader{
		caller:       caller,
		abi:          parsed,
		address:      cfg.Address,
		dollar:       cfg.DollarToken,
		mintFeeBps:   big.NewInt(cfg.MintFeeBps),
		redeemFeeBps: big.NewInt(cfg.RedeemFeeBps),
	}, nil
}

func (r *PoolReader) Address() common.Address { return r.address }

func (r *PoolReader) DollarToken(_ context.Context) (common.Address, error) {
	return r.dollar, nil
}

// CollateralToken resolves the collateral at index from the facility's
// registered collateral list.
func (r *PoolReader) CollateralToken(ctx context.Context, index uint) (common.Address, error) {
	out, err := r.call(ctx, "allCollaterals")
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 1 {
		return common.Address{}, fmt.Errorf("evm: allCollaterals on %s returned nothing", r.address)
	}
	collaterals, ok := out[0].([]common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("evm: allCollaterals on %s returned unexpected type", r.address)
	}
	if int(index) >= len(collaterals) {
		return common.Address{}, fmt.Errorf("evm: collateral index %d of %d on %s", index, len(collaterals), r.address)
	}
	return collaterals[index], nil
}

// SpotPriceUsd returns the facility's oracle price of the dollar
// token, scaled by 1e6.
func (r *PoolReader) SpotPriceUsd(ctx context.Context) (*big.Int, error) {
	out, err := r.call(ctx, "getDollarPriceUsd")
	if err != nil {
		return nil, err
	}
	price, err := singleBig(out)
	if err != nil {
		return nil, fmt.Errorf("evm: getDollarPriceUsd on %s: %w", r.address, err)
	}
	return price, nil
}

// QuoteMint prices a fully collateralized mint: the facility's own
// dollar-to-collateral conversion plus the mint fee, rounded against
// the minter.
func (r *PoolReader) QuoteMint(ctx context.Context, index uint, dollarAmount *big.Int) (*big.Int, error) {
	base, err := r.dollarInCollateral(ctx, index, dollarAmount)
	if err != nil {
		return nil, err
	}
	fee := feeCeil(base, r.mintFeeBps)
	return base.Add(base, fee), nil
}

// QuoteRedeem prices the collateral leg of a redemption: the
// facility's conversion minus the redemption fee.
func (r *PoolReader) QuoteRedeem(ctx context.Context, index uint, dollarAmount *big.Int) (*big.Int, error) {
	base, err := r.dollarInCollateral(ctx, index, dollarAmount)
	if err != nil {
		return nil, err
	}
	fee := feeCeil(base, r.redeemFeeBps)
	return base.Sub(base, fee), nil
}

func (r *PoolReader) dollarInCollateral(ctx context.Context, index uint, dollarAmount *big.Int) (*big.Int, error) {
	if dollarAmount == nil || dollarAmount.Sign() <= 0 {
		return nil, fmt.Errorf("evm: non-positive dollar amount %s", dollarAmount)
	}
	out, err := r.call(ctx, "getDollarInCollateral", new(big.Int).SetUint64(uint64(index)), dollarAmount)
	if err != nil {
		return nil, err
	}
	value, err := singleBig(out)
	if err != nil {
		return nil, fmt.Errorf("evm: getDollarInCollateral on %s: %w", r.address, err)
	}
	return value, nil
}

func (r *PoolReader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: packing %s: %w", method, err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: %s on pool %s: %w", method, r.address, err)
	}
	out, err := r.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("evm: decoding %s from pool %s: %w", method, r.address, err)
	}
	return out, nil
}

func singleBig(out []interface{}) (*big.Int, error) {
	if len(out) < 1 {
		return nil, fmt.Errorf("empty return data")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T", out[0])
	}
	return v, nil
}

// feeCeil computes base*bps/10000 rounded up, matching how the
// facility itself rounds fees against the caller.
func feeCeil(base, bps *big.Int) *big.Int {
	fee := new(big.Int).Mul(base, bps)
	fee.Add(fee, big.NewInt(bpsDenominator-1))
	return fee.Quo(fee, big.NewInt(bpsDenominator))
}
