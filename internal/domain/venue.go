package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FlashRecipient receives the re-entrant leg of a flash swap. The pair
// transfers the requested amounts out first, invokes OnFlashSwap with its
// own address and the identity that initiated the swap, and only then
// checks its invariant; the recipient must leave the debt on the pair's
// balance before returning.
type FlashRecipient interface {
	Address() common.Address
	OnFlashSwap(ctx context.Context, venue, initiator common.Address, amount0Out, amount1Out *big.Int, data []byte) error
}

// AmmQuoter is the read side of a constant-product pair.
type AmmQuoter interface {
	Address() common.Address
	Token0(ctx context.Context) (common.Address, error)
	Token1(ctx context.Context) (common.Address, error)
	Reserves(ctx context.Context) (reserve0, reserve1 *big.Int, err error)
}

// AmmVenue is a pair that can also execute swaps. Payment follows the
// transfer-then-swap discipline: the caller moves its input onto the
// pair before calling Swap. A non-empty data payload turns the swap into
// a flash swap: amounts leave optimistically, OnFlashSwap runs, and the
// fee-adjusted constant product is enforced afterwards.
type AmmVenue interface {
	AmmQuoter
	Swap(ctx context.Context, caller common.Address, amount0Out, amount1Out *big.Int, to FlashRecipient, data []byte) error
}

// MintQuoter is the read side of the mint/redeem facility. Quotes are
// fee-inclusive: QuoteMint is the collateral a mint of dollarAmount
// consumes, QuoteRedeem the collateral a redemption pays out.
type MintQuoter interface {
	Address() common.Address
	DollarToken(ctx context.Context) (common.Address, error)
	CollateralToken(ctx context.Context, index uint) (common.Address, error)
	// SpotPriceUsd returns the facility's dollar price in collateral
	// terms, scaled by PriceScale.
	SpotPriceUsd(ctx context.Context) (*big.Int, error)
	QuoteMint(ctx context.Context, index uint, dollarAmount *big.Int) (*big.Int, error)
	QuoteRedeem(ctx context.Context, index uint, dollarAmount *big.Int) (*big.Int, error)
}

// MintVenue is a facility that can also mint and redeem for the caller's
// account. Minting consumes collateral (and governance tokens unless
// isOneToOne) at the spot price; redeeming burns dollars and pays
// collateral out at the spot price. The min/max arguments bound slippage
// and fail the call when violated.
type MintVenue interface {
	MintQuoter
	MintDollar(ctx context.Context, caller common.Address, index uint, dollarAmount, dollarOutMin, maxCollateralIn, maxGovernanceIn *big.Int, isOneToOne bool) (minted, collateralUsed, governanceUsed *big.Int, err error)
	RedeemDollar(ctx context.Context, caller common.Address, index uint, dollarAmount, governanceOutMin, collateralOutMin *big.Int) (governanceOut, collateralOut *big.Int, err error)
}
