// Package ubiquity simulates an oracle-priced mint/redeem facility.
// Minting issues dollar tokens against collateral (and optionally
// burned governance tokens) at the facility's spot price; redeeming
// burns dollars and pays collateral back out at the same price. Fees
// are charged on the collateral leg in basis points.
package ubiquity

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

var (
	ErrInvalidDollarAmount = errors.New("ubiquity: invalid dollar amount")
	ErrUnknownCollateral   = errors.New("ubiquity: unknown collateral index")
	ErrSlippage            = errors.New("ubiquity: slippage bound violated")
	ErrInvalidPrice        = errors.New("ubiquity: invalid price")
)

var (
	bpsDenominator = big.NewInt(10_000)
	fullRatio      = big.NewInt(1_000_000)
)

// supplyLedger is the slice of the ledger the facility needs: it moves
// collateral, but mints and burns dollar and governance supply.
type supplyLedger interface {
	domain.Ledger
	Mint(ctx context.Context, token, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, token, from common.Address, amount *big.Int) error
}

// PoolConfig describes one facility. CollateralRatio is PriceScale
// scaled; the default of 1e6 keeps every mint fully collateralized so
// no governance leg is touched.
type PoolConfig struct {
	Address            common.Address
	DollarToken        common.Address
	GovernanceToken    common.Address
	CollateralTokens   []common.Address
	PriceUsd           *big.Int
	GovernancePriceUsd *big.Int
	CollateralRatio    *big.Int
	MintFeeBps         int64
	RedeemFeeBps       int64
}

// Pool is one simulated facility over the shared ledger.
type Pool struct {
	address     common.Address
	dollar      common.Address
	governance  common.Address
	collaterals []common.Address
	ledger      supplyLedger

	mintFeeBps   *big.Int
	redeemFeeBps *big.Int
	ratio        *big.Int

	mu       sync.Mutex
	priceUsd *big.Int
	govPrice *big.Int
}

var _ domain.MintVenue = (*Pool)(nil)

func NewPool(led supplyLedger, cfg PoolConfig) (*Pool, error) {
	if cfg.PriceUsd == nil || cfg.PriceUsd.Sign() <= 0 {
		return nil, fmt.Errorf("price %s: %w", cfg.PriceUsd, ErrInvalidPrice)
	}
	if len(cfg.CollateralTokens) == 0 {
		return nil, errors.New("ubiquity: at least one collateral token required")
	}
	if cfg.MintFeeBps < 0 || cfg.RedeemFeeBps < 0 {
		return nil, errors.New("ubiquity: negative fee")
	}

	ratio := cfg.CollateralRatio
	if ratio == nil {
		ratio = fullRatio
	}
	if ratio.Sign() < 0 || ratio.Cmp(fullRatio) > 0 {
		return nil, fmt.Errorf("ubiquity: collateral ratio %s outside [0, %s]", ratio, fullRatio)
	}
	govPrice := cfg.GovernancePriceUsd
	if govPrice == nil {
		govPrice = new(big.Int).Set(domain.PriceScale)
	}
	if govPrice.Sign() <= 0 {
		return nil, fmt.Errorf("governance price %s: %w", govPrice, ErrInvalidPrice)
	}

	return &Pool{
		address:      cfg.Address,
		dollar:       cfg.DollarToken,
		governance:   cfg.GovernanceToken,
		collaterals:  append([]common.Address(nil), cfg.CollateralTokens...),
		ledger:       led,
		mintFeeBps:   big.NewInt(cfg.MintFeeBps),
		redeemFeeBps: big.NewInt(cfg.RedeemFeeBps),
		ratio:        new(big.Int).Set(ratio),
		priceUsd:     new(big.Int).Set(cfg.PriceUsd),
		govPrice:     govPrice,
	}, nil
}

func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) DollarToken(_ context.Context) (common.Address, error) { return p.dollar, nil }

func (p *Pool) CollateralToken(_ context.Context, index uint) (common.Address, error) {
	if int(index) >= len(p.collaterals) {
		return common.Address{}, fmt.Errorf("index %d of %d: %w", index, len(p.collaterals), ErrUnknownCollateral)
	}
	return p.collaterals[index], nil
}

func (p *Pool) SpotPriceUsd(_ context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.priceUsd), nil
}

// SetPrice moves the facility's oracle quote. Operator surface, not
// part of the venue interface.
func (p *Pool) SetPrice(priceUsd *big.Int) error {
	if priceUsd == nil || priceUsd.Sign() <= 0 {
		return fmt.Errorf("price %s: %w", priceUsd, ErrInvalidPrice)
	}
	p.mu.Lock()
	p.priceUsd.Set(priceUsd)
	p.mu.Unlock()
	return nil
}

// QuoteMint prices a fully collateralized mint: collateral at spot for
// dollarAmount, rounded against the minter, plus the mint fee.
func (p *Pool) QuoteMint(ctx context.Context, index uint, dollarAmount *big.Int) (*big.Int, error) {
	if _, err := p.CollateralToken(ctx, index); err != nil {
		return nil, err
	}
	if dollarAmount == nil || dollarAmount.Sign() <= 0 {
		return nil, fmt.Errorf("amount %s: %w", dollarAmount, ErrInvalidDollarAmount)
	}

	p.mu.Lock()
	price := new(big.Int).Set(p.priceUsd)
	p.mu.Unlock()

	base := mulDivCeil(dollarAmount, price, domain.PriceScale)
	fee := mulDivCeil(base, p.mintFeeBps, bpsDenominator)
	return base.Add(base, fee), nil
}

// QuoteRedeem prices the collateral leg of a redemption: collateral at
// spot for dollarAmount, rounded against the redeemer, minus the
// redemption fee.
func (p *Pool) QuoteRedeem(ctx context.Context, index uint, dollarAmount *big.Int) (*big.Int, error) {
	if _, err := p.CollateralToken(ctx, index); err != nil {
		return nil, err
	}
	if dollarAmount == nil || dollarAmount.Sign() <= 0 {
		return nil, fmt.Errorf("amount %s: %w", dollarAmount, ErrInvalidDollarAmount)
	}

	p.mu.Lock()
	price := new(big.Int).Set(p.priceUsd)
	p.mu.Unlock()

	base := new(big.Int).Mul(dollarAmount, price)
	base.Quo(base, domain.PriceScale)
	fee := mulDivCeil(base, p.redeemFeeBps, bpsDenominator)
	return base.Sub(base, fee), nil
}

// MintDollar issues dollarAmount to the caller. One-to-one mints take
// the whole cost in collateral; otherwise the collateral ratio splits
// the cost between collateral taken and governance burned.
func (p *Pool) MintDollar(ctx context.Context, caller common.Address, index uint, dollarAmount, dollarOutMin, maxCollateralIn, maxGovernanceIn *big.Int, isOneToOne bool) (minted, collateralUsed, governanceUsed *big.Int, err error) {
	collateral, err := p.CollateralToken(ctx, index)
	if err != nil {
		return nil, nil, nil, err
	}
	if dollarAmount == nil || dollarAmount.Sign() <= 0 {
		return nil, nil, nil, fmt.Errorf("amount %s: %w", dollarAmount, ErrInvalidDollarAmount)
	}

	p.mu.Lock()
	price := new(big.Int).Set(p.priceUsd)
	govPrice := new(big.Int).Set(p.govPrice)
	p.mu.Unlock()

	collateralPart := new(big.Int).Set(dollarAmount)
	governancePart := new(big.Int)
	if !isOneToOne {
		collateralPart.Mul(dollarAmount, p.ratio)
		collateralPart.Quo(collateralPart, fullRatio)
		governancePart.Sub(dollarAmount, collateralPart)
	}

	collateralUsed = new(big.Int)
	if collateralPart.Sign() > 0 {
		collateralUsed = mulDivCeil(collateralPart, price, domain.PriceScale)
		fee := mulDivCeil(collateralUsed, p.mintFeeBps, bpsDenominator)
		collateralUsed.Add(collateralUsed, fee)
	}
	governanceUsed = new(big.Int)
	if governancePart.Sign() > 0 {
		value := new(big.Int).Mul(governancePart, price)
		value.Quo(value, domain.PriceScale)
		governanceUsed = mulDivCeil(value, domain.PriceScale, govPrice)
	}

	if dollarOutMin != nil && dollarAmount.Cmp(dollarOutMin) < 0 {
		return nil, nil, nil, fmt.Errorf("minted %s below minimum %s: %w", dollarAmount, dollarOutMin, ErrSlippage)
	}
	if maxCollateralIn != nil && collateralUsed.Cmp(maxCollateralIn) > 0 {
		return nil, nil, nil, fmt.Errorf("collateral cost %s above maximum %s: %w", collateralUsed, maxCollateralIn, ErrSlippage)
	}
	if maxGovernanceIn != nil && governanceUsed.Cmp(maxGovernanceIn) > 0 {
		return nil, nil, nil, fmt.Errorf("governance cost %s above maximum %s: %w", governanceUsed, maxGovernanceIn, ErrSlippage)
	}

	if collateralUsed.Sign() > 0 {
		if err := p.ledger.Transfer(ctx, collateral, caller, p.address, collateralUsed); err != nil {
			return nil, nil, nil, fmt.Errorf("ubiquity: take collateral: %w", err)
		}
	}
	if governanceUsed.Sign() > 0 {
		if err := p.ledger.Burn(ctx, p.governance, caller, governanceUsed); err != nil {
			return nil, nil, nil, fmt.Errorf("ubiquity: burn governance: %w", err)
		}
	}
	if err := p.ledger.Mint(ctx, p.dollar, caller, dollarAmount); err != nil {
		return nil, nil, nil, fmt.Errorf("ubiquity: issue dollars: %w", err)
	}
	return new(big.Int).Set(dollarAmount), collateralUsed, governanceUsed, nil
}

// RedeemDollar burns dollarAmount from the caller and pays the
// fee-reduced value out, split between collateral and freshly minted
// governance by the collateral ratio.
func (p *Pool) RedeemDollar(ctx context.Context, caller common.Address, index uint, dollarAmount, governanceOutMin, collateralOutMin *big.Int) (governanceOut, collateralOut *big.Int, err error) {
	collateral, err := p.CollateralToken(ctx, index)
	if err != nil {
		return nil, nil, err
	}
	if dollarAmount == nil || dollarAmount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("amount %s: %w", dollarAmount, ErrInvalidDollarAmount)
	}

	p.mu.Lock()
	price := new(big.Int).Set(p.priceUsd)
	govPrice := new(big.Int).Set(p.govPrice)
	p.mu.Unlock()

	value := new(big.Int).Mul(dollarAmount, price)
	value.Quo(value, domain.PriceScale)
	fee := mulDivCeil(value, p.redeemFeeBps, bpsDenominator)
	value.Sub(value, fee)

	collateralValue := new(big.Int).Mul(value, p.ratio)
	collateralValue.Quo(collateralValue, fullRatio)
	governanceValue := new(big.Int).Sub(value, collateralValue)

	collateralOut = collateralValue
	governanceOut = new(big.Int)
	if governanceValue.Sign() > 0 {
		governanceOut.Mul(governanceValue, domain.PriceScale)
		governanceOut.Quo(governanceOut, govPrice)
	}

	if collateralOutMin != nil && collateralOut.Cmp(collateralOutMin) < 0 {
		return nil, nil, fmt.Errorf("collateral out %s below minimum %s: %w", collateralOut, collateralOutMin, ErrSlippage)
	}
	if governanceOutMin != nil && governanceOut.Cmp(governanceOutMin) < 0 {
		return nil, nil, fmt.Errorf("governance out %s below minimum %s: %w", governanceOut, governanceOutMin, ErrSlippage)
	}

	if err := p.ledger.Burn(ctx, p.dollar, caller, dollarAmount); err != nil {
		return nil, nil, fmt.Errorf("ubiquity: burn dollars: %w", err)
	}
	if collateralOut.Sign() > 0 {
		if err := p.ledger.Transfer(ctx, collateral, p.address, caller, collateralOut); err != nil {
			return nil, nil, fmt.Errorf("ubiquity: pay collateral: %w", err)
		}
	}
	if governanceOut.Sign() > 0 {
		if err := p.ledger.Mint(ctx, p.governance, caller, governanceOut); err != nil {
			return nil, nil, fmt.Errorf("ubiquity: issue governance: %w", err)
		}
	}
	return governanceOut, collateralOut, nil
}

func mulDivCeil(x, y, den *big.Int) *big.Int {
	out := new(big.Int).Mul(x, y)
	rem := new(big.Int)
	out.QuoRem(out, den, rem)
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}
