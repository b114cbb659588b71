package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction records which venue sells the dollar token cheaper, and
// therefore which borrow leg the settlement uses.
type Direction string

const (
	// DirectionFlashFromPair: the pair is the cheaper venue. The dollar
	// is flash-borrowed from the pair and redeemed at the pool; the debt
	// is repaid in collateral inside the callback.
	DirectionFlashFromPair Direction = "flash_from_pair"
	// DirectionMintAndSell: the pool is the cheaper venue. Dollars are
	// minted against collateral and sold into the pair; the collateral
	// consumed at mint time is the debt.
	DirectionMintAndSell Direction = "mint_and_sell"
)

// AttemptState is the settlement state machine position.
type AttemptState string

const (
	AttemptIdle          AttemptState = "idle"
	AttemptSized         AttemptState = "sized"
	AttemptBorrowed      AttemptState = "borrowed"
	AttemptCounterTraded AttemptState = "counter_traded"
	AttemptRepaid        AttemptState = "repaid"
	AttemptSettled       AttemptState = "settled"
	AttemptAborted       AttemptState = "aborted"
)

// ArbitrageInfo identifies one divergence between the two venues.
type ArbitrageInfo struct {
	Pair            common.Address
	Pool            common.Address
	DollarToken     common.Address
	CollateralToken common.Address
	// DollarIsToken0 records whether the dollar token sorts before the
	// collateral token, which maps amounts onto the pair's token0/token1
	// slots.
	DollarIsToken0 bool
	Direction      Direction
}

// CallbackData is the opaque payload handed to the debt venue on a flash
// borrow and echoed back into the callback. It is never stored; the
// callback decodes the echoed bytes.
type CallbackData struct {
	DebtVenue      common.Address `json:"debt_venue"`
	TargetVenue    common.Address `json:"target_venue"`
	DollarIsToken0 bool           `json:"dollar_is_token0"`
	BorrowedToken  common.Address `json:"borrowed_token"`
	DebtToken      common.Address `json:"debt_token"`
	DebtAmount     *big.Int       `json:"debt_amount"`
	ExpectedOut    *big.Int       `json:"expected_out"`
}

// Encode serializes the callback payload.
func (d CallbackData) Encode() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("domain: encode callback data: %w", err)
	}
	return raw, nil
}

// DecodeCallbackData parses a payload echoed back by the debt venue.
func DecodeCallbackData(raw []byte) (CallbackData, error) {
	var d CallbackData
	if err := json.Unmarshal(raw, &d); err != nil {
		return CallbackData{}, fmt.Errorf("domain: decode callback data: %w", err)
	}
	if d.DebtAmount == nil || d.ExpectedOut == nil {
		return CallbackData{}, fmt.Errorf("domain: decode callback data: missing amounts")
	}
	return d, nil
}

// Opportunity is one detected divergence with its projected economics.
// Amounts are raw token units; prices are PriceScale fixed point.
type Opportunity struct {
	ID              string
	Pair            common.Address
	Pool            common.Address
	Direction       Direction
	DollarToken     common.Address
	CollateralToken common.Address

	PairReserveDollar     *big.Int
	PairReserveCollateral *big.Int
	PairPriceUsd          *big.Int
	PoolPriceUsd          *big.Int

	BorrowAmount   *big.Int
	DebtAmount     *big.Int
	ExpectedOut    *big.Int
	ExpectedProfit *big.Int
	Profitable     bool
	DetectedAt     time.Time
	Executed       bool
	ExecutedAt     *time.Time
}

// Settlement records one settlement attempt, settled or aborted.
type Settlement struct {
	ID            string
	OpportunityID string
	Pair          common.Address
	Pool          common.Address
	Direction     Direction
	State         AttemptState
	BorrowAmount  *big.Int
	DebtAmount    *big.Int
	ProceedsOut   *big.Int
	Profit        *big.Int
	ProfitToken   common.Address
	FailReason    string
	StartedAt     time.Time
	FinishedAt    time.Time
}
