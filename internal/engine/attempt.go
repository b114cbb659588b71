package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// attempt is the record of one in-flight settlement. It carries the
// sized trade, the state machine position, and the venue currently
// permitted to call back in.
type attempt struct {
	pair            domain.AmmVenue
	facility        domain.MintVenue
	collateralIndex uint

	info              domain.ArbitrageInfo
	reserveDollar     *big.Int
	reserveCollateral *big.Int
	borrow            *big.Int
	debt              *big.Int
	preBalance        *big.Int

	permitted    common.Address
	callbackDone bool

	settlement *domain.Settlement
}

var nextState = map[domain.AttemptState]domain.AttemptState{
	domain.AttemptIdle:          domain.AttemptSized,
	domain.AttemptSized:         domain.AttemptBorrowed,
	domain.AttemptBorrowed:      domain.AttemptCounterTraded,
	domain.AttemptCounterTraded: domain.AttemptRepaid,
	domain.AttemptRepaid:        domain.AttemptSettled,
}

// advance moves the state machine one step forward. Steps are strictly
// ordered; anything else is a bug in the settlement flow.
func (a *attempt) advance(to domain.AttemptState) error {
	if nextState[a.settlement.State] != to {
		return fmt.Errorf("engine: illegal transition %s -> %s", a.settlement.State, to)
	}
	a.settlement.State = to
	return nil
}

func (a *attempt) abort(err error) {
	a.settlement.State = domain.AttemptAborted
	a.settlement.FailReason = err.Error()
}
