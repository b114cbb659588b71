package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

func encodePayload(t *testing.T, d domain.CallbackData) []byte {
	t.Helper()
	raw, err := d.Encode()
	require.NoError(t, err)
	return raw
}

func TestCallbackRejectedWhenIdle(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
	})

	payload := encodePayload(t, domain.CallbackData{
		DebtVenue:      pairAddr,
		TargetVenue:    poolAddr,
		DollarIsToken0: true,
		BorrowedToken:  dollarTok,
		DebtToken:      collTok,
		DebtAmount:     big.NewInt(232_748),
		ExpectedOut:    big.NewInt(267_948),
	})

	// No attempt is in flight, so even a perfectly-formed callback from
	// the real pair must bounce off the disarmed slot.
	err := f.engine.OnFlashSwap(f.ctx, pairAddr, selfAddr, big.NewInt(133_974), new(big.Int), payload)
	require.ErrorIs(t, err, domain.ErrUnauthorizedCallback)

	assert.EqualValues(t, 0, f.held(t, collTok, selfAddr))
	assert.EqualValues(t, 1_000_000, f.held(t, dollarTok, pairAddr))
	assert.EqualValues(t, 1_500_000, f.held(t, collTok, pairAddr))
}

// intrudingFacility probes the callback gate from inside the redeem leg,
// while the slot is armed for the legitimate pair. Every probe fails a
// different check; none of them may move a balance or advance the
// attempt.
type intrudingFacility struct {
	domain.MintVenue
	engine *Engine
	probes []error
}

func (i *intrudingFacility) RedeemDollar(ctx context.Context, caller common.Address, index uint, dollarAmount, governanceOutMin, collateralOutMin *big.Int) (*big.Int, *big.Int, error) {
	valid := domain.CallbackData{
		DebtVenue:      pairAddr,
		TargetVenue:    poolAddr,
		DollarIsToken0: true,
		BorrowedToken:  dollarTok,
		DebtToken:      collTok,
		DebtAmount:     big.NewInt(232_748),
		ExpectedOut:    big.NewInt(267_948),
	}
	validRaw, _ := valid.Encode()
	foreign := valid
	foreign.DebtVenue = attackerAddr
	foreignRaw, _ := foreign.Encode()

	one := big.NewInt(1)
	zero := new(big.Int)

	// Foreign venue, honest initiator.
	i.probes = append(i.probes, i.engine.OnFlashSwap(ctx, attackerAddr, selfAddr, one, zero, validRaw))
	// Armed venue, foreign initiator.
	i.probes = append(i.probes, i.engine.OnFlashSwap(ctx, pairAddr, attackerAddr, one, zero, validRaw))
	// Payload that does not decode.
	i.probes = append(i.probes, i.engine.OnFlashSwap(ctx, pairAddr, selfAddr, one, zero, []byte("{")))
	// Payload naming a different debt venue than the caller.
	i.probes = append(i.probes, i.engine.OnFlashSwap(ctx, pairAddr, selfAddr, one, zero, foreignRaw))
	// No borrowed amount on either side.
	i.probes = append(i.probes, i.engine.OnFlashSwap(ctx, pairAddr, selfAddr, zero, zero, validRaw))

	return i.MintVenue.RedeemDollar(ctx, caller, index, dollarAmount, governanceOutMin, collateralOutMin)
}

func TestCallbackRejectsIntrudersWhileArmed(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
	})
	intruder := &intrudingFacility{MintVenue: f.pool, engine: f.engine}

	settlement, err := f.engine.Attempt(f.ctx, f.pair, intruder, 0)
	require.NoError(t, err)

	require.Len(t, intruder.probes, 5)
	for i, probeErr := range intruder.probes {
		assert.ErrorIs(t, probeErr, domain.ErrUnauthorizedCallback, "probe %d", i)
	}

	// The legitimate attempt is unharmed by the probes.
	assert.Equal(t, domain.AttemptSettled, settlement.State)
	assert.EqualValues(t, 35_200, settlement.Profit.Int64())
	assert.EqualValues(t, 35_200, f.held(t, collTok, selfAddr))
}

func TestCallbackReplayAfterSettlementRejected(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
	})

	settlement, err := f.engine.Attempt(f.ctx, f.pair, f.pool, 0)
	require.NoError(t, err)
	require.Equal(t, domain.AttemptSettled, settlement.State)

	// Replaying the settled attempt's callback finds the slot disarmed.
	payload := encodePayload(t, domain.CallbackData{
		DebtVenue:      pairAddr,
		TargetVenue:    poolAddr,
		DollarIsToken0: true,
		BorrowedToken:  dollarTok,
		DebtToken:      collTok,
		DebtAmount:     settlement.DebtAmount,
		ExpectedOut:    settlement.ProceedsOut,
	})
	err = f.engine.OnFlashSwap(f.ctx, pairAddr, selfAddr, settlement.BorrowAmount, new(big.Int), payload)
	require.ErrorIs(t, err, domain.ErrUnauthorizedCallback)

	assert.EqualValues(t, 35_200, f.held(t, collTok, selfAddr), "replay must not move balances")
}

// gatedFacility parks the first attempt inside sizing so a second
// attempt can be fired while the first still holds the engine.
type gatedFacility struct {
	domain.MintVenue
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedFacility) DollarToken(ctx context.Context) (common.Address, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.MintVenue.DollarToken(ctx)
}

func TestConcurrentAttemptsSerialize(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
	})
	gated := &gatedFacility{
		MintVenue: f.pool,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}

	type result struct {
		settlement *domain.Settlement
		err        error
	}
	first := make(chan result, 1)
	go func() {
		s, err := f.engine.Attempt(f.ctx, f.pair, gated, 0)
		first <- result{s, err}
	}()

	<-gated.entered
	settlement, err := f.engine.Attempt(f.ctx, f.pair, f.pool, 0)
	require.ErrorIs(t, err, domain.ErrAttemptInFlight)
	assert.Nil(t, settlement, "a rejected second attempt leaves no trail")

	close(gated.release)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, domain.AttemptSettled, res.settlement.State)
	assert.EqualValues(t, 35_200, res.settlement.Profit.Int64())
}
