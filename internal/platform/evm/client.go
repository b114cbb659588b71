// Package evm reads the live venues through an Ethereum JSON-RPC
// endpoint: token ordering and reserves from the constant-product
// pair, oracle price and collateral set from the mint facility. The
// readers are quote-only; settlement against deployed contracts needs
// an executor contract and is not offered here.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ClientConfig holds the connection parameters for an EVM endpoint.
type ClientConfig struct {
	RpcURL  string
	ChainID int64
}

// Client wraps an ethclient connection with config-driven setup.
type Client struct {
	eth *ethclient.Client
}

// contractCaller is the slice of the RPC client the venue readers
// depend on. ethclient.Client satisfies it.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ contractCaller = (*ethclient.Client)(nil)

// NewClient dials the endpoint and verifies it serves the expected
// chain. A zero cfg.ChainID skips the check.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dialing %s: %w", cfg.RpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: reading chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Cmp(big.NewInt(cfg.ChainID)) != 0 {
		eth.Close()
		return nil, fmt.Errorf("evm: endpoint serves chain %s, expected %d", chainID, cfg.ChainID)
	}

	return &Client{eth: eth}, nil
}

// Underlying exposes the raw ethclient for callers that need methods
// not wrapped here.
func (c *Client) Underlying() *ethclient.Client {
	return c.eth
}

// Close tears down the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
