// Package chain connects to the EVM chain and binds the marketplace
// contracts the gateway reads from and prepares transactions for.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
)

// Client is an RPC connection to the target chain.
type Client struct {
	*ethclient.Client
	url string
}

// Dial connects to rpcURL. HTTP endpoints connect lazily; websocket and IPC
// endpoints fail here if unreachable.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &Client{Client: c, url: rpcURL}, nil
}

// URL returns the endpoint the client was dialed with.
func (c *Client) URL() string { return c.url }

// LatestBlockhash returns the hash of the latest block. It is the nonce of
// every session delegation challenge, so a signed challenge cannot be
// prepared ahead of time.
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	head, err := c.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", apperr.ErrUpstream.Wrapf("latest block: %v", err)
	}
	return head.Hash().Hex(), nil
}

// Balance returns the wei balance of addr at the latest block.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, apperr.ErrUpstream.Wrapf("balance of %s: %v", addr.Hex(), err)
	}
	return bal, nil
}

// Ping checks the endpoint answers and reports its chain id.
func (c *Client) Ping(ctx context.Context) (*big.Int, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return nil, apperr.ErrUpstream.Wrapf("chain id: %v", err)
	}
	return id, nil
}
