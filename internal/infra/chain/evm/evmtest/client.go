// Package evmtest provides an in-memory evm.Client for tests.
package evmtest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client serves logs, heads, calls and balances from memory.
type Client struct {
	mu sync.Mutex

	ID       *big.Int
	Head     uint64
	Logs     []types.Log
	Balances map[common.Address]*big.Int

	// CallFn answers eth_call. Nil returns an error.
	CallFn func(msg ethereum.CallMsg) ([]byte, error)

	ChainIDErr error

	FilterCalls [][2]uint64
	subs        []*Subscription
}

// NewClient returns a client reporting chain id 1.
func NewClient() *Client {
	return &Client{ID: big.NewInt(1), Balances: map[common.Address]*big.Int{}}
}

func (c *Client) ChainID(context.Context) (*big.Int, error) {
	if c.ChainIDErr != nil {
		return nil, c.ChainIDErr
	}
	return c.ID, nil
}

func (c *Client) SetHead(n uint64) {
	c.mu.Lock()
	c.Head = n
	c.mu.Unlock()
}

func (c *Client) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, nil
}

// AddLogs appends logs visible to FilterLogs.
func (c *Client) AddLogs(logs ...types.Log) {
	c.mu.Lock()
	c.Logs = append(c.Logs, logs...)
	c.mu.Unlock()
}

func (c *Client) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, to := uint64(0), c.Head
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}
	c.FilterCalls = append(c.FilterCalls, [2]uint64{from, to})

	var out []types.Log
	for _, l := range c.Logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if !matches(q, l) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if len(q.Addresses) > 0 {
		ok := false
		for _, a := range q.Addresses {
			if a == l.Address {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	for i, set := range q.Topics {
		if len(set) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		ok := false
		for _, t := range set {
			if t == l.Topics[i] {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (c *Client) SubscribeFilterLogs(
	_ context.Context,
	_ ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &Subscription{ch: ch, errc: make(chan error, 1)}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Emit pushes a log to the latest subscription.
func (c *Client) Emit(l types.Log) {
	c.mu.Lock()
	sub := c.subs[len(c.subs)-1]
	c.mu.Unlock()
	sub.ch <- l
}

// Drop fails the latest subscription.
func (c *Client) Drop(err error) {
	c.mu.Lock()
	sub := c.subs[len(c.subs)-1]
	c.mu.Unlock()
	sub.errc <- err
}

// Subscriptions returns how many subscriptions were opened.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Client) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if c.CallFn == nil {
		return nil, errors.New("eth_call not configured")
	}
	return c.CallFn(msg)
}

func (c *Client) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.Balances[account]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

// Subscription is a controllable ethereum.Subscription.
type Subscription struct {
	ch   chan<- types.Log
	errc chan error
}

func (s *Subscription) Unsubscribe() {}

func (s *Subscription) Err() <-chan error { return s.errc }
