// Package chaintest provides an in-memory contract caller for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Handler answers one eth_call with the method's decoded arguments.
type Handler func(to common.Address, args []interface{}) ([]interface{}, error)

// Caller implements bind.ContractCaller by dispatching on the method
// selector of each call.
type Caller struct {
	mu       sync.Mutex
	methods  map[[4]byte]abi.Method
	handlers map[string]Handler
	calls    map[string]int
}

var _ bind.ContractCaller = (*Caller)(nil)

// New registers every method of the given contracts.
func New(metas ...*bind.MetaData) *Caller {
	c := &Caller{
		methods:  make(map[[4]byte]abi.Method),
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
	for _, md := range metas {
		parsed, err := md.GetAbi()
		if err != nil {
			panic(err)
		}
		for _, m := range parsed.Methods {
			var id [4]byte
			copy(id[:], m.ID)
			c.methods[id] = m
		}
	}
	return c
}

// Handle sets the handler for method.
func (c *Caller) Handle(method string, h Handler) *Caller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
	return c
}

// Return answers method with fixed outputs.
func (c *Caller) Return(method string, outputs ...interface{}) *Caller {
	return c.Handle(method, func(common.Address, []interface{}) ([]interface{}, error) {
		return outputs, nil
	})
}

// Fail makes method return err.
func (c *Caller) Fail(method string, err error) *Caller {
	return c.Handle(method, func(common.Address, []interface{}) ([]interface{}, error) {
		return nil, err
	})
}

// Calls reports how many times method was called.
func (c *Caller) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Caller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (c *Caller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, errors.New("calldata too short")
	}
	var id [4]byte
	copy(id[:], call.Data[:4])

	c.mu.Lock()
	m, ok := c.methods[id]
	var h Handler
	if ok {
		h = c.handlers[m.Name]
		c.calls[m.Name]++
	}
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown selector %x", id)
	}
	if h == nil {
		return nil, fmt.Errorf("no handler for %s", m.Name)
	}
	args, err := m.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	var to common.Address
	if call.To != nil {
		to = *call.To
	}
	out, err := h(to, args)
	if err != nil {
		return nil, err
	}
	return m.Outputs.Pack(out...)
}
