package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/payment"
)

// TickSpacing of every fixed-price license pool.
const TickSpacing = 30

// Addresses are the deployed contracts of one chain.
type Addresses struct {
	Permit2         common.Address
	CampaignManager common.Address
	Escrow          common.Address
	Router          common.Address
	Hook            common.Address
}

// Marketplace groups the bindings the quote and authorize flows use.
type Marketplace struct {
	ChainID    int64
	Addresses  Addresses
	Manager    *CampaignManager
	Permit2    *Permit2
	Hook       *FixedPriceHook
	Router     *SwapRouter
	Authorizer *PaymentAuthorizer
}

// NewMarketplace binds every contract in addrs against caller.
func NewMarketplace(chainID int64, addrs Addresses, caller bind.ContractCaller, transactor bind.ContractTransactor, authorizer *PaymentAuthorizer) (*Marketplace, error) {
	manager, err := NewCampaignManager(addrs.CampaignManager, caller, transactor)
	if err != nil {
		return nil, err
	}
	permit2, err := NewPermit2(addrs.Permit2, caller)
	if err != nil {
		return nil, err
	}
	hook, err := NewFixedPriceHook(addrs.Hook, caller)
	if err != nil {
		return nil, err
	}
	router, err := NewSwapRouter(addrs.Router)
	if err != nil {
		return nil, err
	}
	return &Marketplace{
		ChainID:    chainID,
		Addresses:  addrs,
		Manager:    manager,
		Permit2:    permit2,
		Hook:       hook,
		Router:     router,
		Authorizer: authorizer,
	}, nil
}

func callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx}
}

// QuoteExactOutput asks the hook how much numeraire buys amountOut licenses.
func (m *Marketplace) QuoteExactOutput(ctx context.Context, poolID common.Hash, amountOut *big.Int) (*big.Int, error) {
	v, err := m.Hook.GetQuote(callOpts(ctx), poolID, amountOut, true, true)
	if err != nil {
		return nil, apperr.ErrUpstream.Wrapf("getQuote: %v", err)
	}
	return v, nil
}

// Permit2Nonce returns the AllowanceTransfer nonce for (user, token, spender).
func (m *Marketplace) Permit2Nonce(ctx context.Context, user, token, spender common.Address) (*big.Int, error) {
	a, err := m.Permit2.Allowance(callOpts(ctx), user, token, spender)
	if err != nil {
		return nil, apperr.ErrUpstream.Wrapf("allowance: %v", err)
	}
	return a.Nonce, nil
}

func (m *Marketplace) Permit2TokenCollector(ctx context.Context) (common.Address, error) {
	a, err := m.Manager.Permit2TokenCollector(callOpts(ctx))
	if err != nil {
		return common.Address{}, apperr.ErrUpstream.Wrapf("permit2TokenCollector: %v", err)
	}
	return a, nil
}

// PaymentTerms reads the treasury receiver and the next salt.
func (m *Marketplace) PaymentTerms(ctx context.Context) (receiver common.Address, salt *big.Int, err error) {
	type res struct {
		addr common.Address
		salt *big.Int
		err  error
	}
	recvCh := make(chan res, 1)
	go func() {
		a, err := m.Manager.TreasuryManager(callOpts(ctx))
		recvCh <- res{addr: a, err: err}
	}()
	salt, saltErr := m.Manager.SaltIndex(callOpts(ctx))
	r := <-recvCh
	if r.err != nil {
		return common.Address{}, nil, apperr.ErrUpstream.Wrapf("treasuryManager: %v", r.err)
	}
	if saltErr != nil {
		return common.Address{}, nil, apperr.ErrUpstream.Wrapf("saltIndex: %v", saltErr)
	}
	return r.addr, salt, nil
}

// PayerAgnosticHash delegates to the authorizer, which owns the escrow address.
func (m *Marketplace) PayerAgnosticHash(ctx context.Context, s payment.Struct) (common.Hash, error) {
	return m.Authorizer.PayerAgnosticHash(ctx, s)
}

// EncodeAuthorize packs CampaignManager.authorize calldata.
func (m *Marketplace) EncodeAuthorize(s payment.Struct, collectorData []byte) ([]byte, error) {
	return m.Manager.PackAuthorize(s, collectorData)
}

// EncodeSwap packs a numeraire→license exact-output swap through the router.
func (m *Marketplace) EncodeSwap(numeraire, license common.Address, amountOut, amountInMax *big.Int, permit PermitSingle, signature []byte) ([]byte, error) {
	key := PoolKey{
		Currency0:   numeraire,
		Currency1:   license,
		Fee:         big.NewInt(0),
		TickSpacing: big.NewInt(TickSpacing),
		Hooks:       m.Addresses.Hook,
	}
	return m.Router.PackSwapExactOutputSingle(key, amountOut, amountInMax, true, nil, permit, signature)
}
