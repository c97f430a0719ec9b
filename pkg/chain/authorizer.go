package chain

import (
	"context"
	"math/big"
	"sync"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/payment"
)

// PaymentAuthorizer binds decryption to payment: it computes the escrow key
// of a PaymentInfo and checks the escrow holds enough capturable funds for it.
type PaymentAuthorizer struct {
	chainID *big.Int
	caller  bind.ContractCaller
	manager *CampaignManager
	logger  log.Logger

	mu     sync.Mutex
	escrow *AuthCaptureEscrow
}

// NewPaymentAuthorizer builds an authorizer. When escrowAddr is the zero
// address the escrow is looked up once from the campaign manager.
func NewPaymentAuthorizer(chainID int64, caller bind.ContractCaller, manager *CampaignManager, escrowAddr common.Address, logger log.Logger) (*PaymentAuthorizer, error) {
	a := &PaymentAuthorizer{
		chainID: big.NewInt(chainID),
		caller:  caller,
		manager: manager,
		logger:  logger.With(log.ModuleKey, "payment"),
	}
	if escrowAddr != (common.Address{}) {
		e, err := NewAuthCaptureEscrow(escrowAddr, caller)
		if err != nil {
			return nil, err
		}
		a.escrow = e
	}
	return a, nil
}

// Escrow resolves the escrow binding. A failed lookup is retried on the
// next call.
func (a *PaymentAuthorizer) Escrow(ctx context.Context) (*AuthCaptureEscrow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.escrow != nil {
		return a.escrow, nil
	}
	if a.manager == nil {
		return nil, apperr.ErrUpstream.Wrap("escrow address is not configured")
	}
	addr, err := a.manager.AuthCaptureEscrow(&bind.CallOpts{Context: ctx})
	if err != nil {
		return nil, apperr.ErrUpstream.Wrapf("read authCaptureEscrow: %v", err)
	}
	e, err := NewAuthCaptureEscrow(addr, a.caller)
	if err != nil {
		return nil, err
	}
	a.logger.Info("resolved escrow", "address", addr.Hex())
	a.escrow = e
	return e, nil
}

// ChainID is the chain the hashes are bound to.
func (a *PaymentAuthorizer) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

// PaymentInfoHash computes keccak(chainId, escrow, innerHash) for info.
func (a *PaymentAuthorizer) PaymentInfoHash(ctx context.Context, info payment.Info) (common.Hash, error) {
	s, err := info.Struct()
	if err != nil {
		return common.Hash{}, apperr.ErrValidation.Wrapf("paymentInfo: %v", err)
	}
	e, err := a.Escrow(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return s.Hash(a.chainID, e.Address)
}

// PayerAgnosticHash is PaymentInfoHash with the payer zeroed.
func (a *PaymentAuthorizer) PayerAgnosticHash(ctx context.Context, s payment.Struct) (common.Hash, error) {
	e, err := a.Escrow(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return s.PayerAgnosticHash(a.chainID, e.Address)
}

// VerifyAuthorized reports whether the escrow can capture at least required
// for the payment keyed by hash. RPC failures are upstream errors, not
// authorization failures.
func (a *PaymentAuthorizer) VerifyAuthorized(ctx context.Context, required *big.Int, hash common.Hash) (bool, error) {
	e, err := a.Escrow(ctx)
	if err != nil {
		return false, err
	}
	state, err := e.PaymentState(&bind.CallOpts{Context: ctx}, hash)
	if err != nil {
		return false, apperr.ErrUpstream.Wrapf("read paymentState: %v", err)
	}
	ok := state.CapturableAmount != nil && state.CapturableAmount.Cmp(required) >= 0
	a.logger.Debug("payment state",
		"hash", hash.Hex(),
		"capturable", state.CapturableAmount,
		"required", required,
		"authorized", ok,
	)
	return ok, nil
}
