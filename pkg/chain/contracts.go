package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/DeLi-Labs/deli-app/pkg/payment"
)

func bindContract(md *bind.MetaData, address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor) (*bind.BoundContract, *abi.ABI, error) {
	parsed, err := md.GetAbi()
	if err != nil {
		return nil, nil, err
	}
	return bind.NewBoundContract(address, *parsed, caller, transactor, nil), parsed, nil
}

// PaymentState mirrors AuthCaptureEscrow.paymentState.
type PaymentState struct {
	HasCollectedPayment bool
	CapturableAmount    *big.Int
	RefundableAmount    *big.Int
}

// AuthCaptureEscrow is a read-only binding to the escrow contract.
type AuthCaptureEscrow struct {
	Address  common.Address
	contract *bind.BoundContract
}

func NewAuthCaptureEscrow(address common.Address, caller bind.ContractCaller) (*AuthCaptureEscrow, error) {
	c, _, err := bindContract(AuthCaptureEscrowMetaData, address, caller, nil)
	if err != nil {
		return nil, err
	}
	return &AuthCaptureEscrow{Address: address, contract: c}, nil
}

// PaymentState is a free data retrieval call binding the contract method paymentState.
//
// Solidity: function paymentState(bytes32 paymentInfoHash) view returns(bool hasCollectedPayment, uint120 capturableAmount, uint120 refundableAmount)
func (e *AuthCaptureEscrow) PaymentState(opts *bind.CallOpts, paymentInfoHash [32]byte) (PaymentState, error) {
	var out []interface{}
	if err := e.contract.Call(opts, &out, "paymentState", paymentInfoHash); err != nil {
		return PaymentState{}, err
	}
	return PaymentState{
		HasCollectedPayment: *abi.ConvertType(out[0], new(bool)).(*bool),
		CapturableAmount:    *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		RefundableAmount:    *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
	}, nil
}

// Allowance mirrors Permit2.allowance.
type Allowance struct {
	Amount     *big.Int
	Expiration *big.Int
	Nonce      *big.Int
}

// Permit2 is a read-only binding to the Permit2 AllowanceTransfer surface.
type Permit2 struct {
	Address  common.Address
	contract *bind.BoundContract
}

func NewPermit2(address common.Address, caller bind.ContractCaller) (*Permit2, error) {
	c, _, err := bindContract(Permit2MetaData, address, caller, nil)
	if err != nil {
		return nil, err
	}
	return &Permit2{Address: address, contract: c}, nil
}

// Allowance is a free data retrieval call binding the contract method allowance.
//
// Solidity: function allowance(address user, address token, address spender) view returns(uint160 amount, uint48 expiration, uint48 nonce)
func (p *Permit2) Allowance(opts *bind.CallOpts, user, token, spender common.Address) (Allowance, error) {
	var out []interface{}
	if err := p.contract.Call(opts, &out, "allowance", user, token, spender); err != nil {
		return Allowance{}, err
	}
	return Allowance{
		Amount:     *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Expiration: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Nonce:      *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
	}, nil
}

// CampaignManager binds the campaign manager getters and transactions.
type CampaignManager struct {
	Address  common.Address
	contract *bind.BoundContract
	abi      *abi.ABI
}

// NewCampaignManager binds address. transactor may be nil for read-only use.
func NewCampaignManager(address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor) (*CampaignManager, error) {
	c, parsed, err := bindContract(CampaignManagerMetaData, address, caller, transactor)
	if err != nil {
		return nil, err
	}
	return &CampaignManager{Address: address, contract: c, abi: parsed}, nil
}

func (m *CampaignManager) callAddress(opts *bind.CallOpts, method string) (common.Address, error) {
	var out []interface{}
	if err := m.contract.Call(opts, &out, method); err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// Permit2TokenCollector is a free data retrieval call binding the contract method permit2TokenCollector.
//
// Solidity: function permit2TokenCollector() view returns(address)
func (m *CampaignManager) Permit2TokenCollector(opts *bind.CallOpts) (common.Address, error) {
	return m.callAddress(opts, "permit2TokenCollector")
}

// TreasuryManager is a free data retrieval call binding the contract method treasuryManager.
//
// Solidity: function treasuryManager() view returns(address)
func (m *CampaignManager) TreasuryManager(opts *bind.CallOpts) (common.Address, error) {
	return m.callAddress(opts, "treasuryManager")
}

// AuthCaptureEscrow is a free data retrieval call binding the contract method authCaptureEscrow.
//
// Solidity: function authCaptureEscrow() view returns(address)
func (m *CampaignManager) AuthCaptureEscrow(opts *bind.CallOpts) (common.Address, error) {
	return m.callAddress(opts, "authCaptureEscrow")
}

// SaltIndex is a free data retrieval call binding the contract method saltIndex.
//
// Solidity: function saltIndex() view returns(uint256)
func (m *CampaignManager) SaltIndex(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := m.contract.Call(opts, &out, "saltIndex"); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// PackAuthorize encodes authorize(paymentInfo, collectorData) calldata for
// the payer to submit.
func (m *CampaignManager) PackAuthorize(info payment.Struct, collectorData []byte) ([]byte, error) {
	return m.abi.Pack("authorize", info, collectorData)
}

// Capture is a paid mutator transaction binding the contract method capture.
//
// Solidity: function capture((address,address,address,address,uint120,uint48,uint48,uint48,uint16,uint16,address,uint256) paymentInfo, uint256 amount) returns()
func (m *CampaignManager) Capture(opts *bind.TransactOpts, info payment.Struct, amount *big.Int) (*types.Transaction, error) {
	return m.contract.Transact(opts, "capture", info, amount)
}

// FixedPriceHook is a read-only binding to the fixed-price hook.
type FixedPriceHook struct {
	Address  common.Address
	contract *bind.BoundContract
}

func NewFixedPriceHook(address common.Address, caller bind.ContractCaller) (*FixedPriceHook, error) {
	c, _, err := bindContract(FixedPriceHookMetaData, address, caller, nil)
	if err != nil {
		return nil, err
	}
	return &FixedPriceHook{Address: address, contract: c}, nil
}

// GetQuote is a free data retrieval call binding the contract method getQuote.
//
// Solidity: function getQuote(bytes32 poolId, uint256 amountSpecified, bool zeroForOne, bool exactOutput) view returns(uint256)
func (h *FixedPriceHook) GetQuote(opts *bind.CallOpts, poolID [32]byte, amount *big.Int, zeroForOne, exactOutput bool) (*big.Int, error) {
	var out []interface{}
	if err := h.contract.Call(opts, &out, "getQuote", poolID, amount, zeroForOne, exactOutput); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// PoolKey mirrors the v4 PoolKey tuple.
type PoolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int // uint24
	TickSpacing *big.Int // int24
	Hooks       common.Address
}

// PermitDetails mirrors IAllowanceTransfer.PermitDetails.
type PermitDetails struct {
	Token      common.Address
	Amount     *big.Int
	Expiration *big.Int
	Nonce      *big.Int
}

// PermitSingle mirrors IAllowanceTransfer.PermitSingle.
type PermitSingle struct {
	Details     PermitDetails
	Spender     common.Address
	SigDeadline *big.Int
}

// SwapRouter packs calls to the fixed-price swap router.
type SwapRouter struct {
	Address common.Address
	abi     *abi.ABI
}

func NewSwapRouter(address common.Address) (*SwapRouter, error) {
	parsed, err := FixedPriceSwapRouterMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	return &SwapRouter{Address: address, abi: parsed}, nil
}

// PackSwapExactOutputSingle encodes swapExactOutputSingle calldata.
func (r *SwapRouter) PackSwapExactOutputSingle(key PoolKey, amountOut, amountInMaximum *big.Int, zeroForOne bool, hookData []byte, permit PermitSingle, signature []byte) ([]byte, error) {
	if hookData == nil {
		hookData = []byte{}
	}
	return r.abi.Pack("swapExactOutputSingle", key, amountOut, amountInMaximum, zeroForOne, hookData, permit, signature)
}
