package chain

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

const paymentInfoComponents = `[
	{"name":"operator","type":"address","internalType":"address"},
	{"name":"payer","type":"address","internalType":"address"},
	{"name":"receiver","type":"address","internalType":"address"},
	{"name":"token","type":"address","internalType":"address"},
	{"name":"maxAmount","type":"uint120","internalType":"uint120"},
	{"name":"preApprovalExpiry","type":"uint48","internalType":"uint48"},
	{"name":"authorizationExpiry","type":"uint48","internalType":"uint48"},
	{"name":"refundExpiry","type":"uint48","internalType":"uint48"},
	{"name":"minFeeBps","type":"uint16","internalType":"uint16"},
	{"name":"maxFeeBps","type":"uint16","internalType":"uint16"},
	{"name":"feeReceiver","type":"address","internalType":"address"},
	{"name":"salt","type":"uint256","internalType":"uint256"}
]`

// AuthCaptureEscrowMetaData contains the escrow surface the gateway reads.
var AuthCaptureEscrowMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"paymentState","stateMutability":"view",
	 "inputs":[{"name":"paymentInfoHash","type":"bytes32","internalType":"bytes32"}],
	 "outputs":[
		{"name":"hasCollectedPayment","type":"bool","internalType":"bool"},
		{"name":"capturableAmount","type":"uint120","internalType":"uint120"},
		{"name":"refundableAmount","type":"uint120","internalType":"uint120"}]},
	{"type":"function","name":"getHash","stateMutability":"view",
	 "inputs":[{"name":"paymentInfo","type":"tuple","internalType":"struct AuthCaptureEscrow.PaymentInfo","components":` + paymentInfoComponents + `}],
	 "outputs":[{"name":"","type":"bytes32","internalType":"bytes32"}]}
]`,
}

// Permit2MetaData contains the AllowanceTransfer allowance getter.
var Permit2MetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[
		{"name":"user","type":"address","internalType":"address"},
		{"name":"token","type":"address","internalType":"address"},
		{"name":"spender","type":"address","internalType":"address"}],
	 "outputs":[
		{"name":"amount","type":"uint160","internalType":"uint160"},
		{"name":"expiration","type":"uint48","internalType":"uint48"},
		{"name":"nonce","type":"uint48","internalType":"uint48"}]}
]`,
}

// CampaignManagerMetaData contains the campaign manager getters and the
// authorize/capture entry points.
var CampaignManagerMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"permit2TokenCollector","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address","internalType":"address"}]},
	{"type":"function","name":"treasuryManager","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address","internalType":"address"}]},
	{"type":"function","name":"saltIndex","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256","internalType":"uint256"}]},
	{"type":"function","name":"authCaptureEscrow","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address","internalType":"address"}]},
	{"type":"function","name":"authorize","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"paymentInfo","type":"tuple","internalType":"struct AuthCaptureEscrow.PaymentInfo","components":` + paymentInfoComponents + `},
		{"name":"collectorData","type":"bytes","internalType":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"capture","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"paymentInfo","type":"tuple","internalType":"struct AuthCaptureEscrow.PaymentInfo","components":` + paymentInfoComponents + `},
		{"name":"amount","type":"uint256","internalType":"uint256"}],
	 "outputs":[]}
]`,
}

// FixedPriceHookMetaData contains the hook's quote function.
var FixedPriceHookMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"getQuote","stateMutability":"view",
	 "inputs":[
		{"name":"poolId","type":"bytes32","internalType":"PoolId"},
		{"name":"amountSpecified","type":"uint256","internalType":"uint256"},
		{"name":"zeroForOne","type":"bool","internalType":"bool"},
		{"name":"exactOutput","type":"bool","internalType":"bool"}],
	 "outputs":[{"name":"","type":"uint256","internalType":"uint256"}]}
]`,
}

// FixedPriceSwapRouterMetaData contains the Permit2-backed exact-output swap.
var FixedPriceSwapRouterMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"swapExactOutputSingle","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"key","type":"tuple","internalType":"struct PoolKey","components":[
			{"name":"currency0","type":"address","internalType":"Currency"},
			{"name":"currency1","type":"address","internalType":"Currency"},
			{"name":"fee","type":"uint24","internalType":"uint24"},
			{"name":"tickSpacing","type":"int24","internalType":"int24"},
			{"name":"hooks","type":"address","internalType":"contract IHooks"}]},
		{"name":"amountOut","type":"uint128","internalType":"uint128"},
		{"name":"amountInMaximum","type":"uint128","internalType":"uint128"},
		{"name":"zeroForOne","type":"bool","internalType":"bool"},
		{"name":"hookData","type":"bytes","internalType":"bytes"},
		{"name":"permitSingle","type":"tuple","internalType":"struct IAllowanceTransfer.PermitSingle","components":[
			{"name":"details","type":"tuple","internalType":"struct IAllowanceTransfer.PermitDetails","components":[
				{"name":"token","type":"address","internalType":"address"},
				{"name":"amount","type":"uint160","internalType":"uint160"},
				{"name":"expiration","type":"uint48","internalType":"uint48"},
				{"name":"nonce","type":"uint48","internalType":"uint48"}]},
			{"name":"spender","type":"address","internalType":"address"},
			{"name":"sigDeadline","type":"uint256","internalType":"uint256"}]},
		{"name":"signature","type":"bytes","internalType":"bytes"}],
	 "outputs":[{"name":"amountIn","type":"uint256","internalType":"uint256"}]}
]`,
}
