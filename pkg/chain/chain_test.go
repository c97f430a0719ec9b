package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/chain/chaintest"
	"github.com/DeLi-Labs/deli-app/pkg/payment"
)

var (
	managerAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	escrowAddr  = common.HexToAddress("0xBdEA0D1bcC5966192B070Fdf62aB4EF5b4420cff")
	permit2Addr = common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3")
	hookAddr    = common.HexToAddress("0x5000000000000000000000000000000000000005")
	routerAddr  = common.HexToAddress("0x6000000000000000000000000000000000000006")
)

func newCaller() *chaintest.Caller {
	return chaintest.New(
		AuthCaptureEscrowMetaData,
		Permit2MetaData,
		CampaignManagerMetaData,
		FixedPriceHookMetaData,
	)
}

func samplePayment() payment.Struct {
	return payment.Build(payment.BuildParams{
		Operator: managerAddr,
		Payer:    common.HexToAddress("0x2000000000000000000000000000000000000002"),
		Receiver: common.HexToAddress("0x3000000000000000000000000000000000000003"),
		Token:    common.HexToAddress("0x4000000000000000000000000000000000000004"),
		Amount:   big.NewInt(1_000),
		Salt:     big.NewInt(1),
		Now:      1_760_000_000,
	})
}

func TestVerifyAuthorized(t *testing.T) {
	caller := newCaller()
	var seen common.Hash
	caller.Handle("paymentState", func(to common.Address, args []interface{}) ([]interface{}, error) {
		require.Equal(t, escrowAddr, to)
		seen = common.Hash(args[0].([32]byte))
		return []interface{}{false, big.NewInt(50), big.NewInt(0)}, nil
	})

	a, err := NewPaymentAuthorizer(84532, caller, nil, escrowAddr, log.NewNopLogger())
	require.NoError(t, err)

	hash, err := a.PaymentInfoHash(context.Background(), samplePayment().Info())
	require.NoError(t, err)

	ok, err := a.VerifyAuthorized(context.Background(), big.NewInt(100), hash)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, hash, seen)

	ok, err = a.VerifyAuthorized(context.Background(), big.NewInt(50), hash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyAuthorizedUpstreamFailure(t *testing.T) {
	caller := newCaller().Fail("paymentState", errors.New("connection refused"))
	a, err := NewPaymentAuthorizer(84532, caller, nil, escrowAddr, log.NewNopLogger())
	require.NoError(t, err)
	_, err = a.VerifyAuthorized(context.Background(), big.NewInt(1), common.Hash{})
	require.ErrorIs(t, err, apperr.ErrUpstream)
	require.True(t, apperr.Retryable(err))
}

func TestEscrowResolvedFromManagerOnce(t *testing.T) {
	caller := newCaller().
		Return("authCaptureEscrow", escrowAddr).
		Return("paymentState", false, big.NewInt(10), big.NewInt(0))
	manager, err := NewCampaignManager(managerAddr, caller, nil)
	require.NoError(t, err)
	a, err := NewPaymentAuthorizer(84532, caller, manager, common.Address{}, log.NewNopLogger())
	require.NoError(t, err)

	h1, err := a.PaymentInfoHash(context.Background(), samplePayment().Info())
	require.NoError(t, err)
	want, err := samplePayment().Hash(big.NewInt(84532), escrowAddr)
	require.NoError(t, err)
	require.Equal(t, want, h1)

	_, err = a.VerifyAuthorized(context.Background(), big.NewInt(1), h1)
	require.NoError(t, err)
	require.Equal(t, 1, caller.Calls("authCaptureEscrow"))
}

func TestEscrowLookupRetriesAfterFailure(t *testing.T) {
	caller := newCaller().Fail("authCaptureEscrow", errors.New("timeout"))
	manager, err := NewCampaignManager(managerAddr, caller, nil)
	require.NoError(t, err)
	a, err := NewPaymentAuthorizer(1, caller, manager, common.Address{}, log.NewNopLogger())
	require.NoError(t, err)

	_, err = a.Escrow(context.Background())
	require.ErrorIs(t, err, apperr.ErrUpstream)

	caller.Return("authCaptureEscrow", escrowAddr)
	e, err := a.Escrow(context.Background())
	require.NoError(t, err)
	require.Equal(t, escrowAddr, e.Address)
	require.Equal(t, 2, caller.Calls("authCaptureEscrow"))
}

func TestPaymentInfoHashRejectsBadInfo(t *testing.T) {
	a, err := NewPaymentAuthorizer(1, newCaller(), nil, escrowAddr, log.NewNopLogger())
	require.NoError(t, err)
	info := samplePayment().Info()
	info.Token = "nope"
	_, err = a.PaymentInfoHash(context.Background(), info)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func newMarketplace(t *testing.T, caller *chaintest.Caller) *Marketplace {
	t.Helper()
	auth, err := NewPaymentAuthorizer(84532, caller, nil, escrowAddr, log.NewNopLogger())
	require.NoError(t, err)
	m, err := NewMarketplace(84532, Addresses{
		Permit2:         permit2Addr,
		CampaignManager: managerAddr,
		Escrow:          escrowAddr,
		Router:          routerAddr,
		Hook:            hookAddr,
	}, caller, nil, auth)
	require.NoError(t, err)
	return m
}

func TestMarketplaceReads(t *testing.T) {
	user := common.HexToAddress("0x7000000000000000000000000000000000000007")
	token := common.HexToAddress("0x8000000000000000000000000000000000000008")
	treasury := common.HexToAddress("0x9000000000000000000000000000000000000009")
	collector := common.HexToAddress("0xa00000000000000000000000000000000000000a")

	caller := newCaller().
		Handle("getQuote", func(to common.Address, args []interface{}) ([]interface{}, error) {
			require.Equal(t, hookAddr, to)
			require.Equal(t, true, args[2])
			require.Equal(t, true, args[3])
			return []interface{}{new(big.Int).Mul(args[1].(*big.Int), big.NewInt(2))}, nil
		}).
		Handle("allowance", func(to common.Address, args []interface{}) ([]interface{}, error) {
			require.Equal(t, permit2Addr, to)
			require.Equal(t, user, args[0])
			return []interface{}{big.NewInt(0), big.NewInt(0), big.NewInt(4)}, nil
		}).
		Return("treasuryManager", treasury).
		Return("saltIndex", big.NewInt(12)).
		Return("permit2TokenCollector", collector)
	m := newMarketplace(t, caller)
	ctx := context.Background()

	q, err := m.QuoteExactOutput(ctx, crypto.Keccak256Hash([]byte("pool")), big.NewInt(21))
	require.NoError(t, err)
	require.Equal(t, int64(42), q.Int64())

	nonce, err := m.Permit2Nonce(ctx, user, token, routerAddr)
	require.NoError(t, err)
	require.Equal(t, int64(4), nonce.Int64())

	recv, salt, err := m.PaymentTerms(ctx)
	require.NoError(t, err)
	require.Equal(t, treasury, recv)
	require.Equal(t, int64(12), salt.Int64())

	c, err := m.Permit2TokenCollector(ctx)
	require.NoError(t, err)
	require.Equal(t, collector, c)
}

func TestEncodeAuthorize(t *testing.T) {
	m := newMarketplace(t, newCaller())
	s := samplePayment()
	data, err := m.EncodeAuthorize(s, []byte{0xaa, 0xbb})
	require.NoError(t, err)

	parsed, err := CampaignManagerMetaData.GetAbi()
	require.NoError(t, err)
	method := parsed.Methods["authorize"]
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)
	require.Equal(t, []byte{0xaa, 0xbb}, args[1])
}

func TestEncodeSwap(t *testing.T) {
	m := newMarketplace(t, newCaller())
	permit := PermitSingle{
		Details: PermitDetails{
			Token:      common.HexToAddress("0x8000000000000000000000000000000000000008"),
			Amount:     big.NewInt(2_000),
			Expiration: big.NewInt(0),
			Nonce:      big.NewInt(1),
		},
		Spender:     routerAddr,
		SigDeadline: big.NewInt(1_800_000_000),
	}
	data, err := m.EncodeSwap(
		common.HexToAddress("0x8000000000000000000000000000000000000008"),
		common.HexToAddress("0x4000000000000000000000000000000000000004"),
		big.NewInt(1_000), big.NewInt(2_000), permit, make([]byte, 65))
	require.NoError(t, err)

	parsed, err := FixedPriceSwapRouterMetaData.GetAbi()
	require.NoError(t, err)
	method := parsed.Methods["swapExactOutputSingle"]
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 7)
	require.Equal(t, true, args[3])
	require.Equal(t, int64(1_000), args[1].(*big.Int).Int64())
}
