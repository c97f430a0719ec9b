package market

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/chain"
	"github.com/DeLi-Labs/deli-app/pkg/chain/chaintest"
	"github.com/DeLi-Labs/deli-app/pkg/evm"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/permit"
)

const (
	walletKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	chainID      = 84532
)

var (
	managerAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	escrowAddr    = common.HexToAddress("0xBdEA0D1bcC5966192B070Fdf62aB4EF5b4420cff")
	permit2Addr   = common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3")
	hookAddr      = common.HexToAddress("0x5000000000000000000000000000000000000005")
	routerAddr    = common.HexToAddress("0x6000000000000000000000000000000000000006")
	numeraireAddr = common.HexToAddress("0x8000000000000000000000000000000000000008")
	treasuryAddr  = common.HexToAddress("0x9000000000000000000000000000000000000009")
	collectorAddr = common.HexToAddress("0xa00000000000000000000000000000000000000a")
	licenseAddr   = common.HexToAddress("0xabc0000000000000000000000000000000000001")

	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) (*Service, *chaintest.Caller) {
	t.Helper()
	caller := chaintest.New(
		chain.AuthCaptureEscrowMetaData,
		chain.Permit2MetaData,
		chain.CampaignManagerMetaData,
		chain.FixedPriceHookMetaData,
	).
		Handle("getQuote", func(to common.Address, args []interface{}) ([]interface{}, error) {
			return []interface{}{new(big.Int).Mul(args[1].(*big.Int), big.NewInt(2))}, nil
		}).
		Return("allowance", big.NewInt(0), big.NewInt(0), big.NewInt(4)).
		Return("permit2TokenCollector", collectorAddr).
		Return("treasuryManager", treasuryAddr).
		Return("saltIndex", big.NewInt(12))

	logger := log.NewNopLogger()
	auth, err := chain.NewPaymentAuthorizer(chainID, caller, nil, escrowAddr, logger)
	require.NoError(t, err)
	m, err := chain.NewMarketplace(chainID, chain.Addresses{
		Permit2:         permit2Addr,
		CampaignManager: managerAddr,
		Escrow:          escrowAddr,
		Router:          routerAddr,
		Hook:            hookAddr,
	}, caller, nil, auth)
	require.NoError(t, err)

	idx, err := indexer.ParseLocal([]byte(`{"ips":[{"tokenId":1,"name":"Widget","campaigns":[
	  {"licenseAddress":"` + licenseAddr.Hex() + `","numeraireAddress":"` + numeraireAddr.Hex() + `",
	   "poolId":"0x0101010101010101010101010101010101010101010101010101010101010101",
	   "denominationUnit":"PER_BYTE","denominationAmount":"1"}]}]}`))
	require.NoError(t, err)

	s := NewService(idx, m, logger)
	s.now = func() time.Time { return now }
	return s, caller
}

func userKey(t *testing.T) (common.Address, func(digest []byte) string) {
	t.Helper()
	key, err := crypto.HexToECDSA(walletKeyHex)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey), func(digest []byte) string {
		sig, err := crypto.Sign(digest, key)
		require.NoError(t, err)
		sig[64] += 27
		return hexutil.Encode(sig)
	}
}

func envelope(t *testing.T, msg interface{}, sig string) *permit.Envelope {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return &permit.Envelope{Message: raw, Signature: sig}
}

func TestQuoteReturnsPermitToSign(t *testing.T) {
	s, _ := newService(t)
	user, _ := userKey(t)

	resp, err := s.Quote(context.Background(), 1, licenseAddr.Hex(), Request{Amount: "3", UserAddress: user.Hex()})
	require.NoError(t, err)
	require.True(t, resp.RequiresSignature)
	require.Equal(t, json.Number("6"), resp.AmountIn)
	require.Equal(t, int64(3), resp.AmountOut)
	require.NotEmpty(t, resp.Instructions)
	require.Nil(t, resp.TxData)

	msg := resp.PermitMessage
	require.Equal(t, permit.DomainName, msg.Domain.Name)
	require.Equal(t, int64(chainID), msg.Domain.ChainID)
	require.Equal(t, numeraireAddr.Hex(), msg.Message.Details.Token)
	require.Equal(t, evm.DecimalFromBig(ToRaw(6)), msg.Message.Details.Amount)
	require.Equal(t, evm.Decimal("0"), msg.Message.Details.Expiration)
	require.Equal(t, evm.Decimal("4"), msg.Message.Details.Nonce)
	require.Equal(t, routerAddr.Hex(), msg.Message.Spender)
	require.Equal(t, evm.DecimalFromUint64(uint64(now.Add(PermitDeadline).Unix())), msg.Message.SigDeadline)
}

func TestQuoteWithPermitBuildsSwap(t *testing.T) {
	s, _ := newService(t)
	user, sign := userKey(t)
	ctx := context.Background()

	first, err := s.Quote(ctx, 1, licenseAddr.Hex(), Request{Amount: "3", UserAddress: user.Hex()})
	require.NoError(t, err)
	digest, err := first.PermitMessage.Digest()
	require.NoError(t, err)

	resp, err := s.Quote(ctx, 1, licenseAddr.Hex(), Request{
		Amount:      "3",
		UserAddress: user.Hex(),
		Permit:      envelope(t, first.PermitMessage, sign(digest)),
	})
	require.NoError(t, err)
	require.False(t, resp.RequiresSignature)
	require.NotNil(t, resp.TxData)
	require.Equal(t, int64(chainID), resp.TxData.ChainID)
	require.Equal(t, routerAddr.Hex(), resp.TxData.Payload.To)
	require.Equal(t, "0x0", resp.TxData.Payload.Value)

	parsed, err := chain.FixedPriceSwapRouterMetaData.GetAbi()
	require.NoError(t, err)
	data, err := hexutil.Decode(resp.TxData.Payload.Data)
	require.NoError(t, err)
	require.Equal(t, parsed.Methods["swapExactOutputSingle"].ID, data[:4])
}

func TestQuoteRejectsShortPermit(t *testing.T) {
	s, _ := newService(t)
	user, sign := userKey(t)
	low := permit.NewSingleMessage(chainID, permit2Addr, numeraireAddr, ToRaw(5), 0, 4, routerAddr, uint64(now.Unix()))
	digest, err := low.Digest()
	require.NoError(t, err)

	_, err = s.Quote(context.Background(), 1, licenseAddr.Hex(), Request{
		Amount:      "3",
		UserAddress: user.Hex(),
		Permit:      envelope(t, low, sign(digest)),
	})
	var rej *permit.Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "Insufficient permit amount", rej.Reason)
	require.Equal(t, 400, apperr.HTTPStatus(err))
}

func TestPrepareAuthorizeFlow(t *testing.T) {
	s, caller := newService(t)
	user, sign := userKey(t)
	ctx := context.Background()

	first, err := s.PrepareAuthorize(ctx, 1, licenseAddr.Hex(), Request{Amount: "2", UserAddress: user.Hex()})
	require.NoError(t, err)
	require.True(t, first.RequiresSignature)
	info := first.PaymentInfo
	require.NotNil(t, info)
	require.Equal(t, managerAddr.Hex(), info.Operator)
	require.Equal(t, user.Hex(), info.Payer)
	require.Equal(t, treasuryAddr.Hex(), info.Receiver)
	require.Equal(t, licenseAddr.Hex(), info.Token)
	require.Equal(t, evm.DecimalFromBig(ToRaw(2)), info.MaxAmount)
	require.Equal(t, evm.Decimal("12"), info.Salt)
	require.Equal(t, evm.DecimalFromUint64(uint64(now.Unix()+24*60*60)), info.PreApprovalExpiry)

	msg := first.PermitMessage
	require.Equal(t, collectorAddr.Hex(), msg.Message.Spender)
	require.Equal(t, info.PreApprovalExpiry, msg.Message.Deadline)
	st, err := info.Struct()
	require.NoError(t, err)
	nonce, err := st.PayerAgnosticHash(big.NewInt(chainID), escrowAddr)
	require.NoError(t, err)
	require.Equal(t, evm.DecimalFromBig(nonce.Big()), msg.Message.Nonce)

	digest, err := msg.Digest()
	require.NoError(t, err)
	env := envelope(t, msg, sign(digest))

	_, err = s.PrepareAuthorize(ctx, 1, licenseAddr.Hex(), Request{Amount: "2", UserAddress: user.Hex(), Permit: env})
	require.ErrorIs(t, err, apperr.ErrMissingPaymentInfo)

	resp, err := s.PrepareAuthorize(ctx, 1, licenseAddr.Hex(), Request{Amount: "2", UserAddress: user.Hex(), Permit: env, PaymentInfo: info})
	require.NoError(t, err)
	require.False(t, resp.RequiresSignature)
	require.Equal(t, managerAddr.Hex(), resp.TxData.Payload.To)
	parsed, err := chain.CampaignManagerMetaData.GetAbi()
	require.NoError(t, err)
	data, err := hexutil.Decode(resp.TxData.Payload.Data)
	require.NoError(t, err)
	require.Equal(t, parsed.Methods["authorize"].ID, data[:4])
	require.Equal(t, 3, caller.Calls("permit2TokenCollector"))
}

func TestPrepareAuthorizeRejectsForeignSigner(t *testing.T) {
	s, _ := newService(t)
	user, _ := userKey(t)
	ctx := context.Background()
	first, err := s.PrepareAuthorize(ctx, 1, licenseAddr.Hex(), Request{Amount: "1", UserAddress: user.Hex()})
	require.NoError(t, err)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest, err := first.PermitMessage.Digest()
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, other)
	require.NoError(t, err)

	_, err = s.PrepareAuthorize(ctx, 1, licenseAddr.Hex(), Request{
		Amount:      "1",
		UserAddress: user.Hex(),
		Permit:      envelope(t, first.PermitMessage, hexutil.Encode(sig)),
		PaymentInfo: first.PaymentInfo,
	})
	var rej *permit.Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "Invalid signature", rej.Reason)
}

func TestRequestValidation(t *testing.T) {
	s, _ := newService(t)
	user, _ := userKey(t)
	cases := []struct {
		name string
		req  Request
	}{
		{"missing amount", Request{UserAddress: user.Hex()}},
		{"fractional amount", Request{Amount: "1.5", UserAddress: user.Hex()}},
		{"zero amount", Request{Amount: "0", UserAddress: user.Hex()}},
		{"bad address", Request{Amount: "1", UserAddress: "0x1234"}},
		{"bad signature", Request{Amount: "1", UserAddress: user.Hex(), Permit: &permit.Envelope{Message: json.RawMessage(`{}`), Signature: "abc"}}},
		{"missing message", Request{Amount: "1", UserAddress: user.Hex(), Permit: &permit.Envelope{Signature: "0xab"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Quote(context.Background(), 1, licenseAddr.Hex(), tc.req)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestUnknownCampaign(t *testing.T) {
	s, _ := newService(t)
	user, _ := userKey(t)
	_, err := s.Quote(context.Background(), 1, "0x0000000000000000000000000000000000000009", Request{Amount: "1", UserAddress: user.Hex()})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.PrepareAuthorize(context.Background(), 2, licenseAddr.Hex(), Request{Amount: "1", UserAddress: user.Hex()})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFormatUnits(t *testing.T) {
	require.Equal(t, json.Number("0"), FormatUnits(big.NewInt(0)))
	require.Equal(t, json.Number("1.5"), FormatUnits(new(big.Int).Div(ToRaw(3), big.NewInt(2))))
	require.Equal(t, json.Number("0.000000000000000001"), FormatUnits(big.NewInt(1)))
}
