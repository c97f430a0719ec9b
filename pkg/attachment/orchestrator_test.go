package attachment

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/capture"
	"github.com/DeLi-Labs/deli-app/pkg/cipher"
	"github.com/DeLi-Labs/deli-app/pkg/evm"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/payment"
	"github.com/DeLi-Labs/deli-app/pkg/sessiontoken"
	"github.com/DeLi-Labs/deli-app/pkg/siwe"
	"github.com/DeLi-Labs/deli-app/pkg/storage"
)

const (
	walletKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	nonce        = "0x8b7a3f2d1c0e9f8a7b6c5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f4a"
	license      = "0xabc0000000000000000000000000000000000001"
	perItem      = "0xabc0000000000000000000000000000000000002"
)

var (
	baseTime  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	plaintext = []byte("claim 1: a widget")
)

type fixedNonce string

func (n fixedNonce) LatestBlockhash(context.Context) (string, error) { return string(n), nil }

type fakePayments struct {
	mu         sync.Mutex
	capturable *big.Int
	required   *big.Int
	hash       common.Hash
}

func (f *fakePayments) PaymentInfoHash(_ context.Context, info payment.Info) (common.Hash, error) {
	s, err := info.Struct()
	if err != nil {
		return common.Hash{}, apperr.ErrValidation.Wrap(err.Error())
	}
	return s.Hash(big.NewInt(84532), common.HexToAddress("0xBdEA0D1bcC5966192B070Fdf62aB4EF5b4420cff"))
}

func (f *fakePayments) VerifyAuthorized(_ context.Context, required *big.Int, hash common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.required = required
	f.hash = hash
	return f.capturable.Cmp(required) >= 0, nil
}

type countingCipher struct {
	cipher.Gateway
	mu       sync.Mutex
	decrypts int
}

func (c *countingCipher) Decrypt(ctx context.Context, ed *cipher.EncryptedData, opts cipher.DecryptOptions) (*cipher.Decrypted, error) {
	c.mu.Lock()
	c.decrypts++
	c.mu.Unlock()
	return c.Gateway.Decrypt(ctx, ed, opts)
}

type recordingCapturer struct {
	mu   sync.Mutex
	reqs []capture.Request
}

func (r *recordingCapturer) Schedule(_ context.Context, req capture.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return "id", nil
}

type fixture struct {
	o        *Orchestrator
	cipher   *countingCipher
	payments *fakePayments
	capturer *recordingCapturer
	tokens   *sessiontoken.Codec
	wallet   string
	info     payment.Info
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := log.NewNopLogger()

	store, err := storage.NewLocal(filepath.Join(t.TempDir(), "storage.json"), logger)
	require.NoError(t, err)

	local, err := cipher.NewLocal(bytes.Repeat([]byte{0x42}, 32), nil, logger)
	require.NoError(t, err)
	local.WithClock(func() time.Time { return baseTime.Add(time.Minute) })

	ed, err := local.Encrypt(ctx, plaintext, cipher.EncryptOptions{Metadata: map[string]interface{}{"fileType": "application/pdf"}})
	require.NoError(t, err)
	sealed, err := ed.Serialize()
	require.NoError(t, err)
	encRes, err := store.Store(ctx, sealed, storage.StoreOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	plainRes, err := store.Store(ctx, []byte("public abstract"), storage.StoreOptions{ContentType: "text/plain"})
	require.NoError(t, err)

	idx, err := indexer.ParseLocal([]byte(fmt.Sprintf(`{"ips":[{"tokenId":1,"owner":"0x1111111111111111111111111111111111111111","name":"Widget",
	  "attachments":[
	    {"name":"claims","type":"ENCRYPTED","fileType":"","fileSizeBytes":10,"uri":%q},
	    {"name":"abstract","type":"PLAIN","fileType":"text/markdown","fileSizeBytes":15,"uri":%q},
	    {"name":"missing","type":"PLAIN","fileSizeBytes":1,"uri":"local://%064d"}
	  ],
	  "campaigns":[
	    {"licenseAddress":%q,"numeraireAddress":"0x02","poolId":"0x01","denominationUnit":"PER_BYTE","denominationAmount":"10"},
	    {"licenseAddress":%q,"numeraireAddress":"0x02","poolId":"0x01","denominationUnit":"PER_ITEM","denominationAmount":"10"}
	  ]}]}`, encRes.URI, plainRes.URI, 0, license, perItem)))
	require.NoError(t, err)

	codec, err := sessiontoken.NewCodec(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	codec.WithClock(func() time.Time { return baseTime })

	key, err := crypto.HexToECDSA(walletKeyHex)
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey)

	f := &fixture{
		cipher:   &countingCipher{Gateway: local},
		payments: &fakePayments{capturable: big.NewInt(100)},
		capturer: &recordingCapturer{},
		tokens:   codec,
		wallet:   wallet.Hex(),
		info: payment.Build(payment.BuildParams{
			Operator: common.HexToAddress("0x1000000000000000000000000000000000000001"),
			Payer:    wallet,
			Receiver: common.HexToAddress("0x3000000000000000000000000000000000000003"),
			Token:    common.HexToAddress(license),
			Amount:   big.NewInt(100),
			Salt:     big.NewInt(1),
			Now:      baseTime.Unix(),
		}).Info(),
	}
	f.o, err = New(Deps{
		Indexer:  idx,
		Storage:  store,
		Cipher:   f.cipher,
		Tokens:   codec,
		Nonces:   fixedNonce(nonce),
		Payments: f.payments,
		Verifier: &siwe.Verifier{MaxAge: siwe.DefaultMaxAge, Now: func() time.Time { return baseTime.Add(30 * time.Second) }},
		Capturer: f.capturer,
	}, Config{ChainID: 84532, Operator: common.HexToAddress("0x1000000000000000000000000000000000000001")}, logger)
	require.NoError(t, err)
	f.o.WithClock(func() time.Time { return baseTime })
	return f
}

func (f *fixture) encryptedRequest() Request {
	info := f.info
	return Request{
		TokenID:      1,
		CampaignID:   license,
		AttachmentID: 0,
		Address:      f.wallet,
		PaymentInfo:  &info,
		Host:         "localhost:3000",
	}
}

func sign(t *testing.T, message string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(walletKeyHex)
	require.NoError(t, err)
	sig, err := evm.SignPersonal(message, func(d []byte) ([]byte, error) { return crypto.Sign(d, key) })
	require.NoError(t, err)
	return sig
}

func bearerFor(t *testing.T, ch *Challenge) string {
	t.Helper()
	h, err := siwe.Bearer{Message: ch.Message, Signature: sign(t, ch.Message), OpaqueToken: ch.OpaqueToken}.Encode()
	require.NoError(t, err)
	return h
}

func (f *fixture) challenge(t *testing.T) *Challenge {
	t.Helper()
	res := f.o.Serve(context.Background(), f.encryptedRequest())
	require.NoError(t, res.Err)
	require.NotNil(t, res.Challenge)
	return res.Challenge
}

func TestServePlain(t *testing.T) {
	f := newFixture(t)
	res := f.o.Serve(context.Background(), Request{TokenID: 1, CampaignID: license, AttachmentID: 1})
	require.NoError(t, res.Err)
	require.Equal(t, []byte("public abstract"), res.Content.Data)
	require.Equal(t, "text/markdown", res.Content.ContentType)
	require.Equal(t, "attachment-1", res.Content.Filename)
	require.Zero(t, f.cipher.decrypts)
}

func TestChallengeShape(t *testing.T) {
	f := newFixture(t)
	ch := f.challenge(t)

	require.Equal(t, "localhost", ch.SIWE.Domain)
	require.Equal(t, int64(84532), ch.SIWE.ChainID)
	require.Contains(t, ch.SIWE.ResourceID, "/")

	m, err := siwe.Parse(ch.Message)
	require.NoError(t, err)
	require.Equal(t, "localhost", m.Domain)
	require.Equal(t, nonce, m.Nonce)
	require.Equal(t, int64(84532), m.ChainID)
	require.True(t, m.AuthorizesDecryption(ch.SIWE.ResourceID))

	pair, err := f.tokens.Decode(ch.OpaqueToken)
	require.NoError(t, err)
	key, ok := m.SessionPublicKey()
	require.True(t, ok)
	require.Equal(t, pair.PublicKey, key)

	// Each challenge carries a fresh session key.
	other := f.challenge(t)
	require.NotEqual(t, ch.OpaqueToken, other.OpaqueToken)
}

func TestSignedResubmissionDecrypts(t *testing.T) {
	f := newFixture(t)
	ch := f.challenge(t)

	req := f.encryptedRequest()
	req.Authorization = bearerFor(t, ch)
	res := f.o.Serve(context.Background(), req)
	require.NoError(t, res.Err)
	require.Equal(t, plaintext, res.Content.Data)
	require.Equal(t, "application/pdf", res.Content.ContentType)
	require.Equal(t, "attachment-0", res.Content.Filename)

	require.Equal(t, int64(100), f.payments.required.Int64())
	expected, err := f.payments.PaymentInfoHash(context.Background(), f.info)
	require.NoError(t, err)
	require.Equal(t, expected, f.payments.hash)

	require.Len(t, f.capturer.reqs, 1)
	require.Equal(t, int64(100), f.capturer.reqs[0].Amount.Int64())
	require.Equal(t, license, f.capturer.reqs[0].LicenseAddress)
}

func TestInsufficientAuthorizationNeverDecrypts(t *testing.T) {
	f := newFixture(t)
	f.payments.capturable = big.NewInt(50)
	ch := f.challenge(t)

	req := f.encryptedRequest()
	req.Authorization = bearerFor(t, ch)
	res := f.o.Serve(context.Background(), req)
	require.ErrorIs(t, res.Err, apperr.ErrPaymentNotAuthorized)
	require.Equal(t, 403, apperr.HTTPStatus(res.Err))
	require.Nil(t, res.Content)
	require.Zero(t, f.cipher.decrypts)
	require.Empty(t, f.capturer.reqs)
}

func TestForeignPaymentInfoRejected(t *testing.T) {
	f := newFixture(t)
	ch := f.challenge(t)

	cases := []struct {
		name   string
		mutate func(*payment.Info)
		want   error
		status int
	}{
		{"other payer", func(i *payment.Info) { i.Payer = "0x9999999999999999999999999999999999999999" }, apperr.ErrPaymentNotAuthorized, 403},
		{"other token", func(i *payment.Info) { i.Token = "0x7777777777777777777777777777777777777777" }, apperr.ErrPaymentNotAuthorized, 403},
		{"other operator", func(i *payment.Info) { i.Operator = "0x5555555555555555555555555555555555555555" }, apperr.ErrPaymentNotAuthorized, 403},
		{"unparseable", func(i *payment.Info) { i.Payer = "not-an-address" }, apperr.ErrValidation, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.encryptedRequest()
			info := *req.PaymentInfo
			tc.mutate(&info)
			req.PaymentInfo = &info
			req.Authorization = bearerFor(t, ch)
			res := f.o.Serve(context.Background(), req)
			require.ErrorIs(t, res.Err, tc.want)
			require.Equal(t, tc.status, apperr.HTTPStatus(res.Err))
			require.Nil(t, res.Content)
		})
	}
	require.Zero(t, f.cipher.decrypts)
	require.Empty(t, f.capturer.reqs)
}

func TestRejectedResubmissions(t *testing.T) {
	f := newFixture(t)
	ch := f.challenge(t)
	other := f.challenge(t)

	mixed, err := siwe.Bearer{Message: ch.Message, Signature: sign(t, ch.Message), OpaqueToken: other.OpaqueToken}.Encode()
	require.NoError(t, err)
	tampered := []byte(ch.OpaqueToken)
	tampered[20] ^= 0x01
	badToken, err := siwe.Bearer{Message: ch.Message, Signature: sign(t, ch.Message), OpaqueToken: string(tampered)}.Encode()
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Request)
		want   error
		status int
	}{
		{"token from another challenge", func(r *Request) { r.Authorization = mixed }, apperr.ErrSessionKey, 401},
		{"tampered token", func(r *Request) { r.Authorization = badToken }, apperr.ErrTamperedToken, 401},
		{"other host", func(r *Request) { r.Authorization = bearerFor(t, ch); r.Host = "evil.example" }, apperr.ErrDomainMismatch, 401},
		{"other address", func(r *Request) {
			r.Authorization = bearerFor(t, ch)
			r.Address = "0x2000000000000000000000000000000000000002"
		}, apperr.ErrAddressMismatch, 401},
		{"not bearer", func(r *Request) { r.Authorization = "Basic abc" }, apperr.ErrMalformedAuth, 400},
		{"bad signature", func(r *Request) {
			h, _ := siwe.Bearer{Message: ch.Message, Signature: sign(t, "something else"), OpaqueToken: ch.OpaqueToken}.Encode()
			r.Authorization = h
		}, apperr.ErrInvalidSignature, 401},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.encryptedRequest()
			tc.mutate(&req)
			res := f.o.Serve(context.Background(), req)
			require.ErrorIs(t, res.Err, tc.want)
			require.Equal(t, tc.status, apperr.HTTPStatus(res.Err))
		})
	}
	require.Zero(t, f.cipher.decrypts)
}

func TestExpiredTokenRejected(t *testing.T) {
	f := newFixture(t)
	ch := f.challenge(t)
	f.tokens.WithClock(func() time.Time { return baseTime.Add(6 * time.Minute) })

	req := f.encryptedRequest()
	req.Authorization = bearerFor(t, ch)
	res := f.o.Serve(context.Background(), req)
	require.ErrorIs(t, res.Err, apperr.ErrExpiredToken)
}

func TestPreconditionErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		mutate func(*Request)
		want   error
		status int
	}{
		{"unknown ip", func(r *Request) { r.TokenID = 9 }, apperr.ErrNotFound, 404},
		{"unknown attachment", func(r *Request) { r.AttachmentID = 7 }, apperr.ErrNotFound, 404},
		{"unknown campaign", func(r *Request) { r.CampaignID = "0x0000000000000000000000000000000000000009" }, apperr.ErrNotFound, 404},
		{"not per byte", func(r *Request) { r.CampaignID = perItem }, apperr.ErrInvalidDenomination, 400},
		{"no payment info", func(r *Request) { r.PaymentInfo = nil }, apperr.ErrPaymentInfoRequired, 400},
		{"no address", func(r *Request) { r.Address = "" }, apperr.ErrAddressRequired, 401},
		{"bad address", func(r *Request) { r.Address = "0x12" }, apperr.ErrValidation, 400},
		{"missing blob", func(r *Request) { r.AttachmentID = 2 }, apperr.ErrNotFound, 404},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.encryptedRequest()
			tc.mutate(&req)
			res := f.o.Serve(context.Background(), req)
			require.ErrorIs(t, res.Err, tc.want)
			require.Equal(t, tc.status, apperr.HTTPStatus(res.Err))
			require.Nil(t, res.Challenge)
		})
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	amount, err := f.o.Quote(ctx, 1, license, 0)
	require.NoError(t, err)
	require.Equal(t, int64(100), amount.Int64())

	amount, err = f.o.Quote(ctx, 1, license, 1)
	require.NoError(t, err)
	require.Zero(t, amount.Sign())

	_, err = f.o.Quote(ctx, 1, perItem, 0)
	require.ErrorIs(t, err, apperr.ErrInvalidDenomination)
	_, err = f.o.Quote(ctx, 1, "0x0000000000000000000000000000000000000009", 0)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExpectedDomain(t *testing.T) {
	o := &Orchestrator{}
	require.Equal(t, "localhost", o.ExpectedDomain(""))
	require.Equal(t, "app.example", o.ExpectedDomain("app.example:8443"))
	require.Equal(t, "app.example", o.ExpectedDomain("app.example"))
	require.Equal(t, "::1", o.ExpectedDomain("[::1]:80"))

	o.cfg.Domain = "deli.app"
	require.Equal(t, "deli.app", o.ExpectedDomain("app.example"))
}
