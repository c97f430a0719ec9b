package capture

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/DeLi-Labs/deli-app/pkg/payment"
)

const operatorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeSubmitter struct {
	mu     sync.Mutex
	err    error
	from   common.Address
	amount *big.Int
	info   payment.Struct
}

func (f *fakeSubmitter) Capture(opts *bind.TransactOpts, info payment.Struct, amount *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.from = opts.From
	f.amount = amount
	f.info = info
	tx := types.NewTx(&types.LegacyTx{Nonce: 7, GasPrice: big.NewInt(1), Gas: 21_000, Value: big.NewInt(0)})
	return opts.Signer(opts.From, tx)
}

type fixedHasher common.Hash

func (h fixedHasher) PaymentInfoHash(context.Context, payment.Info) (common.Hash, error) {
	return common.Hash(h), nil
}

func samplePayment() payment.Info {
	return payment.Build(payment.BuildParams{
		Operator: common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Payer:    common.HexToAddress("0x2000000000000000000000000000000000000002"),
		Receiver: common.HexToAddress("0x3000000000000000000000000000000000000003"),
		Token:    common.HexToAddress("0x4000000000000000000000000000000000000004"),
		Amount:   big.NewInt(1_000),
		Salt:     big.NewInt(3),
		Now:      1_760_000_000,
	}).Info()
}

func openService(t *testing.T, sub Submitter) *Service {
	t.Helper()
	s, err := Open(Config{
		LedgerPath:    filepath.Join(t.TempDir(), "captures.db"),
		PrivateKeyHex: "0x" + operatorKey,
		ChainID:       84532,
	}, sub, fixedHasher(common.HexToHash("0xabcd")), log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScheduleSubmits(t *testing.T) {
	sub := &fakeSubmitter{}
	s := openService(t, sub)

	id, err := s.Schedule(context.Background(), Request{
		TokenID:        1,
		LicenseAddress: "0xabc0000000000000000000000000000000000001",
		PaymentInfo:    samplePayment(),
		Amount:         big.NewInt(600),
	})
	require.NoError(t, err)
	s.Wait()

	rec, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, rec.Status)
	require.NotEmpty(t, rec.TxHash)
	require.Equal(t, "600", rec.Amount)
	require.Equal(t, common.HexToHash("0xabcd").Hex(), rec.PaymentInfoHash)
	require.Equal(t, "0x2000000000000000000000000000000000000002", rec.Payer)

	require.Equal(t, s.Operator(), sub.from)
	require.Equal(t, int64(600), sub.amount.Int64())
	require.Equal(t, int64(1_000), sub.info.MaxAmount.Int64())
}

func TestScheduleRecordsFailure(t *testing.T) {
	s := openService(t, &fakeSubmitter{err: errors.New("execution reverted")})
	id, err := s.Schedule(context.Background(), Request{PaymentInfo: samplePayment(), Amount: big.NewInt(1)})
	require.NoError(t, err)
	s.Wait()

	rec, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rec.Status)
	require.Contains(t, rec.Error, "execution reverted")
	require.Empty(t, rec.TxHash)
}

func TestScheduleRejectsBadInput(t *testing.T) {
	s := openService(t, &fakeSubmitter{})
	_, err := s.Schedule(context.Background(), Request{PaymentInfo: samplePayment(), Amount: big.NewInt(0)})
	require.Error(t, err)

	bad := samplePayment()
	bad.Payer = "nope"
	_, err = s.Schedule(context.Background(), Request{PaymentInfo: bad, Amount: big.NewInt(1)})
	require.Error(t, err)
}

func TestGetUnknown(t *testing.T) {
	s := openService(t, &fakeSubmitter{})
	_, err := s.Get("not-a-uuid")
	require.ErrorIs(t, err, ErrCaptureNotFound)
	_, err = s.Get("6f1c5d0e-3a7b-4c2d-9e8f-0a1b2c3d4e5f")
	require.ErrorIs(t, err, ErrCaptureNotFound)
}

func TestOpenRejectsBadKey(t *testing.T) {
	_, err := Open(Config{LedgerPath: filepath.Join(t.TempDir(), "c.db"), PrivateKeyHex: "zz"}, &fakeSubmitter{}, nil, log.NewNopLogger())
	require.Error(t, err)
}
