// Package capture settles authorized escrow payments once the buyer has
// been served the content they paid for.
package capture

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/DeLi-Labs/deli-app/pkg/kv"
	"github.com/DeLi-Labs/deli-app/pkg/payment"
)

var ErrCaptureNotFound = errors.New("capture not found")

var capturesBucket = []byte("captures")

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

// Request describes one payment to capture.
type Request struct {
	TokenID        uint64
	LicenseAddress string
	PaymentInfo    payment.Info
	Amount         *big.Int
}

// Record is the ledger entry of a capture.
type Record struct {
	ID              string    `json:"id"`
	TokenID         uint64    `json:"tokenId"`
	LicenseAddress  string    `json:"licenseAddress"`
	Payer           string    `json:"payer"`
	PaymentInfoHash string    `json:"paymentInfoHash,omitempty"`
	Amount          string    `json:"amount"`
	Status          Status    `json:"status"`
	TxHash          string    `json:"txHash,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Submitter sends the capture transaction. *chain.CampaignManager
// implements it.
type Submitter interface {
	Capture(opts *bind.TransactOpts, info payment.Struct, amount *big.Int) (*types.Transaction, error)
}

// Hasher keys a PaymentInfo the way the escrow does.
type Hasher interface {
	PaymentInfoHash(ctx context.Context, info payment.Info) (common.Hash, error)
}

// Service records capture jobs in bbolt and submits them in the background.
type Service struct {
	db        *bolt.DB
	submitter Submitter
	hasher    Hasher
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	timeout   time.Duration
	now       func() time.Time
	logger    log.Logger

	wg sync.WaitGroup
}

// Config holds the signer and ledger location.
type Config struct {
	LedgerPath    string
	PrivateKeyHex string
	ChainID       int64
	Timeout       time.Duration
}

// Open opens the ledger and parses the capture key.
func Open(cfg Config, submitter Submitter, hasher Hasher, logger log.Logger) (*Service, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("capture private key: %w", err)
	}
	db, err := kv.Open(cfg.LedgerPath, capturesBucket)
	if err != nil {
		return nil, fmt.Errorf("open capture ledger: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Service{
		db:        db,
		submitter: submitter,
		hasher:    hasher,
		key:       key,
		chainID:   big.NewInt(cfg.ChainID),
		timeout:   timeout,
		now:       time.Now,
		logger:    logger.With(log.ModuleKey, "capture"),
	}, nil
}

// Operator is the address capture transactions are sent from.
func (s *Service) Operator() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Schedule records a pending capture and submits it asynchronously. The
// returned id can be looked up with Get.
func (s *Service) Schedule(ctx context.Context, req Request) (string, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return "", fmt.Errorf("capture amount must be positive")
	}
	info, err := req.PaymentInfo.Struct()
	if err != nil {
		return "", fmt.Errorf("capture paymentInfo: %w", err)
	}

	now := s.now().UTC()
	rec := Record{
		ID:             uuid.NewString(),
		TokenID:        req.TokenID,
		LicenseAddress: req.LicenseAddress,
		Payer:          info.Payer.Hex(),
		Amount:         req.Amount.String(),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if s.hasher != nil {
		if h, err := s.hasher.PaymentInfoHash(ctx, req.PaymentInfo); err == nil {
			rec.PaymentInfoHash = h.Hex()
		}
	}
	if err := kv.PutJSON(s.db, capturesBucket, rec.ID, rec); err != nil {
		return "", fmt.Errorf("record capture: %w", err)
	}

	amount := new(big.Int).Set(req.Amount)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		s.submit(runCtx, rec, info, amount)
	}()
	return rec.ID, nil
}

func (s *Service) submit(ctx context.Context, rec Record, info payment.Struct, amount *big.Int) {
	auth, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err == nil {
		auth.Context = ctx
		var tx *types.Transaction
		tx, err = s.submitter.Capture(auth, info, amount)
		if err == nil {
			rec.Status = StatusSubmitted
			rec.TxHash = tx.Hash().Hex()
		}
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		s.logger.Error("capture failed", "id", rec.ID, "payer", rec.Payer, "err", err)
	} else {
		s.logger.Info("capture submitted", "id", rec.ID, "tx", rec.TxHash, "amount", rec.Amount)
	}
	rec.UpdatedAt = s.now().UTC()
	if err := kv.PutJSON(s.db, capturesBucket, rec.ID, rec); err != nil {
		s.logger.Error("update capture record", "id", rec.ID, "err", err)
	}
}

// Get returns the ledger entry for id.
func (s *Service) Get(id string) (*Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCaptureNotFound, id)
	}
	var rec Record
	found, err := kv.GetJSON(s.db, capturesBucket, id, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCaptureNotFound, id)
	}
	return &rec, nil
}

// Wait blocks until every scheduled submission has finished.
func (s *Service) Wait() { s.wg.Wait() }

// Close waits for submissions and closes the ledger.
func (s *Service) Close() error {
	s.wg.Wait()
	return s.db.Close()
}
