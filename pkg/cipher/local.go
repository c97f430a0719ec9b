package cipher

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
)

// localNodeAddress is the node name session signatures target for Local.
const localNodeAddress = "local"

// Local is a single-node decryptor holding one master secret. Each resource
// gets its own key derived from the secret.
type Local struct {
	secret     []byte
	conditions []AccessControlCondition
	balances   BalanceReader
	now        func() time.Time
	logger     log.Logger
}

var _ Gateway = (*Local)(nil)

// NewLocal returns a local gateway. balances may be nil.
func NewLocal(secret []byte, balances BalanceReader, logger log.Logger) (*Local, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("local cipher secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Local{
		secret:     append([]byte(nil), secret...),
		conditions: DefaultConditions(),
		balances:   balances,
		now:        time.Now,
		logger:     logger.With(log.ModuleKey, "cipher-local"),
	}, nil
}

// NewLocalFromHex decodes a hex master secret.
func NewLocalFromHex(secretHex string, balances BalanceReader, logger log.Logger) (*Local, error) {
	secretHex = strings.TrimPrefix(strings.TrimSpace(secretHex), "0x")
	if secretHex == "" {
		return nil, fmt.Errorf("LOCAL_CIPHER_SECRET is not set")
	}
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("LOCAL_CIPHER_SECRET is not valid hex: %w", err)
	}
	return NewLocal(raw, balances, logger)
}

// WithClock replaces the clock used for session checks.
func (l *Local) WithClock(now func() time.Time) *Local {
	l.now = now
	return l
}

func (l *Local) Type() string { return TypeLocal }

func (l *Local) ResourceID(ed *EncryptedData) (string, error) {
	return ResourceID(conditionsFor(l.conditions, ed, ""), ed.Hash)
}

func (l *Local) key(resourceID string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, l.secret, nil, []byte(resourceID)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func (l *Local) Encrypt(ctx context.Context, data []byte, opts EncryptOptions) (*EncryptedData, error) {
	sum := sha256.Sum256(data)
	ed := &EncryptedData{
		Hash:     hex.EncodeToString(sum[:]),
		Metadata: withChainMetadata(opts.Metadata, opts.Chain),
	}
	resourceID, err := ResourceID(conditionsFor(l.conditions, ed, ""), ed.Hash)
	if err != nil {
		return nil, err
	}
	key, err := l.key(resourceID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, data, []byte(resourceID))
	ed.Data = []byte(base64.StdEncoding.EncodeToString(sealed))
	return ed, nil
}

// Decrypt verifies the delegation the way a decryption node would, then
// evaluates the access conditions and opens the ciphertext.
func (l *Local) Decrypt(ctx context.Context, ed *EncryptedData, opts DecryptOptions) (*Decrypted, error) {
	conds := conditionsFor(l.conditions, ed, opts.Chain)
	resourceID, err := ResourceID(conds, ed.Hash)
	if err != nil {
		return nil, apperr.ErrDecryptionFailed.Wrap(err.Error())
	}

	now := l.now()
	sessionSig, err := SignSessionSig(opts.Auth.SessionKeyPair, opts.Auth.AuthSig, resourceID, localNodeAddress, now)
	if err != nil {
		return nil, err
	}
	capMsg, err := VerifySessionSig(sessionSig, resourceID, localNodeAddress, now)
	if err != nil {
		return nil, err
	}

	user := common.HexToAddress(capMsg.Address)
	ok, err := Evaluate(ctx, conds, user, l.balances)
	if err != nil {
		return nil, apperr.ErrUpstream.Wrapf("evaluate access conditions: %v", err)
	}
	if !ok {
		return nil, apperr.ErrDecryptionDenied.Wrap("access control conditions not met")
	}

	sealed, err := base64.StdEncoding.DecodeString(string(ed.Data))
	if err != nil {
		return nil, apperr.ErrDecryptionFailed.Wrapf("ciphertext: %v", err)
	}
	key, err := l.key(resourceID)
	if err != nil {
		return nil, apperr.ErrDecryptionFailed.Wrap(err.Error())
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, apperr.ErrDecryptionFailed.Wrap(err.Error())
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, apperr.ErrDecryptionFailed.Wrap("ciphertext too short")
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], []byte(resourceID))
	if err != nil {
		return nil, apperr.ErrDecryptionFailed.Wrap("ciphertext does not open")
	}
	sum := sha256.Sum256(plain)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), ed.Hash) {
		return nil, apperr.ErrDecryptionFailed.Wrap("plaintext hash mismatch")
	}

	l.logger.Debug("decrypted attachment", "resource", resourceID, "user", user.Hex(), "bytes", len(plain))
	return &Decrypted{Data: plain, Metadata: ed.Metadata}, nil
}
