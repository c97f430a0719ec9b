package cipher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/log"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/siwe"
)

// Handshake is what a relay reports about its network.
type Handshake struct {
	LatestBlockhash string `json:"latestBlockhash"`
	NetworkPubKey   string `json:"networkPubKey"`
	NodeAddress     string `json:"nodeAddress"`
}

type litEncryptRequest struct {
	DataToEncrypt           string                   `json:"dataToEncrypt"`
	AccessControlConditions []AccessControlCondition `json:"accessControlConditions"`
}

type litEncryptResponse struct {
	Ciphertext        string `json:"ciphertext"`
	DataToEncryptHash string `json:"dataToEncryptHash"`
}

type litDecryptRequest struct {
	Ciphertext              string                   `json:"ciphertext"`
	DataToEncryptHash       string                   `json:"dataToEncryptHash"`
	AccessControlConditions []AccessControlCondition `json:"accessControlConditions"`
	Chain                   string                   `json:"chain"`
	SessionSigs             map[string]siwe.AuthSig  `json:"sessionSigs"`
}

type litDecryptResponse struct {
	DecryptedData string `json:"decryptedData"`
}

type litErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Lit talks to a threshold decryption network through an HTTP relay. The
// connection is opened on first use.
type Lit struct {
	endpoint   string
	network    string
	client     *http.Client
	conditions []AccessControlCondition
	conn       *Lazy[Handshake]
	now        func() time.Time
	logger     log.Logger
}

var _ Gateway = (*Lit)(nil)

// NewLit returns a relay client for endpoint. Nothing is dialed until the
// first call.
func NewLit(endpoint, network string, timeout time.Duration, logger log.Logger) *Lit {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	g := &Lit{
		endpoint:   strings.TrimRight(endpoint, "/"),
		network:    network,
		client:     &http.Client{Timeout: timeout},
		conditions: DefaultConditions(),
		now:        time.Now,
		logger:     logger.With(log.ModuleKey, "cipher-lit"),
	}
	g.conn = NewLazy(timeout, func(ctx context.Context) (Handshake, error) {
		hs, err := g.handshake(ctx)
		if err != nil {
			g.logger.Error("lit connect failed", "endpoint", g.endpoint, "err", err)
			return Handshake{}, err
		}
		g.logger.Info("lit connected", "endpoint", g.endpoint, "network", g.network, "node", hs.NodeAddress)
		return hs, nil
	})
	return g
}

func (g *Lit) Type() string { return TypeLit }

// Endpoint is the relay base URL.
func (g *Lit) Endpoint() string { return g.endpoint }

// Connected reports whether the handshake has succeeded.
func (g *Lit) Connected() bool { return g.conn.Ready() }

// Connect performs the handshake if it has not happened yet.
func (g *Lit) Connect(ctx context.Context) (Handshake, error) {
	return g.conn.Get(ctx)
}

// LatestBlockhash asks the relay for the current block hash, used as the
// SIWE challenge nonce.
func (g *Lit) LatestBlockhash(ctx context.Context) (string, error) {
	if _, err := g.conn.Get(ctx); err != nil {
		return "", err
	}
	hs, err := g.handshake(ctx)
	if err != nil {
		return "", err
	}
	if hs.LatestBlockhash == "" {
		return "", apperr.ErrUpstream.Wrap("relay returned no block hash")
	}
	return hs.LatestBlockhash, nil
}

func (g *Lit) ResourceID(ed *EncryptedData) (string, error) {
	return ResourceID(conditionsFor(g.conditions, ed, ""), ed.Hash)
}

func (g *Lit) Encrypt(ctx context.Context, data []byte, opts EncryptOptions) (*EncryptedData, error) {
	if _, err := g.conn.Get(ctx); err != nil {
		return nil, err
	}
	meta := withChainMetadata(opts.Metadata, opts.Chain)
	conds := WithChain(g.conditions, opts.Chain)
	var resp litEncryptResponse
	err := g.post(ctx, "/encrypt", litEncryptRequest{
		DataToEncrypt:           base64.StdEncoding.EncodeToString(data),
		AccessControlConditions: conds,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &EncryptedData{
		Data:     []byte(resp.Ciphertext),
		Hash:     resp.DataToEncryptHash,
		Metadata: meta,
	}, nil
}

func (g *Lit) Decrypt(ctx context.Context, ed *EncryptedData, opts DecryptOptions) (*Decrypted, error) {
	hs, err := g.conn.Get(ctx)
	if err != nil {
		return nil, err
	}
	conds := conditionsFor(g.conditions, ed, opts.Chain)
	resourceID, err := ResourceID(conds, ed.Hash)
	if err != nil {
		return nil, apperr.ErrDecryptionFailed.Wrap(err.Error())
	}
	sig, err := SignSessionSig(opts.Auth.SessionKeyPair, opts.Auth.AuthSig, resourceID, hs.NodeAddress, g.now())
	if err != nil {
		return nil, err
	}
	chain := opts.Chain
	if chain == "" && len(conds) > 0 {
		chain = conds[0].Chain
	}

	var resp litDecryptResponse
	err = g.post(ctx, "/decrypt", litDecryptRequest{
		Ciphertext:              string(ed.Data),
		DataToEncryptHash:       ed.Hash,
		AccessControlConditions: conds,
		Chain:                   chain,
		SessionSigs:             map[string]siwe.AuthSig{hs.NodeAddress: sig},
	}, &resp)
	if err != nil {
		return nil, err
	}
	plain, err := base64.StdEncoding.DecodeString(resp.DecryptedData)
	if err != nil {
		return nil, apperr.ErrDecryptionFailed.Wrapf("decrypted data: %v", err)
	}
	return &Decrypted{Data: plain, Metadata: ed.Metadata}, nil
}

func (g *Lit) handshake(ctx context.Context) (Handshake, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/handshake", nil)
	if err != nil {
		return Handshake{}, err
	}
	if g.network != "" {
		req.Header.Set("X-Lit-Network", g.network)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Handshake{}, apperr.ErrUpstream.Wrapf("lit handshake: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Handshake{}, apperr.ErrUpstream.Wrapf("lit handshake returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var hs Handshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return Handshake{}, apperr.ErrUpstream.Wrapf("lit handshake: %v", err)
	}
	return hs, nil
}

func (g *Lit) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.network != "" {
		req.Header.Set("X-Lit-Network", g.network)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return apperr.ErrUpstream.Wrapf("lit %s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return apperr.ErrUpstream.Wrapf("lit %s: %v", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e litErrorResponse
		_ = json.Unmarshal(raw, &e)
		msg := e.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return apperr.ErrDecryptionDenied.Wrapf("%s (%s)", msg, e.ErrorCode)
		default:
			return apperr.ErrDecryptionFailed.Wrapf("lit %s returned %d: %s", path, resp.StatusCode, msg)
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.ErrUpstream.Wrapf("lit %s: %v", path, err)
	}
	return nil
}
