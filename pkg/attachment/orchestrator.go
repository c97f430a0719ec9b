// Package attachment serves IP attachments. Plain attachments are returned
// as stored; encrypted ones are released only to a caller who has
// authorized payment on chain and signed a session delegation for the
// attachment's decryption resource.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cast"

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

const defaultContentType = "application/octet-stream"

const addressRequiredDetails = "Private patent data is protected by Sign with Ethereum authentication. " +
	"Provide your account address in the request body for proper SIWE message to be generated."

// NonceSource supplies the challenge nonce: a recent block hash.
type NonceSource interface {
	LatestBlockhash(ctx context.Context) (string, error)
}

// PaymentVerifier checks the escrow for an authorized payment.
type PaymentVerifier interface {
	PaymentInfoHash(ctx context.Context, info payment.Info) (common.Hash, error)
	VerifyAuthorized(ctx context.Context, required *big.Int, hash common.Hash) (bool, error)
}

// Capturer settles a served payment.
type Capturer interface {
	Schedule(ctx context.Context, req capture.Request) (string, error)
}

// Deps are the collaborators of an Orchestrator. Capturer may be nil.
type Deps struct {
	Indexer  indexer.Gateway
	Storage  storage.Gateway
	Cipher   cipher.Gateway
	Tokens   *sessiontoken.Codec
	Nonces   NonceSource
	Payments PaymentVerifier
	Verifier *siwe.Verifier
	Capturer Capturer
}

type Config struct {
	// Domain is the SIWE domain. Empty derives it from the request host.
	Domain  string
	ChainID int64
	// Operator is the CampaignManager. A zero address skips the operator check.
	Operator common.Address
}

// Request is one attachment access. PaymentInfo, Address and
// Authorization are only consulted for encrypted attachments.
type Request struct {
	TokenID       uint64
	CampaignID    string
	AttachmentID  int
	Address       string
	PaymentInfo   *payment.Info
	Authorization string
	Host          string
}

// Content is a servable attachment body.
type Content struct {
	Data        []byte
	ContentType string
	Filename    string
}

type ChallengeSIWE struct {
	Domain     string `json:"domain"`
	ResourceID string `json:"resourceId"`
	ChainID    int64  `json:"chainId"`
}

// Challenge asks the caller to sign Message and resubmit it together with
// OpaqueToken.
type Challenge struct {
	Message     string        `json:"message"`
	OpaqueToken string        `json:"opaqueToken"`
	SIWE        ChallengeSIWE `json:"siwe"`
}

// Result holds exactly one of Content, Challenge or Err.
type Result struct {
	Content   *Content
	Challenge *Challenge
	Err       error
}

func failed(err error) Result { return Result{Err: err} }

type Orchestrator struct {
	d      Deps
	cfg    Config
	now    func() time.Time
	logger log.Logger
}

func New(d Deps, cfg Config, logger log.Logger) (*Orchestrator, error) {
	switch {
	case d.Indexer == nil:
		return nil, fmt.Errorf("indexer gateway is required")
	case d.Storage == nil:
		return nil, fmt.Errorf("storage gateway is required")
	case d.Cipher == nil:
		return nil, fmt.Errorf("cipher gateway is required")
	case d.Tokens == nil:
		return nil, fmt.Errorf("session token codec is required")
	case d.Nonces == nil:
		return nil, fmt.Errorf("nonce source is required")
	case d.Payments == nil:
		return nil, fmt.Errorf("payment verifier is required")
	}
	if d.Verifier == nil {
		d.Verifier = siwe.NewVerifier()
	}
	return &Orchestrator{
		d:      d,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(log.ModuleKey, "attachment"),
	}, nil
}

// WithClock sets the clock used for challenge timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ExpectedDomain is the SIWE domain a challenge for host is issued under.
func (o *Orchestrator) ExpectedDomain(host string) string {
	if o.cfg.Domain != "" {
		return o.cfg.Domain
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "localhost"
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return "localhost"
	}
	return host
}

// lookupErr maps gateway errors onto the response taxonomy.
func lookupErr(err error, what string) error {
	switch {
	case errors.Is(err, indexer.ErrIPNotFound),
		errors.Is(err, indexer.ErrAttachmentNotFound),
		errors.Is(err, storage.ErrBlobNotFound):
		return apperr.ErrNotFound.Wrap(err.Error())
	case errors.Is(err, indexer.ErrCampaignNotFound):
		return apperr.ErrNotFound.Wrap("The campaign associated with the IP and attachment does not exist.")
	case apperr.ClassOf(err) != apperr.ClassInternal:
		return err
	default:
		return apperr.ErrUpstream.Wrapf("%s: %v", what, err)
	}
}

func (o *Orchestrator) resolve(ctx context.Context, tokenID uint64, attachmentID int) (indexer.Attachment, error) {
	ip, err := o.d.Indexer.GetIPDetails(ctx, tokenID)
	if err != nil {
		return indexer.Attachment{}, lookupErr(err, "ip details")
	}
	att, err := ip.Attachment(attachmentID)
	if err != nil {
		return indexer.Attachment{}, lookupErr(err, "attachment")
	}
	return att, nil
}

// pricedCampaign loads the campaign and checks it can price an encrypted
// attachment.
func (o *Orchestrator) pricedCampaign(ctx context.Context, tokenID uint64, campaignID string) (*indexer.Campaign, error) {
	c, err := o.d.Indexer.GetCampaignDetails(ctx, tokenID, campaignID)
	if err != nil {
		return nil, lookupErr(err, "campaign details")
	}
	if c.Denomination.Unit != indexer.UnitPerByte {
		return nil, apperr.ErrInvalidDenomination.Wrap("For private attachments, the denomination unit of the campaign token to pay with must be PER_BYTE.")
	}
	if c.Denomination.Amount == nil {
		return nil, apperr.ErrUpstream.Wrapf("campaign %s has no denomination amount", campaignID)
	}
	return c, nil
}

// RequiredAmount is what the escrow must hold to release att.
func RequiredAmount(c *indexer.Campaign, att indexer.Attachment) *big.Int {
	return new(big.Int).Mul(c.Denomination.Amount, new(big.Int).SetUint64(att.FileSizeBytes))
}

// Quote returns the payment required to decrypt one attachment.
func (o *Orchestrator) Quote(ctx context.Context, tokenID uint64, campaignID string, attachmentID int) (*big.Int, error) {
	att, err := o.resolve(ctx, tokenID, attachmentID)
	if err != nil {
		return nil, err
	}
	if !att.Encrypted() {
		return new(big.Int), nil
	}
	c, err := o.pricedCampaign(ctx, tokenID, campaignID)
	if err != nil {
		return nil, err
	}
	return RequiredAmount(c, att), nil
}

// Serve runs one access request to completion.
func (o *Orchestrator) Serve(ctx context.Context, req Request) Result {
	att, err := o.resolve(ctx, req.TokenID, req.AttachmentID)
	if err != nil {
		return failed(err)
	}
	filename := fmt.Sprintf("attachment-%d", req.AttachmentID)

	if !att.Encrypted() {
		obj, err := o.d.Storage.Retrieve(ctx, att.URI)
		if err != nil {
			return failed(lookupErr(err, "retrieve attachment"))
		}
		return Result{Content: &Content{
			Data:        obj.Data,
			ContentType: firstNonEmpty(att.FileType, obj.ContentType),
			Filename:    filename,
		}}
	}

	c, err := o.pricedCampaign(ctx, req.TokenID, req.CampaignID)
	if err != nil {
		return failed(err)
	}
	if req.PaymentInfo == nil {
		return failed(apperr.ErrPaymentInfoRequired.Wrap("Private attachments require payment info in the request body (e.g. from prepareAuthorize)."))
	}
	if strings.TrimSpace(req.Address) == "" {
		return failed(apperr.ErrAddressRequired.Wrap(addressRequiredDetails))
	}
	if !evm.IsAddress(req.Address) {
		return failed(apperr.ErrValidation.Wrapf("address %q is not a valid address", req.Address))
	}

	domain := o.ExpectedDomain(req.Host)
	if req.Authorization == "" {
		return o.challenge(ctx, att, req.Address, domain)
	}
	return o.decrypt(ctx, att, c, req, domain, filename)
}

func (o *Orchestrator) encryptedData(ctx context.Context, att indexer.Attachment) (*cipher.EncryptedData, error) {
	obj, err := o.d.Storage.Retrieve(ctx, att.URI)
	if err != nil {
		return nil, lookupErr(err, "retrieve ciphertext")
	}
	ed, err := cipher.ParseEncryptedData(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("stored attachment %s: %w", att.URI, err)
	}
	return ed, nil
}

func (o *Orchestrator) challenge(ctx context.Context, att indexer.Attachment, address, domain string) Result {
	ed, err := o.encryptedData(ctx, att)
	if err != nil {
		return failed(err)
	}
	resourceID, err := o.d.Cipher.ResourceID(ed)
	if err != nil {
		return failed(fmt.Errorf("resource id: %w", err))
	}
	pair, err := sessiontoken.GenerateKeyPair()
	if err != nil {
		return failed(err)
	}
	nonce, err := o.d.Nonces.LatestBlockhash(ctx)
	if err != nil {
		return failed(lookupErr(err, "challenge nonce"))
	}
	msg, err := siwe.BuildChallenge(siwe.ChallengeParams{
		Domain:           domain,
		Address:          address,
		SessionPublicKey: pair.PublicKey,
		Nonce:            nonce,
		ResourceID:       resourceID,
		ChainID:          o.cfg.ChainID,
		IssuedAt:         o.now(),
	})
	if err != nil {
		return failed(fmt.Errorf("build challenge: %w", err))
	}
	token, err := o.d.Tokens.Encode(pair)
	if err != nil {
		return failed(fmt.Errorf("encode session token: %w", err))
	}
	chainID := o.cfg.ChainID
	if chainID == 0 {
		chainID = siwe.DefaultChainID
	}
	o.logger.Debug("issued challenge", "address", address, "resource", resourceID)
	return Result{Challenge: &Challenge{
		Message:     msg,
		OpaqueToken: token,
		SIWE:        ChallengeSIWE{Domain: domain, ResourceID: resourceID, ChainID: chainID},
	}}
}

func (o *Orchestrator) decrypt(ctx context.Context, att indexer.Attachment, c *indexer.Campaign, req Request, domain, filename string) Result {
	bearer, err := siwe.ParseBearer(req.Authorization)
	if err != nil {
		return failed(err)
	}
	verified, err := o.d.Verifier.Verify(bearer.Message, bearer.Signature, domain, req.Address)
	if err != nil {
		return failed(err)
	}
	pair, err := o.d.Tokens.Decode(bearer.OpaqueToken)
	if err != nil {
		return failed(err)
	}
	if key, _ := verified.Message.SessionPublicKey(); !strings.EqualFold(key, pair.PublicKey) {
		return failed(apperr.ErrSessionKey.Wrap("opaque token was not issued for this delegation"))
	}

	if err := o.bindPaymentInfo(*req.PaymentInfo, c, req.Address); err != nil {
		return failed(err)
	}
	required := RequiredAmount(c, att)
	hash, err := o.d.Payments.PaymentInfoHash(ctx, *req.PaymentInfo)
	if err != nil {
		return failed(lookupErr(err, "payment info hash"))
	}
	ok, err := o.d.Payments.VerifyAuthorized(ctx, required, hash)
	if err != nil {
		return failed(lookupErr(err, "payment state"))
	}
	if !ok {
		return failed(apperr.ErrPaymentNotAuthorized.Wrapf("Payment authorization of at least %s is required before decryption", required))
	}

	ed, err := o.encryptedData(ctx, att)
	if err != nil {
		return failed(err)
	}
	out, err := o.d.Cipher.Decrypt(ctx, ed, cipher.DecryptOptions{
		Auth:   cipher.Auth{AuthSig: verified.AuthSig, SessionKeyPair: pair},
		Domain: domain,
	})
	if err != nil {
		return failed(lookupErr(err, "decrypt"))
	}

	o.logger.Info("served encrypted attachment",
		"tokenId", req.TokenID,
		"attachment", req.AttachmentID,
		"address", strings.ToLower(req.Address),
		"amount", required,
	)
	if o.d.Capturer != nil {
		o.scheduleCapture(ctx, req, c, required)
	}
	return Result{Content: &Content{
		Data:        out.Data,
		ContentType: firstNonEmpty(cast.ToString(out.Metadata["fileType"]), att.FileType),
		Filename:    filename,
	}}
}

// bindPaymentInfo rejects a paymentInfo that was not made out by payer for
// this campaign's license token.
func (o *Orchestrator) bindPaymentInfo(info payment.Info, c *indexer.Campaign, payer string) error {
	s, err := info.Struct()
	if err != nil {
		return apperr.ErrValidation.Wrapf("paymentInfo: %s", err)
	}
	if s.Payer != common.HexToAddress(payer) {
		return apperr.ErrPaymentNotAuthorized.Wrap("paymentInfo payer does not match the signing address")
	}
	if !strings.EqualFold(s.Token.Hex(), c.LicenseAddress) {
		return apperr.ErrPaymentNotAuthorized.Wrap("paymentInfo token is not this campaign's license")
	}
	if o.cfg.Operator != (common.Address{}) && s.Operator != o.cfg.Operator {
		return apperr.ErrPaymentNotAuthorized.Wrap("paymentInfo operator is not the campaign manager")
	}
	return nil
}

func (o *Orchestrator) scheduleCapture(ctx context.Context, req Request, c *indexer.Campaign, amount *big.Int) {
	id, err := o.d.Capturer.Schedule(ctx, capture.Request{
		TokenID:        req.TokenID,
		LicenseAddress: c.LicenseAddress,
		PaymentInfo:    *req.PaymentInfo,
		Amount:         amount,
	})
	if err != nil {
		o.logger.Error("schedule capture", "tokenId", req.TokenID, "err", err)
		return
	}
	o.logger.Debug("capture scheduled", "id", id)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return defaultContentType
}
