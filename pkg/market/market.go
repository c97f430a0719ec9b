// Package market prepares the two transactions a buyer signs: the license
// token swap and the escrow payment authorization.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/chain"
	"github.com/DeLi-Labs/deli-app/pkg/evm"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/payment"
	"github.com/DeLi-Labs/deli-app/pkg/permit"
)

// LicenseDecimals of every license token.
const LicenseDecimals = 18

// PermitDeadline is how long a swap permit stays signable.
const PermitDeadline = 30 * time.Minute

const (
	quoteInstructions = "Sign the permitMessage using EIP-712 (signTypedData) and provide the signature along with " +
		"the permit message in the next request to get the executable transaction."
	authorizeInstructions = "Sign the permitMessage using EIP-712 (signTypedData) and provide the signature along with " +
		"the permit message and paymentInfo in the next request to get the executable transaction."
)

var signaturePattern = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)

// Request is the body of both quote and prepareAuthorize.
type Request struct {
	Amount      json.Number      `json:"amount"`
	UserAddress string           `json:"userAddress"`
	Permit      *permit.Envelope `json:"permit,omitempty"`
	PaymentInfo *payment.Info    `json:"paymentInfo,omitempty"`
}

// Validate checks the request shape and returns the whole-token amount.
func (r Request) Validate() (int64, error) {
	if r.Amount == "" {
		return 0, apperr.ErrValidation.Wrap("amount is required")
	}
	amount, err := strconv.ParseInt(r.Amount.String(), 10, 64)
	if err != nil {
		return 0, apperr.ErrValidation.Wrap("Amount must be an integer")
	}
	if amount < 1 {
		return 0, apperr.ErrValidation.Wrap("Amount must be a positive integer")
	}
	if !evm.IsAddress(r.UserAddress) {
		return 0, apperr.ErrValidation.Wrap("userAddress must be a valid Ethereum address")
	}
	if r.Permit != nil {
		if len(r.Permit.Message) == 0 || string(r.Permit.Message) == "null" {
			return 0, apperr.ErrValidation.Wrap("permit.message is required")
		}
		if !signaturePattern.MatchString(r.Permit.Signature) {
			return 0, apperr.ErrValidation.Wrap("Signature must be a valid hex string starting with 0x")
		}
	}
	return amount, nil
}

type TxPayload struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

type TxData struct {
	ChainID int64     `json:"chainId"`
	Payload TxPayload `json:"payload"`
}

type QuoteResponse struct {
	AmountIn          json.Number           `json:"amountIn"`
	AmountOut         int64                 `json:"amountOut"`
	RequiresSignature bool                  `json:"requiresSignature"`
	PermitMessage     *permit.SingleMessage `json:"permitMessage,omitempty"`
	Instructions      string                `json:"instructions,omitempty"`
	TxData            *TxData               `json:"txData,omitempty"`
}

type AuthorizeResponse struct {
	Amount            int64                       `json:"amount"`
	RequiresSignature bool                        `json:"requiresSignature"`
	PermitMessage     *permit.TransferFromMessage `json:"permitMessage,omitempty"`
	PaymentInfo       *payment.Info               `json:"paymentInfo,omitempty"`
	Instructions      string                      `json:"instructions,omitempty"`
	TxData            *TxData                     `json:"txData,omitempty"`
}

// Service answers quote and prepareAuthorize requests.
type Service struct {
	indexer indexer.Gateway
	market  *chain.Marketplace
	now     func() time.Time
	logger  log.Logger
}

func NewService(idx indexer.Gateway, m *chain.Marketplace, logger log.Logger) *Service {
	return &Service{
		indexer: idx,
		market:  m,
		now:     time.Now,
		logger:  logger.With(log.ModuleKey, "market"),
	}
}

// ToRaw scales a whole-token amount to base units.
func ToRaw(amount int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(LicenseDecimals), nil)
	return new(big.Int).Mul(big.NewInt(amount), scale)
}

// FormatUnits renders raw base units as a decimal number.
func FormatUnits(raw *big.Int) json.Number {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(LicenseDecimals), nil)
	whole, frac := new(big.Int).QuoRem(raw, scale, new(big.Int))
	if frac.Sign() == 0 {
		return json.Number(whole.String())
	}
	f := frac.String()
	f = strings.Repeat("0", LicenseDecimals-len(f)) + f
	return json.Number(whole.String() + "." + strings.TrimRight(f, "0"))
}

func (s *Service) campaign(ctx context.Context, tokenID uint64, campaignID string) (*indexer.Campaign, error) {
	c, err := s.indexer.GetCampaignDetails(ctx, tokenID, campaignID)
	if errors.Is(err, indexer.ErrCampaignNotFound) {
		return nil, apperr.ErrNotFound.Wrap("Campaign not found")
	}
	if err != nil {
		if apperr.ClassOf(err) == apperr.ClassInternal {
			return nil, apperr.ErrUpstream.Wrapf("campaign details: %v", err)
		}
		return nil, err
	}
	return c, nil
}

func txData(chainID int64, to common.Address, data []byte) *TxData {
	return &TxData{
		ChainID: chainID,
		Payload: TxPayload{To: to.Hex(), Data: hexutil.Encode(data), Value: "0x0"},
	}
}

func campaignAddress(field, v string) (common.Address, error) {
	a, err := evm.ParseAddress(v)
	if err != nil {
		return common.Address{}, apperr.ErrUpstream.Wrapf("campaign %s: %v", field, err)
	}
	return a, nil
}

// Quote prices amount license tokens and either returns the PermitSingle
// to sign or, given a signed permit, the swap transaction.
func (s *Service) Quote(ctx context.Context, tokenID uint64, campaignID string, req Request) (*QuoteResponse, error) {
	amount, err := req.Validate()
	if err != nil {
		return nil, err
	}
	c, err := s.campaign(ctx, tokenID, campaignID)
	if err != nil {
		return nil, err
	}
	numeraire, err := campaignAddress("numeraireAddress", c.NumeraireAddress)
	if err != nil {
		return nil, err
	}
	license, err := campaignAddress("licenseAddress", c.LicenseAddress)
	if err != nil {
		return nil, err
	}

	amountOut := ToRaw(amount)
	amountIn, err := s.market.QuoteExactOutput(ctx, common.HexToHash(c.PoolID), amountOut)
	if err != nil {
		return nil, err
	}
	user := common.HexToAddress(req.UserAddress)
	addrs := s.market.Addresses
	resp := &QuoteResponse{AmountIn: FormatUnits(amountIn), AmountOut: amount}

	if req.Permit == nil {
		nonce, err := s.market.Permit2Nonce(ctx, user, numeraire, addrs.Router)
		if err != nil {
			return nil, err
		}
		deadline := uint64(s.now().Add(PermitDeadline).Unix())
		msg := permit.NewSingleMessage(s.market.ChainID, addrs.Permit2, numeraire, amountIn, 0, nonce.Uint64(), addrs.Router, deadline)
		resp.RequiresSignature = true
		resp.PermitMessage = &msg
		resp.Instructions = quoteInstructions
		return resp, nil
	}

	var msg permit.SingleMessage
	if err := json.Unmarshal(req.Permit.Message, &msg); err != nil {
		return nil, apperr.ErrValidation.Wrapf("permit.message: %v", err)
	}
	err = permit.ValidateSingle(msg, req.Permit.Signature, permit.Expected{
		ChainID:   s.market.ChainID,
		Permit2:   addrs.Permit2,
		Token:     numeraire,
		Spender:   addrs.Router,
		User:      user,
		MinAmount: amountIn,
	}).Err()
	if err != nil {
		return nil, err
	}
	v, err := msg.Values()
	if err != nil {
		return nil, apperr.ErrValidation.Wrap(err.Error())
	}
	sig, err := hexutil.Decode(req.Permit.Signature)
	if err != nil {
		return nil, apperr.ErrValidation.Wrapf("signature: %v", err)
	}
	data, err := s.market.EncodeSwap(numeraire, license, amountOut, amountIn, chain.PermitSingle{
		Details: chain.PermitDetails{
			Token:      v.Token,
			Amount:     v.Amount,
			Expiration: v.Expiration,
			Nonce:      v.Nonce,
		},
		Spender:     v.Spender,
		SigDeadline: v.SigDeadline,
	}, sig)
	if err != nil {
		return nil, err
	}
	s.logger.Info("prepared swap", "tokenId", tokenID, "user", user.Hex(), "amountOut", amount)
	resp.TxData = txData(s.market.ChainID, addrs.Router, data)
	return resp, nil
}

// PrepareAuthorize either builds a PaymentInfo and the PermitTransferFrom
// that funds it, or, given the signed permit and that PaymentInfo, the
// authorize transaction.
func (s *Service) PrepareAuthorize(ctx context.Context, tokenID uint64, campaignID string, req Request) (*AuthorizeResponse, error) {
	amount, err := req.Validate()
	if err != nil {
		return nil, err
	}
	c, err := s.campaign(ctx, tokenID, campaignID)
	if err != nil {
		return nil, err
	}
	license, err := campaignAddress("licenseAddress", c.LicenseAddress)
	if err != nil {
		return nil, err
	}
	amountRaw := ToRaw(amount)
	user := common.HexToAddress(req.UserAddress)
	addrs := s.market.Addresses

	collector, err := s.market.Permit2TokenCollector(ctx)
	if err != nil {
		return nil, err
	}
	resp := &AuthorizeResponse{Amount: amount}

	if req.Permit == nil {
		receiver, salt, err := s.market.PaymentTerms(ctx)
		if err != nil {
			return nil, err
		}
		info := payment.Build(payment.BuildParams{
			Operator: addrs.CampaignManager,
			Payer:    user,
			Receiver: receiver,
			Token:    license,
			Amount:   amountRaw,
			Salt:     salt,
			Now:      s.now().Unix(),
		})
		nonce, err := s.market.PayerAgnosticHash(ctx, info)
		if err != nil {
			return nil, err
		}
		msg := permit.NewTransferFromMessage(s.market.ChainID, addrs.Permit2, license, amountRaw, collector, nonce.Big(), info.PreApprovalExpiry)
		wire := info.Info()
		resp.RequiresSignature = true
		resp.PermitMessage = &msg
		resp.PaymentInfo = &wire
		resp.Instructions = authorizeInstructions
		return resp, nil
	}

	if req.PaymentInfo == nil {
		return nil, apperr.ErrMissingPaymentInfo.Wrap("paymentInfo must be provided along with the permit when requesting a transaction.")
	}
	var msg permit.TransferFromMessage
	if err := json.Unmarshal(req.Permit.Message, &msg); err != nil {
		return nil, apperr.ErrValidation.Wrapf("permit.message: %v", err)
	}
	err = permit.ValidateTransferFrom(msg, req.Permit.Signature, permit.Expected{
		ChainID:   s.market.ChainID,
		Permit2:   addrs.Permit2,
		Token:     license,
		Spender:   collector,
		User:      user,
		MinAmount: amountRaw,
	}).Err()
	if err != nil {
		return nil, err
	}
	info, err := req.PaymentInfo.Struct()
	if err != nil {
		return nil, apperr.ErrValidation.Wrapf("paymentInfo: %v", err)
	}
	sig, err := hexutil.Decode(req.Permit.Signature)
	if err != nil {
		return nil, apperr.ErrValidation.Wrapf("signature: %v", err)
	}
	data, err := s.market.EncodeAuthorize(info, sig)
	if err != nil {
		return nil, err
	}
	s.logger.Info("prepared authorize", "tokenId", tokenID, "payer", user.Hex(), "amount", amountRaw)
	resp.TxData = txData(s.market.ChainID, addrs.CampaignManager, data)
	return resp, nil
}
