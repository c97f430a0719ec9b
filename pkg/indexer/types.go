// Package indexer reads IP, attachment and campaign records from the
// marketplace indexer.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cast"

	"github.com/DeLi-Labs/deli-app/pkg/evm"
)

// Indexer backends selectable in configuration.
const (
	TypePonder = "ponder"
	TypeLocal  = "local"
)

var (
	ErrIPNotFound         = errors.New("ip not found")
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

type AttachmentType string

const (
	AttachmentEncrypted AttachmentType = "ENCRYPTED"
	AttachmentPlain     AttachmentType = "PLAIN"
)

type Unit string

const (
	UnitPerItem      Unit = "PER_ITEM"
	UnitPerHour      Unit = "PER_HOUR"
	UnitPerDay       Unit = "PER_DAY"
	UnitPerByte      Unit = "PER_BYTE"
	UnitPer1000Token Unit = "PER_1000_TOKEN"
)

type Attachment struct {
	Name          string         `json:"name"`
	Type          AttachmentType `json:"type"`
	Description   string         `json:"description"`
	FileType      string         `json:"fileType"`
	FileSizeBytes uint64         `json:"fileSizeBytes"`
	URI           string         `json:"uri"`
}

func (a Attachment) Encrypted() bool { return a.Type == AttachmentEncrypted }

type Denomination struct {
	Unit   Unit     `json:"unit"`
	Amount *big.Int `json:"amount"`
}

type Campaign struct {
	TokenID          uint64       `json:"tokenId,omitempty"`
	LicenseAddress   string       `json:"licenseAddress"`
	NumeraireAddress string       `json:"numeraireAddress"`
	HookAddress      string       `json:"hookAddress,omitempty"`
	PoolID           string       `json:"poolId"`
	Denomination     Denomination `json:"denomination"`
}

// Clone deep-copies c, including the denomination amount.
func (c Campaign) Clone() Campaign {
	if c.Denomination.Amount != nil {
		c.Denomination.Amount = new(big.Int).Set(c.Denomination.Amount)
	}
	return c
}

// IP is one tokenized asset. List responses leave Attachments empty.
type IP struct {
	TokenID     uint64       `json:"tokenId"`
	Owner       string       `json:"owner,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Image       string       `json:"image,omitempty"`
	ExternalURL string       `json:"externalUrl,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Campaigns   []Campaign   `json:"campaigns"`
}

// Clone deep-copies ip so callers cannot mutate a shared record.
func (ip IP) Clone() IP {
	if ip.Attachments != nil {
		ip.Attachments = append([]Attachment(nil), ip.Attachments...)
	}
	if ip.Campaigns != nil {
		campaigns := make([]Campaign, len(ip.Campaigns))
		for i, c := range ip.Campaigns {
			campaigns[i] = c.Clone()
		}
		ip.Campaigns = campaigns
	}
	return ip
}

// Attachment returns the attachment at index.
func (ip *IP) Attachment(index int) (Attachment, error) {
	if index < 0 || index >= len(ip.Attachments) {
		return Attachment{}, fmt.Errorf("%w: index %d for tokenId %d", ErrAttachmentNotFound, index, ip.TokenID)
	}
	return ip.Attachments[index], nil
}

// Gateway is implemented by every indexer backend.
type Gateway interface {
	Type() string
	GetIPList(ctx context.Context, page, pageSize int) ([]IP, error)
	GetIPDetails(ctx context.Context, tokenID uint64) (*IP, error)
	GetCampaignDetails(ctx context.Context, tokenID uint64, licenseAddress string) (*Campaign, error)
}

// Raw records as indexers return them: big integers may be strings or
// numbers.

type rawAttachment struct {
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	Description   string      `json:"description"`
	FileType      string      `json:"fileType"`
	FileSizeBytes interface{} `json:"fileSizeBytes"`
	URI           string      `json:"uri"`
}

type rawCampaign struct {
	LicenseAddress     string      `json:"licenseAddress"`
	NumeraireAddress   string      `json:"numeraireAddress"`
	HookAddress        string      `json:"hookAddress"`
	PoolID             string      `json:"poolId"`
	DenominationUnit   string      `json:"denominationUnit"`
	DenominationAmount interface{} `json:"denominationAmount"`
	IP                 *struct {
		TokenID interface{} `json:"tokenId"`
	} `json:"ip,omitempty"`
}

func (r rawAttachment) toAttachment() (Attachment, error) {
	size, err := cast.ToUint64E(r.FileSizeBytes)
	if err != nil {
		return Attachment{}, fmt.Errorf("attachment %q fileSizeBytes: %w", r.Name, err)
	}
	t := AttachmentType(strings.ToUpper(r.Type))
	if t != AttachmentEncrypted && t != AttachmentPlain {
		return Attachment{}, fmt.Errorf("attachment %q has unknown type %q", r.Name, r.Type)
	}
	return Attachment{
		Name:          r.Name,
		Type:          t,
		Description:   r.Description,
		FileType:      r.FileType,
		FileSizeBytes: size,
		URI:           r.URI,
	}, nil
}

func (r rawCampaign) toCampaign(tokenID uint64) (Campaign, error) {
	amount, err := evm.ToBig(r.DenominationAmount)
	if err != nil {
		return Campaign{}, fmt.Errorf("campaign %s denominationAmount: %w", r.LicenseAddress, err)
	}
	if tokenID == 0 && r.IP != nil {
		tokenID, _ = cast.ToUint64E(r.IP.TokenID)
	}
	return Campaign{
		TokenID:          tokenID,
		LicenseAddress:   r.LicenseAddress,
		NumeraireAddress: r.NumeraireAddress,
		HookAddress:      r.HookAddress,
		PoolID:           r.PoolID,
		Denomination:     Denomination{Unit: Unit(r.DenominationUnit), Amount: amount},
	}, nil
}

func mapAttachments(raw []rawAttachment) ([]Attachment, error) {
	out := make([]Attachment, 0, len(raw))
	for _, r := range raw {
		a, err := r.toAttachment()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func mapCampaigns(raw []rawCampaign, tokenID uint64) ([]Campaign, error) {
	out := make([]Campaign, 0, len(raw))
	for _, r := range raw {
		c, err := r.toCampaign(tokenID)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
