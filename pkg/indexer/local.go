package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

type fileIP struct {
	TokenID     interface{}     `json:"tokenId"`
	Owner       string          `json:"owner"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	ExternalURL string          `json:"externalUrl"`
	Attachments []rawAttachment `json:"attachments"`
	Campaigns   []rawCampaign   `json:"campaigns"`
}

// Local serves a fixed catalogue read from a JSON file of the form
// {"ips": [...]}. Used for development and tests.
type Local struct {
	ips []IP
}

var _ Gateway = (*Local)(nil)

// LoadLocal reads the catalogue at path.
func LoadLocal(path string) (*Local, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indexer file: %w", err)
	}
	return ParseLocal(raw)
}

// ParseLocal builds a catalogue from JSON.
func ParseLocal(raw []byte) (*Local, error) {
	var doc struct {
		IPs []fileIP `json:"ips"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse indexer file: %w", err)
	}
	l := &Local{}
	for _, f := range doc.IPs {
		tokenID, err := cast.ToUint64E(f.TokenID)
		if err != nil {
			return nil, fmt.Errorf("ip tokenId: %w", err)
		}
		attachments, err := mapAttachments(f.Attachments)
		if err != nil {
			return nil, err
		}
		campaigns, err := mapCampaigns(f.Campaigns, tokenID)
		if err != nil {
			return nil, err
		}
		l.ips = append(l.ips, IP{
			TokenID:     tokenID,
			Owner:       f.Owner,
			Name:        f.Name,
			Description: f.Description,
			Image:       f.Image,
			ExternalURL: f.ExternalURL,
			Attachments: attachments,
			Campaigns:   campaigns,
		})
	}
	sort.Slice(l.ips, func(i, j int) bool { return l.ips[i].TokenID < l.ips[j].TokenID })
	return l, nil
}

func (l *Local) Type() string { return TypeLocal }

func (l *Local) GetIPList(ctx context.Context, page, pageSize int) ([]IP, error) {
	start := page * pageSize
	out := []IP{}
	if start >= len(l.ips) || pageSize <= 0 {
		return out, nil
	}
	end := start + pageSize
	if end > len(l.ips) {
		end = len(l.ips)
	}
	for _, ip := range l.ips[start:end] {
		ip.Attachments = nil
		ip.Image = ""
		ip.ExternalURL = ""
		out = append(out, ip)
	}
	return out, nil
}

func (l *Local) GetIPDetails(ctx context.Context, tokenID uint64) (*IP, error) {
	for _, ip := range l.ips {
		if ip.TokenID == tokenID {
			cp := ip
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: tokenId %d", ErrIPNotFound, tokenID)
}

func (l *Local) GetCampaignDetails(ctx context.Context, tokenID uint64, licenseAddress string) (*Campaign, error) {
	ip, err := l.GetIPDetails(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenId %d license %s", ErrCampaignNotFound, tokenID, licenseAddress)
	}
	for _, c := range ip.Campaigns {
		if strings.EqualFold(c.LicenseAddress, licenseAddress) {
			cp := c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: tokenId %d license %s", ErrCampaignNotFound, tokenID, licenseAddress)
}
