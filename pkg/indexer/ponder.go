package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/spf13/cast"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
)

// DefaultPonderURL is where a local ponder dev server listens.
const DefaultPonderURL = "http://localhost:42069/graphql"

const ipsQuery = `query Ips($where: ipFilter, $limit: Int, $offset: Int, $orderBy: String, $orderDirection: String) {
  ips(where: $where, limit: $limit, offset: $offset, orderBy: $orderBy, orderDirection: $orderDirection) {
    items {
      tokenId
      name
      description
      image
      externalUrl
      attachments { items { name type description fileType fileSizeBytes uri } }
      campaigns { items { licenseAddress numeraireAddress poolId denominationUnit denominationAmount } }
    }
  }
}`

const campaignsQuery = `query Campaigns($where: campaignFilter, $limit: Int) {
  campaigns(where: $where, limit: $limit) {
    items {
      licenseAddress
      numeraireAddress
      poolId
      denominationUnit
      denominationAmount
      ip { tokenId }
    }
  }
}`

type ponderIP struct {
	TokenID     interface{} `json:"tokenId"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	ExternalURL string      `json:"externalUrl"`
	Attachments *struct {
		Items []rawAttachment `json:"items"`
	} `json:"attachments"`
	Campaigns *struct {
		Items []rawCampaign `json:"items"`
	} `json:"campaigns"`
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// Ponder queries a ponder GraphQL endpoint.
type Ponder struct {
	url    string
	client *http.Client
	logger log.Logger
}

var _ Gateway = (*Ponder)(nil)

func NewPonder(url string, timeout time.Duration, logger log.Logger) *Ponder {
	if strings.TrimSpace(url) == "" {
		url = DefaultPonderURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ponder{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(log.ModuleKey, "indexer-ponder"),
	}
}

func (p *Ponder) Type() string { return TypePonder }

// URL is the GraphQL endpoint.
func (p *Ponder) URL() string { return p.url }

func (p *Ponder) query(ctx context.Context, q string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: q, Variables: vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return apperr.ErrUpstream.Wrapf("indexer request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.ErrUpstream.Wrapf("indexer response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperr.ErrUpstream.Wrapf("indexer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return apperr.ErrUpstream.Wrapf("indexer response: %v", err)
	}
	if len(envelope.Errors) > 0 {
		return apperr.ErrUpstream.Wrapf("indexer query failed: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperr.ErrUpstream.Wrapf("indexer data: %v", err)
	}
	return nil
}

func (p *Ponder) ips(ctx context.Context, vars map[string]interface{}) ([]ponderIP, error) {
	var data struct {
		Ips struct {
			Items []ponderIP `json:"items"`
		} `json:"ips"`
	}
	if err := p.query(ctx, ipsQuery, vars, &data); err != nil {
		return nil, err
	}
	return data.Ips.Items, nil
}

func (p *Ponder) toIP(r ponderIP, details bool) (IP, error) {
	tokenID, err := cast.ToUint64E(r.TokenID)
	if err != nil {
		return IP{}, fmt.Errorf("ip tokenId: %w", err)
	}
	ip := IP{TokenID: tokenID, Name: r.Name, Description: r.Description, Campaigns: []Campaign{}}
	if r.Campaigns != nil {
		if ip.Campaigns, err = mapCampaigns(r.Campaigns.Items, tokenID); err != nil {
			return IP{}, err
		}
	}
	if details {
		ip.Image = r.Image
		ip.ExternalURL = r.ExternalURL
		ip.Attachments = []Attachment{}
		if r.Attachments != nil {
			if ip.Attachments, err = mapAttachments(r.Attachments.Items); err != nil {
				return IP{}, err
			}
		}
	}
	return ip, nil
}

func (p *Ponder) GetIPList(ctx context.Context, page, pageSize int) ([]IP, error) {
	items, err := p.ips(ctx, map[string]interface{}{
		"limit":          pageSize,
		"offset":         page * pageSize,
		"orderBy":        "tokenId",
		"orderDirection": "asc",
	})
	if err != nil {
		return nil, err
	}
	out := make([]IP, 0, len(items))
	for _, it := range items {
		ip, err := p.toIP(it, false)
		if err != nil {
			return nil, apperr.ErrUpstream.Wrap(err.Error())
		}
		out = append(out, ip)
	}
	return out, nil
}

func (p *Ponder) GetIPDetails(ctx context.Context, tokenID uint64) (*IP, error) {
	items, err := p.ips(ctx, map[string]interface{}{
		"where": map[string]interface{}{"tokenId": strconv.FormatUint(tokenID, 10)},
		"limit": 1,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: tokenId %d", ErrIPNotFound, tokenID)
	}
	ip, err := p.toIP(items[0], true)
	if err != nil {
		return nil, apperr.ErrUpstream.Wrap(err.Error())
	}
	return &ip, nil
}

// GetCampaignDetails finds the campaign whose license is licenseAddress and
// whose IP is tokenID.
func (p *Ponder) GetCampaignDetails(ctx context.Context, tokenID uint64, licenseAddress string) (*Campaign, error) {
	var data struct {
		Campaigns struct {
			Items []rawCampaign `json:"items"`
		} `json:"campaigns"`
	}
	err := p.query(ctx, campaignsQuery, map[string]interface{}{
		"where": map[string]interface{}{"licenseAddress": strings.ToLower(licenseAddress)},
		"limit": 100,
	}, &data)
	if err != nil {
		return nil, err
	}
	for _, r := range data.Campaigns.Items {
		if r.IP == nil {
			continue
		}
		id, err := cast.ToUint64E(r.IP.TokenID)
		if err != nil || id != tokenID {
			continue
		}
		c, err := r.toCampaign(tokenID)
		if err != nil {
			return nil, apperr.ErrUpstream.Wrap(err.Error())
		}
		return &c, nil
	}
	p.logger.Debug("campaign not found", "tokenId", tokenID, "license", licenseAddress)
	return nil, fmt.Errorf("%w: tokenId %d license %s", ErrCampaignNotFound, tokenID, licenseAddress)
}
