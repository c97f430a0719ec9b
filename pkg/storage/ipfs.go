package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cosmossdk.io/log"
)

const ipfsScheme = "ipfs://"

// IPFS stores blobs through a Kubo node's RPC API.
type IPFS struct {
	base   string
	client *http.Client
	logger log.Logger
}

var _ Gateway = (*IPFS)(nil)

// NewIPFS accepts the API address as a URL or a multiaddr.
func NewIPFS(apiAddr string, timeout time.Duration, logger log.Logger) (*IPFS, error) {
	base, err := HTTPBaseURL(apiAddr)
	if err != nil {
		return nil, fmt.Errorf("ipfs api address: %w", err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &IPFS{
		base:   base,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(log.ModuleKey, "storage-ipfs"),
	}, nil
}

func (g *IPFS) Type() string { return TypeIPFS }

// BaseURL is the resolved RPC base.
func (g *IPFS) BaseURL() string { return g.base }

func (g *IPFS) rpc(ctx context.Context, cmd string, args url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := g.base + "/api/v0/" + cmd
	if len(args) > 0 {
		u += "?" + args.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfs %s: %w", cmd, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ipfs %s returned %d: %s", cmd, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (g *IPFS) Store(ctx context.Context, data []byte, opts StoreOptions) (*StoreResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "blob")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	args := url.Values{"pin": {"true"}, "cid-version": {"1"}}
	resp, err := g.rpc(ctx, "add", args, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, fmt.Errorf("failed to store data to IPFS: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Name string `json:"Name"`
		Hash string `json:"Hash"`
		Size string `json:"Size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ipfs add response: %w", err)
	}
	if out.Hash == "" {
		return nil, fmt.Errorf("ipfs add returned no cid")
	}
	g.logger.Debug("stored blob", "cid", out.Hash, "bytes", len(data))
	return &StoreResult{URI: ipfsScheme + out.Hash, Hash: out.Hash, Size: len(data)}, nil
}

func cidFromURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, ipfsScheme) {
		return "", false
	}
	cid := strings.TrimPrefix(uri, ipfsScheme)
	return cid, cid != ""
}

func (g *IPFS) Retrieve(ctx context.Context, uri string) (*Object, error) {
	cid, ok := cidFromURI(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	resp, err := g.rpc(ctx, "cat", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve data from IPFS: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve data from IPFS: %w", err)
	}
	return &Object{Data: data, ContentType: sniffJSON(data), Size: len(data)}, nil
}

// Exists asks the node for the root block without fetching it from the
// network.
func (g *IPFS) Exists(ctx context.Context, uri string) (bool, error) {
	cid, ok := cidFromURI(uri)
	if !ok {
		return false, nil
	}
	resp, err := g.rpc(ctx, "block/stat", url.Values{"arg": {cid}, "offline": {"true"}}, nil, "")
	if err != nil {
		return false, nil
	}
	_ = resp.Body.Close()
	return true, nil
}

func (g *IPFS) Delete(ctx context.Context, uri string) (bool, error) {
	return false, fmt.Errorf("%w: deletion is not supported for IPFS", ErrUnsupported)
}

// Ping checks the node answers /api/v0/version.
func (g *IPFS) Ping(ctx context.Context) error {
	resp, err := g.rpc(ctx, "version", nil, nil, "")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
