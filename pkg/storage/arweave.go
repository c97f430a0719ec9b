package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	arweaveScheme      = "ar://"
	arweavePublicHost  = "https://arweave.net/"
	DefaultArweaveHost = "https://arweave.net"
)

// Arweave reads permanent blobs through an Arweave gateway. It cannot store
// or delete.
type Arweave struct {
	gateway  string
	client   *http.Client
	attempts int
}

var _ Gateway = (*Arweave)(nil)

func NewArweave(gateway string, timeout time.Duration) *Arweave {
	if strings.TrimSpace(gateway) == "" {
		gateway = DefaultArweaveHost
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Arweave{
		gateway:  strings.TrimRight(gateway, "/"),
		client:   &http.Client{Timeout: timeout},
		attempts: 3,
	}
}

func (a *Arweave) Type() string { return TypeArweave }

func (a *Arweave) Store(ctx context.Context, data []byte, opts StoreOptions) (*StoreResult, error) {
	return nil, fmt.Errorf("%w: arweave storage is read-only", ErrUnsupported)
}

func arweaveTxID(uri string) (string, bool) {
	switch {
	case strings.HasPrefix(uri, arweaveScheme):
		return strings.TrimPrefix(uri, arweaveScheme), true
	case strings.HasPrefix(uri, arweavePublicHost):
		return strings.TrimPrefix(uri, arweavePublicHost), true
	default:
		return "", false
	}
}

func (a *Arweave) Retrieve(ctx context.Context, uri string) (*Object, error) {
	txID, ok := arweaveTxID(uri)
	if !ok || txID == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	target := a.gateway + "/" + txID

	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve data from Arweave: %w", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK && readErr == nil:
			return &Object{Data: body, ContentType: resp.Header.Get("Content-Type"), Size: len(body)}, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, uri)
		case readErr != nil:
			lastErr = readErr
		default:
			lastErr = fmt.Errorf("arweave returned %d", resp.StatusCode)
			if !isRetryableStatus(resp.StatusCode) {
				return nil, fmt.Errorf("failed to retrieve data from Arweave: %w", lastErr)
			}
		}
		if attempt < a.attempts {
			if err := sleepWithContext(ctx, time.Duration(attempt)*200*time.Millisecond); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed to retrieve data from Arweave: %w", lastErr)
}

func (a *Arweave) Exists(ctx context.Context, uri string) (bool, error) {
	if _, ok := arweaveTxID(uri); !ok {
		return false, nil
	}
	obj, err := a.Retrieve(ctx, uri)
	if err != nil {
		return false, nil
	}
	return obj.Size > 0, nil
}

// Delete always reports false: Arweave data is permanent.
func (a *Arweave) Delete(ctx context.Context, uri string) (bool, error) {
	return false, nil
}
