package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const probeTimeout = 2 * time.Second

type statusResponse struct {
	Version       string            `json:"version"`
	GitSHA        string            `json:"git_sha"`
	BuildTime     string            `json:"build_time"`
	ListeningAddr string            `json:"listening_addr"`
	Backends      map[string]string `json:"backends"`
	Capabilities  map[string]bool   `json:"capabilities"`
	Dependencies  map[string]bool   `json:"deps"`
}

func buildInfo() (version, gitSHA, buildTime string) {
	version = "dev"
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return
	}
	if info.Main.Version != "" {
		version = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			gitSHA = setting.Value
		case "vcs.time":
			buildTime = setting.Value
		}
	}
	return
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	version, gitSHA, buildTime := buildInfo()
	status := statusResponse{
		Version:       version,
		GitSHA:        gitSHA,
		BuildTime:     buildTime,
		ListeningAddr: s.opts.ListenAddr,
		Backends:      s.opts.Backends,
		Capabilities: map[string]bool{
			"ip_metadata":           true,
			"swap_quote":            true,
			"payment_authorization": true,
			"encrypted_attachments": true,
			"capture":               s.d.Captures != nil,
			"admin":                 s.d.Captures != nil && s.opts.AdminToken != "",
		},
		Dependencies: s.probe(r.Context()),
	}
	if status.Backends == nil {
		status.Backends = map[string]string{"indexer": s.d.Indexer.Type()}
	}
	writeJSON(w, http.StatusOK, status)
}

// probe runs every dependency check concurrently.
func (s *Server) probe(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(s.d.Probes))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for name, p := range s.d.Probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			ok := p(pctx)
			mu.Lock()
			out[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// PingURL probes url with a GET; any 2xx or 3xx answer counts as reachable.
func PingURL(url string) Probe {
	return func(ctx context.Context) bool {
		if strings.TrimSpace(url) == "" {
			return false
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		client := http.Client{Timeout: probeTimeout}
		res, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = res.Body.Close()
		return res.StatusCode >= 200 && res.StatusCode < 400
	}
}

// PingErr adapts an error-returning health check.
func PingErr(check func(ctx context.Context) error) Probe {
	return func(ctx context.Context) bool { return check(ctx) == nil }
}
