package subscriptionsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/worldline-go/klient"
)

// HTTPMirror is the reference RemoteMirror implementation (spec §4.8): a
// folder of objects reachable over HTTP(S), listed with a JSON directory
// endpoint and written/deleted with plain PUT/DELETE, built with klient
// like every other outbound call in the module.
type HTTPMirror struct {
	client *klient.Client
}

// NewHTTPMirror builds an HTTPMirror. proxy/insecureSkipVerify mirror the
// same knobs the LLM provider adapters expose.
func NewHTTPMirror(proxy string, insecureSkipVerify bool) (*HTTPMirror, error) {
	klientOpts := []klient.OptionClientFn{
		klient.WithLogger(slog.Default()),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	}
	if proxy != "" {
		klientOpts = append(klientOpts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		klientOpts = append(klientOpts, klient.WithInsecureSkipVerify(true))
	}

	client, err := klient.New(klientOpts...)
	if err != nil {
		return nil, fmt.Errorf("subscriptionsync: build http mirror client: %w", err)
	}
	return &HTTPMirror{client: client}, nil
}

type listEntry struct {
	Name string `json:"name"`
}

// ListChecksums lists dest and pairs each "NAME.vrkai" object with its
// sibling "NAME.<last8>.checksum" marker (spec §4.8 step 2).
func (m *HTTPMirror) ListChecksums(ctx context.Context, dest string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dest, nil)
	if err != nil {
		return nil, fmt.Errorf("subscriptionsync: build list request: %w", err)
	}

	var entries []listEntry
	if err := m.client.Do(req, func(r *http.Response) error {
		if r.StatusCode == http.StatusNotFound {
			return nil
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return nil
		}
		return json.Unmarshal(body, &entries)
	}); err != nil {
		return nil, fmt.Errorf("subscriptionsync: list %q: %w", dest, err)
	}

	checksums := map[string]string{}
	for _, e := range entries {
		suffix, ok := strings.CutSuffix(e.Name, ".checksum")
		if !ok {
			continue
		}
		idx := strings.LastIndex(suffix, ".")
		if idx < 0 {
			continue
		}
		path := suffix[:idx] + ".vrkai"
		hash := suffix[idx+1:]
		checksums[path] = hash
	}
	return checksums, nil
}

// Upload writes both the VRKai body and its checksum marker object (spec
// §4.8 step 5).
func (m *HTTPMirror) Upload(ctx context.Context, dest, path string, vrkaiBody []byte, checksumSuffix string) error {
	if err := m.put(ctx, dest+"/"+path, vrkaiBody); err != nil {
		return fmt.Errorf("subscriptionsync: upload body %q: %w", path, err)
	}

	checksumName := strings.TrimSuffix(path, ".vrkai") + "." + checksumSuffix + ".checksum"
	if err := m.put(ctx, dest+"/"+checksumName, nil); err != nil {
		return fmt.Errorf("subscriptionsync: upload checksum marker %q: %w", checksumName, err)
	}
	return nil
}

func (m *HTTPMirror) put(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return m.client.Do(req, func(r *http.Response) error { return nil })
}

// DeleteSubtree removes every object under dest (spec §4.8 "Unshare").
func (m *HTTPMirror) DeleteSubtree(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, dest, nil)
	if err != nil {
		return fmt.Errorf("subscriptionsync: build delete request: %w", err)
	}
	if err := m.client.Do(req, func(r *http.Response) error { return nil }); err != nil {
		return fmt.Errorf("subscriptionsync: delete subtree %q: %w", dest, err)
	}
	return nil
}
