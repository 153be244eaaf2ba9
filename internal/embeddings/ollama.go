package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

type ollamaProvider struct {
	host  string
	model string
	dims  int
	http  *http.Client
}

func newOllamaFromEnv() Provider {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		return nil
	}
	model := os.Getenv("OLLAMA_EMBEDDINGS_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}
	dims := 768
	if v := strings.TrimSpace(os.Getenv("OLLAMA_EMBEDDINGS_DIMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dims = n
		}
	}

	// Default to 60s to tolerate cold model loads. OLLAMA_HTTP_TIMEOUT accepts
	// a Go duration ("60s") or plain seconds ("60").
	timeout := 60 * time.Second
	if v := strings.TrimSpace(os.Getenv("OLLAMA_HTTP_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		} else if n, err2 := strconv.Atoi(v); err2 == nil {
			timeout = time.Duration(n) * time.Second
		}
	}

	return &ollamaProvider{host: host, model: model, dims: dims, http: &http.Client{Timeout: timeout}}
}

func (p *ollamaProvider) Name() string    { return "ollama" }
func (p *ollamaProvider) Dimensions() int { return p.dims }

func (p *ollamaProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	base, err := url.Parse(p.host)
	if err != nil {
		return nil, err
	}
	embedURL := *base
	embedURL.Path = path.Join(embedURL.Path, "/api/embed")
	body, _ := json.Marshal(map[string]any{"model": p.model, "input": inputs})

	doPost := func(u string, payload []byte) (*http.Response, error) {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Content-Type", "application/json")
		return p.http.Do(req)
	}

	resp, err := doPost(embedURL.String(), body)
	if err != nil {
		// One retry on timeout: the first call often pays for a model load.
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			resp, err = doPost(embedURL.String(), body)
		}
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	// Older servers only have the single-input /api/embeddings endpoint.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		return p.embedLegacy(ctx, base, inputs)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var b struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		if b.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", b.Error)
		}
		return nil, fmt.Errorf("ollama http status: %s", resp.Status)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(inputs))
	}
	return out.Embeddings, nil
}

func (p *ollamaProvider) embedLegacy(ctx context.Context, base *url.URL, inputs []string) ([][]float32, error) {
	legacyURL := *base
	legacyURL.Path = path.Join(legacyURL.Path, "/api/embeddings")
	results := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		body, _ := json.Marshal(map[string]any{"model": p.model, "prompt": in})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, legacyURL.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.http.Do(req)
		if err != nil {
			return nil, err
		}
		var single struct {
			Embedding []float64 `json:"embedding"`
		}
		derr := json.NewDecoder(resp.Body).Decode(&single)
		resp.Body.Close()
		if derr != nil {
			return nil, derr
		}
		if len(single.Embedding) == 0 {
			return nil, fmt.Errorf("ollama returned no embedding")
		}
		results = append(results, f64to32(single.Embedding))
	}
	return results, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
