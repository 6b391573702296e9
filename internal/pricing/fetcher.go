package pricing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	// ScriptURL may contain a {version} placeholder resolved at fetch
	// time, e.g. .../{version}/scripts/price_script_generic.sh.
	ScriptURL string
	// Checksums maps a script version to its expected hex sha256. Empty
	// map disables integrity checking.
	Checksums map[string]string
	Timeout   time.Duration
}

// ArtifactNotFound is returned when the script URL does not resolve to a
// script for the requested version.
type ArtifactNotFound struct {
	URL     string
	Version string
}

func (e *ArtifactNotFound) Error() string {
	return fmt.Sprintf("pricing: script version %q not found at %s", e.Version, e.URL)
}

// IntegrityError is fatal and never retried: a checksum mismatch cannot
// be fixed by fetching the same artifact again.
type IntegrityError struct {
	Version string
	Want    string
	Got     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("pricing: checksum mismatch for script version %q: want %s, got %s", e.Version, e.Want, e.Got)
}

// ScriptArtifact is a fetched, integrity-checked pricing script.
type ScriptArtifact struct {
	Version string
	URL     string
	Content []byte
	SHA256  string
}

type Fetcher struct {
	config     Config
	httpClient *http.Client
}

func NewFetcher(config Config) *Fetcher {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (f *Fetcher) urlFor(version string) string {
	return strings.ReplaceAll(f.config.ScriptURL, "{version}", version)
}

// Fetch downloads the pricing script for version and verifies its
// checksum when one is configured.
func (f *Fetcher) Fetch(ctx context.Context, version string) (ScriptArtifact, error) {
	url := f.urlFor(version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ScriptArtifact{}, fmt.Errorf("pricing: build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return ScriptArtifact{}, fmt.Errorf("pricing: fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ScriptArtifact{}, &ArtifactNotFound{URL: url, Version: version}
	}
	if resp.StatusCode != http.StatusOK {
		return ScriptArtifact{}, fmt.Errorf("pricing: fetch script: unexpected status code %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return ScriptArtifact{}, fmt.Errorf("pricing: read script body: %w", err)
	}
	if len(content) == 0 {
		return ScriptArtifact{}, &ArtifactNotFound{URL: url, Version: version}
	}

	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])

	if want, ok := f.config.Checksums[version]; ok && !strings.EqualFold(want, digest) {
		return ScriptArtifact{}, &IntegrityError{Version: version, Want: want, Got: digest}
	}

	return ScriptArtifact{
		Version: version,
		URL:     url,
		Content: content,
		SHA256:  digest,
	}, nil
}
