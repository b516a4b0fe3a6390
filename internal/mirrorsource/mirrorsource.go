// Package mirrorsource is the provider-discovery collaborator spec.md
// §6 leaves injected: fetching a mirror list (Auto) or taking one
// verbatim from config (Predefined), with an on-disk sidecar so the
// proxy can start without network. Grounded on
// internal/indexer/newsnab/client.go's HTTP+JSON client shape and
// internal/store/store.go's blobDir-on-disk fallback idiom; the
// sidecar-for-cold-start behavior itself is supplemented from
// original_source/flexo, which the distilled spec only gestures at
// ("a sidecar file stores the last-known ordered provider URI list").
package mirrorsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/flexo-cache/flexo/internal/infra/config"
)

// sidecarName is the file persisted under the cache directory.
const sidecarName = ".mirrors.json"

// mirrorStatusEntry mirrors the shape of Arch Linux's mirror-status JSON
// feed closely enough for Auto selection to parse it; unknown fields are
// ignored.
type mirrorStatusEntry struct {
	URL     string  `json:"url"`
	Country string  `json:"country"`
	Score   float64 `json:"score"`
}

type mirrorStatusDoc struct {
	URLs []mirrorStatusEntry `json:"urls"`
}

// Resolve builds the initial provider list per cfg.MirrorSelectionMethod.
// On Auto, a fetch failure falls back to the sidecar file before giving
// up; on success it refreshes the sidecar for the next cold start.
func Resolve(ctx context.Context, cfg *config.Config, client *http.Client) ([]domain.Provider, error) {
	switch cfg.MirrorSelectionMethod {
	case config.Predefined:
		return predefined(cfg.MirrorsPredefined), nil

	case config.Auto:
		providers, err := fetchAuto(ctx, client, cfg.MirrorStatusURL)
		if err == nil {
			_ = SaveSidecar(cfg.CacheDirectory, providers)
			return providers, nil
		}

		cached, sidecarErr := LoadSidecar(cfg.CacheDirectory)
		if sidecarErr != nil || len(cached) == 0 {
			return nil, fmt.Errorf("fetch mirror status: %w (sidecar fallback also unavailable: %v)", err, sidecarErr)
		}
		return cached, nil

	default:
		return nil, fmt.Errorf("mirrorsource: unknown selection method %q", cfg.MirrorSelectionMethod)
	}
}

func predefined(uris []string) []domain.Provider {
	providers := make([]domain.Provider, 0, len(uris))
	for _, uri := range uris {
		providers = append(providers, domain.Provider{URI: uri, Country: "Unknown"})
	}
	return providers
}

func fetchAuto(ctx context.Context, client *http.Client, statusURL string) ([]domain.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mirror status endpoint returned %d", resp.StatusCode)
	}

	var doc mirrorStatusDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode mirror status: %w", err)
	}

	providers := make([]domain.Provider, 0, len(doc.URLs))
	for _, e := range doc.URLs {
		if e.URL == "" {
			continue
		}
		providers = append(providers, domain.Provider{URI: e.URL, Country: e.Country, Score: e.Score})
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("mirror status endpoint returned no usable mirrors")
	}
	return providers, nil
}

// SaveSidecar persists the current provider order under cacheDir so a
// future cold start can proceed without network.
func SaveSidecar(cacheDir string, providers []domain.Provider) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(providers)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cacheDir, sidecarName), data, 0o644)
}

// LoadSidecar reads the provider list persisted by SaveSidecar.
func LoadSidecar(cacheDir string) ([]domain.Provider, error) {
	data, err := os.ReadFile(filepath.Join(cacheDir, sidecarName))
	if err != nil {
		return nil, err
	}
	var providers []domain.Provider
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}
