package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "showsched/internal/log"
	"showsched/internal/model"
)

// cacheEntry holds HTTP cache metadata for a single work URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// workDocument is the content API's JSON shape for a creative work.
type workDocument struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Runtime      json.RawMessage    `json:"runtime"`
	Type         string             `json:"type"`
	ColorPalette model.ColorPalette `json:"color_palette"`
	Poster       struct {
		ColorPalette model.ColorPalette `json:"color_palette"`
	} `json:"poster"`
	Gallery []struct {
		ColorPalette model.ColorPalette `json:"color_palette"`
	} `json:"gallery"`
}

// Fetcher resolves works from the content API with HTTP caching
// (ETag / Last-Modified) and a disk-backed cache used when the API is
// unreachable.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	cacheDir string
}

// NewFetcher creates a Fetcher for baseURL. Works are fetched from
// {baseURL}/works/{id}. cacheDir holds one subdirectory per work URL.
func NewFetcher(baseURL, cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Development runs without root permissions.
		cacheDir = "./var/metadata-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
	}
}

// Resolve implements Resolver.
func (f *Fetcher) Resolve(ctx context.Context, workID string) (model.Work, error) {
	if workID == "" {
		return model.Work{}, ErrUnknownWork
	}
	body, err := f.fetch(ctx, f.baseURL+"/works/"+url.PathEscape(workID))
	if err != nil {
		return model.Work{}, err
	}
	return decodeWork(workID, body)
}

func (f *Fetcher) fetch(ctx context.Context, u string) ([]byte, error) {
	cachePath := f.cachePathForURL(u)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return nil, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("metadata fetch network error, using cached body", err, "url", u)
			return cachedBody, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return nil, readErr
		}
		newMeta := cacheEntry{
			URL:          u,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("metadata cache save failed", err, "url", u)
		}
		appLog.Debug("metadata fetch success", "url", u, "status", resp.StatusCode)
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		return cachedBody, nil

	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownWork, u)

	default:
		if len(cachedBody) > 0 {
			appLog.Error("metadata fetch non-OK, using cached body", errors.New(resp.Status), "url", u, "status", resp.StatusCode)
			return cachedBody, nil
		}
		return nil, errors.New(resp.Status)
	}
}

func decodeWork(workID string, body []byte) (model.Work, error) {
	var doc workDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.Work{}, fmt.Errorf("decode work %s: %w", workID, err)
	}
	w := model.Work{
		ID:            doc.ID,
		Title:         doc.Title,
		Runtime:       rawRuntime(doc.Runtime),
		Type:          doc.Type,
		Palette:       doc.ColorPalette,
		PosterPalette: doc.Poster.ColorPalette,
	}
	if w.ID == "" {
		w.ID = workID
	}
	for _, g := range doc.Gallery {
		if !g.ColorPalette.IsZero() {
			w.GalleryPalettes = append(w.GalleryPalettes, g.ColorPalette)
		}
	}
	return w, nil
}

// rawRuntime accepts both JSON numbers and strings.
func rawRuntime(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.json"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
