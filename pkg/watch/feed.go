package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/hotworker/pkg/log"
	"github.com/cuemby/hotworker/pkg/metrics"
	"github.com/cuemby/hotworker/pkg/types"
)

// feedCircuitFailureThreshold is the number of consecutive poll failures
// that trips the breaker open.
const feedCircuitFailureThreshold = 5

// feedCircuitCooldown is how long the breaker stays open before the next
// poll attempt is allowed through.
const feedCircuitCooldown = 5 * time.Minute

// feedEntry is one candidate package the poller has decided to download:
// an id plus the version found via the registration listing.
type feedEntry struct {
	ID      string
	Version string
}

// searchResponse is the shape of GET {feed}/query?q=<term>&take=<N>.
type searchResponse struct {
	Data []searchHit `json:"data"`
}

type searchHit struct {
	ID string `json:"id"`
}

// registrationIndex is the shape of GET {feed}/registration/<id>/index.json:
// a paged listing of catalog entries, each page listing its entries inline
// under "items". Pages and entries within a page are in ascending version
// order, so the last catalogEntry seen across all pages is the latest
// version.
type registrationIndex struct {
	Items []registrationPage `json:"items"`
}

type registrationPage struct {
	Items []registrationLeaf `json:"items"`
}

type registrationLeaf struct {
	CatalogEntry catalogEntry `json:"catalogEntry"`
}

type catalogEntry struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// FeedPoller periodically queries a remote package feed over HTTP and
// downloads archives for packages whose version has advanced since the
// last poll. A circuit breaker suspends polling after consecutive
// transport failures, so an unreachable feed doesn't spin the poll loop
// or spam logs.
type FeedPoller struct {
	feedURL      string
	username     string
	password     string
	interval     time.Duration
	filters      []string
	downloadDir  string

	httpClient *http.Client
	out        chan<- types.Artifact

	mu             sync.Mutex
	lastVersion    map[string]string
	consecutiveErr int
	circuitOpenAt  time.Time

	cancel context.CancelFunc
}

// NewFeedPoller builds a FeedPoller. filters, if non-empty, is used as the
// set of search terms passed to the feed's query endpoint in place of a
// single unfiltered search; an empty filters list searches for everything.
func NewFeedPoller(feedURL, username, password string, interval time.Duration, filters []string, downloadDir string, out chan<- types.Artifact) *FeedPoller {
	return &FeedPoller{
		feedURL:     feedURL,
		username:    username,
		password:    password,
		interval:    interval,
		filters:     filters,
		downloadDir: downloadDir,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		out:         out,
		lastVersion: make(map[string]string),
	}
}

// Start begins polling on a ticker until ctx is cancelled or Stop is called.
func (p *FeedPoller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
		log.WithComponent("watch.feed").Warn().Err(err).Msg("failed to create download directory")
	}

	go p.loop(runCtx)
}

// Stop cancels the poll loop.
func (p *FeedPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *FeedPoller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(1 * time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-cleanup.C:
			p.cleanupStaleDownloads()
		}
	}
}

func (p *FeedPoller) circuitOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.circuitOpenAt.IsZero() {
		return false
	}
	if time.Since(p.circuitOpenAt) < feedCircuitCooldown {
		return true
	}
	// Cooldown elapsed: close the breaker and start counting afresh.
	p.circuitOpenAt = time.Time{}
	p.consecutiveErr = 0
	metrics.FeedCircuitOpen.Set(0)
	return false
}

func (p *FeedPoller) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consecutiveErr >= feedCircuitFailureThreshold {
		metrics.FeedCircuitOpen.Set(0)
	}
	p.consecutiveErr = 0
	p.circuitOpenAt = time.Time{}
}

func (p *FeedPoller) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveErr++
	if p.consecutiveErr >= feedCircuitFailureThreshold && p.circuitOpenAt.IsZero() {
		p.circuitOpenAt = time.Now()
		metrics.FeedCircuitOpen.Set(1)
		log.WithComponent("watch.feed").Warn().
			Int("consecutive_failures", p.consecutiveErr).
			Msg("feed circuit opened, suspending polls")
	}
}

func (p *FeedPoller) pollOnce(ctx context.Context) {
	logger := log.WithComponent("watch.feed")

	if p.circuitOpen() {
		metrics.FeedPollsTotal.WithLabelValues("circuit_open").Inc()
		return
	}

	ids, err := p.discoverPackageIDs(ctx)
	if err != nil {
		metrics.FeedPollsTotal.WithLabelValues("error").Inc()
		p.recordFailure()
		logger.Warn().Err(err).Msg("feed search failed")
		return
	}
	p.recordSuccess()
	metrics.FeedPollsTotal.WithLabelValues("ok").Inc()

	for _, id := range ids {
		version, err := p.latestVersion(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str("package", id).Msg("registration lookup failed")
			continue
		}
		if version == "" {
			continue
		}

		p.mu.Lock()
		last := p.lastVersion[id]
		advanced := last != version
		if advanced {
			p.lastVersion[id] = version
		}
		p.mu.Unlock()
		if !advanced {
			continue
		}

		e := feedEntry{ID: id, Version: version}
		localPath, err := p.download(ctx, e)
		if err != nil {
			logger.Warn().Err(err).Str("package", id).Msg("artifact download failed")
			continue
		}

		metrics.ArtifactsDownloadedTotal.Inc()
		p.out <- types.Artifact{
			ID:           e.ID,
			Version:      e.Version,
			LocalPath:    localPath,
			DiscoveredAt: time.Now(),
			FromFeed:     true,
		}
	}
}

// discoverPackageIDs runs one query?q=&take= search per configured filter
// term (or a single unfiltered search when none are configured) and returns
// the distinct package ids found.
func (p *FeedPoller) discoverPackageIDs(ctx context.Context) ([]string, error) {
	terms := p.filters
	if len(terms) == 0 {
		terms = []string{""}
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, term := range terms {
		hits, err := p.search(ctx, term)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if _, ok := seen[h.ID]; ok {
				continue
			}
			seen[h.ID] = struct{}{}
			ids = append(ids, h.ID)
		}
	}
	return ids, nil
}

func (p *FeedPoller) search(ctx context.Context, term string) ([]searchHit, error) {
	u := fmt.Sprintf("%s/query?q=%s&take=50", strings.TrimRight(p.feedURL, "/"), url.QueryEscape(term))
	var sr searchResponse
	found, err := p.getJSONAllowMissing(ctx, u, &sr)
	if err != nil || !found {
		// A 404 means no packages, not a failure.
		return nil, err
	}
	return sr.Data, nil
}

// latestVersion fetches GET {feed}/registration/<id>/index.json and returns
// the newest version listed, or "" if the package has no registration
// (e.g. it was removed from the feed between the search and this call).
func (p *FeedPoller) latestVersion(ctx context.Context, id string) (string, error) {
	lowerID := strings.ToLower(id)
	u := fmt.Sprintf("%s/registration/%s/index.json", strings.TrimRight(p.feedURL, "/"), lowerID)

	var idx registrationIndex
	found, err := p.getJSONAllowMissing(ctx, u, &idx)
	if err != nil || !found {
		return "", err
	}

	var latest string
	for _, page := range idx.Items {
		for _, leaf := range page.Items {
			if leaf.CatalogEntry.Version != "" {
				latest = leaf.CatalogEntry.Version
			}
		}
	}
	return latest, nil
}

// getJSON performs an authenticated GET and decodes a 200 response into v.
func (p *FeedPoller) getJSON(ctx context.Context, rawURL string, v interface{}) error {
	found, err := p.getJSONAllowMissing(ctx, rawURL, v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: not found", rawURL)
	}
	return nil
}

// getJSONAllowMissing performs an authenticated GET and decodes a 200
// response into v. A 404 is not an error: it reports found=false so the
// caller can treat "nothing there yet" differently from a transport
// failure, without tripping the circuit breaker.
func (p *FeedPoller) getJSONAllowMissing(ctx context.Context, rawURL string, v interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err
	}
	if p.username != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s: status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", rawURL, err)
	}
	return true, nil
}

// download fetches GET {feed}/flatcontainer/<id>/<ver>/<id>.<ver>.zip and
// stages it under ARTIFACTORY_DOWNLOAD_PATH/<id>/<ver>/<id>.<ver>.zip —
// dot-separated filename, matching the flat-container layout, not the
// hyphen-separated naming an id/version pair might otherwise suggest.
func (p *FeedPoller) download(ctx context.Context, e feedEntry) (string, error) {
	lowerID := strings.ToLower(e.ID)
	lowerVer := strings.ToLower(e.Version)
	downloadURL := fmt.Sprintf("%s/flatcontainer/%s/%s/%s.%s.zip",
		strings.TrimRight(p.feedURL, "/"), lowerID, lowerVer, lowerID, lowerVer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	if p.username != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	destDir := filepath.Join(p.downloadDir, e.ID, e.Version)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, fmt.Sprintf("%s.%s.zip", e.ID, e.Version))

	f, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}
	return destPath, nil
}

// cleanupStaleDownloads removes downloaded package directories untouched
// for more than 24h, so a long-running worker doesn't accumulate every
// version it has ever seen on disk.
func (p *FeedPoller) cleanupStaleDownloads() {
	logger := log.WithComponent("watch.feed")
	entries, err := os.ReadDir(p.downloadDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, pkgDir := range entries {
		pkgPath := filepath.Join(p.downloadDir, pkgDir.Name())
		versions, err := os.ReadDir(pkgPath)
		if err != nil {
			continue
		}
		for _, v := range versions {
			vPath := filepath.Join(pkgPath, v.Name())
			info, err := v.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.RemoveAll(vPath); err != nil {
					logger.Warn().Err(err).Str("path", vPath).Msg("failed to clean up stale download")
				}
			}
		}
	}
}
