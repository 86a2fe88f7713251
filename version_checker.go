package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"sync"
	"time"

	goversion "github.com/hashicorp/go-version"
)

const (
	versionURL          = "https://raw.githubusercontent.com/cwsl/hlbeacon/refs/heads/main/version.go"
	versionCheckTimeout = 10 * time.Second
)

// versionRegex matches the version constant in version.go
var versionRegex = regexp.MustCompile(`const\s+Version\s*=\s*"([^"]+)"`)

// VersionChecker periodically fetches the released version from GitHub and
// logs when an update is available
type VersionChecker struct {
	interval time.Duration

	mu     sync.RWMutex
	latest string

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewVersionChecker creates a checker polling at the given interval
func NewVersionChecker(interval time.Duration) *VersionChecker {
	return &VersionChecker{
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Latest returns the most recently fetched released version, or empty when
// none has been fetched yet
func (vc *VersionChecker) Latest() string {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.latest
}

// fetchLatestVersion fetches version.go from GitHub and extracts the version
func fetchLatestVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", versionURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("hlbeacon/%s", Version))

	client := &http.Client{Timeout: versionCheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch version file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if m := versionRegex.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read version file: %w", err)
	}

	return "", fmt.Errorf("version constant not found")
}

// check fetches the latest version and compares it semantically with the
// running one
func (vc *VersionChecker) check() {
	latest, err := fetchLatestVersion()
	if err != nil {
		log.Printf("Version check: %v", err)
		return
	}

	vc.mu.Lock()
	vc.latest = latest
	vc.mu.Unlock()

	current, err := goversion.NewVersion(Version)
	if err != nil {
		log.Printf("Version check: invalid running version %q: %v", Version, err)
		return
	}
	remote, err := goversion.NewVersion(latest)
	if err != nil {
		log.Printf("Version check: invalid released version %q: %v", latest, err)
		return
	}

	if remote.GreaterThan(current) {
		log.Printf("Version check: update available: %s (running %s)", latest, Version)
	}
}

// Start begins periodic version checking
func (vc *VersionChecker) Start() {
	vc.wg.Add(1)
	go func() {
		defer vc.wg.Done()

		vc.check()

		ticker := time.NewTicker(vc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				vc.check()
			case <-vc.stopChan:
				return
			}
		}
	}()

	log.Printf("Version checker started (interval=%v)", vc.interval)
}

// Stop stops the checker
func (vc *VersionChecker) Stop() {
	vc.stopOnce.Do(func() { close(vc.stopChan) })
	vc.wg.Wait()
}
