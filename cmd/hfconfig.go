package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	hfConfigFile    = "config.json"
	cacheRootDir    = ".hybrid-sched"
	modelConfigsDir = "model_configs"
	httpTimeout     = 30 * time.Second
)

// hfBaseURL is a variable so tests can point fetches at a local server.
var hfBaseURL = "https://huggingface.co"

// resolveModelConfig finds a HuggingFace config.json for the given model.
// Resolution order: explicit path > cache > HF fetch.
// Returns the path to the config.json file.
func resolveModelConfig(ctx context.Context, model, explicitPath string) (string, error) {
	if explicitPath != "" {
		return explicitPath, nil
	}
	if model == "" {
		return "", nil
	}

	cachePath := filepath.Join(hfCacheDir(cacheModelID(model)), hfConfigFile)
	if _, err := os.Stat(cachePath); err == nil {
		logrus.Infof("--model: using cached config at %s", cachePath)
		return cachePath, nil
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s", hfBaseURL, model, hfConfigFile)
	fetched, err := fetchHFConfigFromURL(ctx, url, cacheModelID(model))
	if err != nil {
		return "", fmt.Errorf(
			"--model: could not find config.json for %q (cache %s): %w. Provide --model-config explicitly",
			model, cachePath, err,
		)
	}
	logrus.Infof("--model: fetched and cached config for %s", model)
	return fetched, nil
}

// fetchHFConfigFromURL fetches config.json from url and caches it.
// Supports HF_TOKEN env var for gated models.
func fetchHFConfigFromURL(ctx context.Context, url, modelID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("not found on HuggingFace (HTTP 404). Check --model spelling. URL: %s", url)
	case http.StatusUnauthorized:
		return "", fmt.Errorf("authentication required (HTTP 401). Set HF_TOKEN env var. URL: %s", url)
	default:
		return "", fmt.Errorf("unexpected HTTP %d from HuggingFace for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	dir := hfCacheDir(modelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, hfConfigFile)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write cache file %s: %w", path, err)
	}
	return path, nil
}

// cacheModelID makes a model name safe for filesystem paths.
func cacheModelID(model string) string {
	return strings.ReplaceAll(model, "/", "-")
}

func hfCacheDir(modelID string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, cacheRootDir, modelConfigsDir, modelID)
}
