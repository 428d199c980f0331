package marketdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadPriceCache reads a price cache from disk. The path may be a single JSON
// file mapping ticker to bar array, or a directory of TICKER.json files each
// holding one ticker's bar array.
func LoadPriceCache(path string) (map[string][]Bar, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("price cache %s: %w", path, err)
	}
	if info.IsDir() {
		return loadPriceCacheDir(path)
	}
	return loadPriceCacheFile(path)
}

func loadPriceCacheFile(path string) (map[string][]Bar, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-provided cache path
	if err != nil {
		return nil, fmt.Errorf("reading price cache: %w", err)
	}
	var cache map[string][]Bar
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing price cache %s: %w", path, err)
	}
	return cache, nil
}

func loadPriceCacheDir(dir string) (map[string][]Bar, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading price cache dir: %w", err)
	}

	cache := make(map[string][]Bar)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ticker := strings.TrimSuffix(entry.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) // #nosec G304 -- listed file
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		var bars []Bar
		if err := json.Unmarshal(data, &bars); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		cache[ticker] = bars
	}
	if len(cache) == 0 {
		return nil, fmt.Errorf("price cache dir %s holds no ticker files", dir)
	}
	return cache, nil
}
