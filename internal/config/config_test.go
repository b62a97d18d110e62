package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(100000), cfg.ExpectedLines)
	assert.Equal(t, uint64(1000), cfg.FetchesPerDomain)
	assert.Equal(t, 5*time.Second, cfg.Cooldown)
	assert.Equal(t, 1024, cfg.ActiveDomains)
	assert.Equal(t, 750, cfg.FillThreshold)
	assert.Equal(t, 2000000, int(cfg.MaxResponseBytes))
}

func TestValidate(t *testing.T) {
	t.Run("requires seeds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.OutputDir = t.TempDir()
		assert.ErrorIs(t, cfg.Validate(), ErrNoSeeds)
	})

	t.Run("rejects bad values", func(t *testing.T) {
		for name, mutate := range map[string]func(*Config){
			"active":    func(c *Config) { c.ActiveDomains = 0 },
			"lines":     func(c *Config) { c.ExpectedLines = 0 },
			"cooldown":  func(c *Config) { c.Cooldown = -time.Second },
			"fill":      func(c *Config) { c.FillThreshold = 1001 },
			"rate":      func(c *Config) { c.ResolveRate = -1 },
			"outputdir": func(c *Config) { c.OutputDir = "" },
		} {
			cfg := DefaultConfig()
			cfg.OutputDir = t.TempDir()
			cfg.Fetch = []string{"http://example.com/"}
			mutate(cfg)
			assert.Error(t, cfg.Validate(), name)
		}
	})

	t.Run("clamps and creates output dir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.OutputDir = filepath.Join(t.TempDir(), "nested", "out")
		cfg.Fetch = []string{"http://example.com/"}
		cfg.ActiveDomains = 4
		cfg.MaxResolving = 100
		cfg.PumpPasses = 0

		require.NoError(t, cfg.Validate())
		assert.Equal(t, 4, cfg.MaxResolving)
		assert.Equal(t, 1, cfg.PumpPasses)
		assert.DirExists(t, cfg.OutputDir)
	})
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "crawl.yaml", `
expected_lines: 5000000
fetches_per_domain: 50
cooldown: 250ms
active_domains: 64
resolve_rate: 20
output_dir: /tmp/out
report: crawl.db
ignore: [".jpg", ".png"]
fetch:
  - http://example.com/
  - http://example.org/start
`)
	cfg, warnings, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, uint64(5000000), cfg.ExpectedLines)
	assert.Equal(t, uint64(50), cfg.FetchesPerDomain)
	assert.Equal(t, 250*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, 64, cfg.ActiveDomains)
	assert.Equal(t, 20.0, cfg.ResolveRate)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, "crawl.db", cfg.Report)
	assert.Equal(t, []string{".jpg", ".png"}, cfg.Ignore)
	assert.Equal(t, []string{"http://example.com/", "http://example.org/start"}, cfg.Fetch)
	assert.Equal(t, 750, cfg.FillThreshold, "unset keys keep defaults")
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "crawl.yml", "fetches_per_domian: 3\n")
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg, _, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadKeywords(t *testing.T) {
	path := writeFile(t, "crawl.conf", "expectedLines 2000000\n"+
		"cooldownMilliseconds 1500\r\n"+
		"fetchesPerDomain 20\n"+
		"activeDomains 8\n"+
		"\n"+
		"# comment\n"+
		"ignore .tar.gz\n"+
		"ignore  spaced\n"+
		"bogus 1\n"+
		"fetch http://example.com/\n"+
		"fetch http://example.net/a\n")

	cfg, warnings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(2000000), cfg.ExpectedLines)
	assert.Equal(t, 1500*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, uint64(20), cfg.FetchesPerDomain)
	assert.Equal(t, 8, cfg.ActiveDomains)
	assert.Equal(t, []string{".tar.gz", " spaced"}, cfg.Ignore)
	assert.Equal(t, []string{"http://example.com/", "http://example.net/a"}, cfg.Fetch)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "bogus")
}

func TestLoadKeywordsBadNumber(t *testing.T) {
	_, _, err := Load(writeFile(t, "crawl.conf", "activeDomains lots\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
