package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads path on top of DefaultConfig. Files ending in .yaml or .yml are
// YAML; anything else is the keyword format. Warnings report lines of a
// keyword file that were skipped.
func Load(path string) (cfg *Config, warnings []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg = DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, cfg)
	default:
		warnings, err = decodeKeywords(bytes.NewReader(data), cfg)
	}
	if err != nil {
		return nil, warnings, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, warnings, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// decodeKeywords reads "keyword value" lines:
//
//	expectedLines 1000000
//	cooldownMilliseconds 5000
//	fetchesPerDomain 1000
//	activeDomains 1024
//	ignore .jpg
//	fetch http://example.com/
func decodeKeywords(r io.Reader, cfg *Config) ([]string, error) {
	var warnings []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		keyword, value, _ := strings.Cut(line, " ")
		var err error
		switch keyword {
		case "expectedLines":
			cfg.ExpectedLines, err = strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		case "cooldownMilliseconds":
			var ms uint64
			ms, err = strconv.ParseUint(strings.TrimSpace(value), 10, 63)
			cfg.Cooldown = time.Duration(ms) * time.Millisecond
		case "fetchesPerDomain":
			cfg.FetchesPerDomain, err = strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		case "activeDomains":
			cfg.ActiveDomains, err = strconv.Atoi(strings.TrimSpace(value))
		case "ignore":
			// Taken verbatim: a suffix may legitimately contain spaces.
			cfg.Ignore = append(cfg.Ignore, value)
		case "fetch":
			cfg.Fetch = append(cfg.Fetch, strings.TrimSpace(value))
		default:
			warnings = append(warnings, fmt.Sprintf("line %d: unknown config keyword %q", lineNo, keyword))
		}
		if err != nil {
			return warnings, fmt.Errorf("line %d: %s: %w", lineNo, keyword, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return warnings, fmt.Errorf("scan config: %w", err)
	}
	return warnings, nil
}
