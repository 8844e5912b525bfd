package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Resolve merges the process environment with optional .env overlays: first
// the root-level file, then the per-implementation file, the latter winning
// on conflict. Missing files are fine, the resolver just uses what exists.
func Resolve(rootDir, implDir string) map[string]string {
	merged := make(map[string]string)

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}

	for _, dir := range []string{rootDir, implDir} {
		if dir == "" {
			continue
		}
		overlay := parseFile(filepath.Join(dir, ".env"))
		for k, v := range overlay {
			merged[k] = v
		}
	}

	return merged
}

// Environ flattens a resolved environment into the KEY=VALUE form expected
// by exec.Cmd.
func Environ(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// parseFile reads one .env file into a map. Blank lines and comments are
// skipped, values split on the first '=', and a single matching pair of
// surrounding quotes is stripped.
func parseFile(path string) map[string]string {
	out := make(map[string]string)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Could not read %s", path)
		}
		return out
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = unquote(strings.TrimSpace(value))
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == last && (first == '"' || first == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
