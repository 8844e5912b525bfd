package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644))
}

func TestResolve_ImplOverridesRoot(t *testing.T) {
	root := t.TempDir()
	impl := t.TempDir()

	writeEnvFile(t, root, "DATABASE_URL=postgres://root\nJWT_SECRET=shared\n")
	writeEnvFile(t, impl, "DATABASE_URL=postgres://impl\n")

	m := Resolve(root, impl)

	assert.Equal(t, "postgres://impl", m["DATABASE_URL"])
	assert.Equal(t, "shared", m["JWT_SECRET"])
}

func TestResolve_OverridesProcessEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-process")

	root := t.TempDir()
	writeEnvFile(t, root, "JWT_SECRET=from-file\n")

	m := Resolve(root, "")
	assert.Equal(t, "from-file", m["JWT_SECRET"])
}

func TestResolve_MissingFilesAreFine(t *testing.T) {
	t.Setenv("SOME_MARKER", "still-here")

	m := Resolve(t.TempDir(), t.TempDir())
	assert.Equal(t, "still-here", m["SOME_MARKER"])
}

func TestParseFile_SkipsCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, `
# a comment
  # indented comment

KEY=value
NOEQUALS
=novalue
`)

	m := parseFile(filepath.Join(dir, ".env"))

	assert.Equal(t, map[string]string{"KEY": "value"}, m)
}

func TestParseFile_TrimsAndUnquotes(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, `
 SPACED  =  padded value
DOUBLE="quoted value"
SINGLE='single quoted'
MISMATCH="half quoted'
INNER=has "inner" quotes
EQUALS=a=b=c
`)

	m := parseFile(filepath.Join(dir, ".env"))

	assert.Equal(t, "padded value", m["SPACED"])
	assert.Equal(t, "quoted value", m["DOUBLE"])
	assert.Equal(t, "single quoted", m["SINGLE"])
	assert.Equal(t, `"half quoted'`, m["MISMATCH"])
	assert.Equal(t, `has "inner" quotes`, m["INNER"])
	assert.Equal(t, "a=b=c", m["EQUALS"])
}

func TestEnviron(t *testing.T) {
	out := Environ(map[string]string{"A": "1"})
	assert.Equal(t, []string{"A=1"}, out)
}
