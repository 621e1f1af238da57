package main

import (
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarks(t *testing.T) {
	marks, err := parseMarks([]string{"0=100", " 2 = 40% "})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 100, 2: 40}, marks)

	for _, bad := range []string{"0", "x=10", "1=101", "1=-5"} {
		_, err := parseMarks([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestSetEnvValueKeepsOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, setEnvValue(path, defaultProjectKey, "proj_1"))
	require.NoError(t, godotenv.Write(map[string]string{defaultProjectKey: "proj_1", "DECISIONOS_JWT_SECRET": "s3cret"}, path))

	require.NoError(t, setEnvValue(path, defaultProjectKey, "proj_2"))
	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "proj_2", env[defaultProjectKey])
	assert.Equal(t, "s3cret", env["DECISIONOS_JWT_SECRET"])
}

func TestCommandTree(t *testing.T) {
	root := rootCmd
	if len(root.Commands()) == 0 {
		registerCommands()
	}
	for _, path := range [][]string{
		{"cycle", "kr", "mark"},
		{"cycle", "evidence", "add"},
		{"project", "config", "import"},
		{"rbac", "bootstrap"},
		{"serve"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
