package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestCheckDependenciesReportsAllMissing(t *testing.T) {
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "missing-registry.json")

	missing := checkDependencies("definitely-not-a-real-interpreter", filepath.Join(dir, "missing-script.py"), registryPath)
	require.Len(t, missing, 3)
}

func TestCheckDependenciesPassesWhenEverythingPresent(t *testing.T) {
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(registryPath, []byte(`{"gpuModels":{"models":[]}}`), 0o644))

	script := filepath.Join(dir, "adapter.py")
	require.NoError(t, os.WriteFile(script, []byte("# stand-in adapter\n"), 0o644))

	missing := checkDependencies("sh", script, registryPath)
	require.Empty(t, missing)
}

func TestEnvDurationSecondsUsesOverride(t *testing.T) {
	t.Setenv("TEST_DURATION_SECONDS", "30")
	require.Equal(t, 30*time.Second, envDurationSeconds("TEST_DURATION_SECONDS", 60*time.Second))
}

func TestEnvDurationSecondsFallsBackOnInvalidValue(t *testing.T) {
	originalLog := log
	defer func() { log = originalLog }()
	testLog := logrus.New()
	testLog.SetOutput(os.Stderr)
	log = testLog

	t.Setenv("TEST_DURATION_SECONDS", "not-a-number")
	require.Equal(t, 60*time.Second, envDurationSeconds("TEST_DURATION_SECONDS", 60*time.Second))
}

func TestEnvDurationSecondsFallsBackWhenUnset(t *testing.T) {
	require.Equal(t, 60*time.Second, envDurationSeconds("TEST_DURATION_SECONDS_UNSET", 60*time.Second))
}

func TestInitialModelIDEmptyWithNoArgs(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	os.Args = []string{"embedworker"}
	require.Equal(t, "", initialModelID())
}

func TestInitialModelIDReturnsFirstArg(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	os.Args = []string{"embedworker", "org/some-embedding-model"}
	require.Equal(t, "org/some-embedding-model", initialModelID())
}

func TestJoinComma(t *testing.T) {
	require.Equal(t, "", joinComma(nil))
	require.Equal(t, "a", joinComma([]string{"a"}))
	require.Equal(t, "a, b, c", joinComma([]string{"a", "b", "c"}))
}
