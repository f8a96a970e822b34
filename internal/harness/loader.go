package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/rpcoracle/pkg/gosource"
	"github.com/715d/rpcoracle/pkg/modelfile"
	"github.com/715d/rpcoracle/pkg/rpcoracle"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// modelFile is the name of a case's type model. Cases without one are Go
// sources.
const modelFile = "model.yaml"

// LoadUniverse builds the universe of a test case and returns its services.
// Go sources default cfg to the synthetic serialization marker.
func LoadUniverse(t *testing.T, root string, tc *TestCase, cfg *rpcoracle.Config) (*typemodel.Universe, []*typemodel.Class) {
	t.Helper()
	dir := filepath.Join(root, tc.Dir)

	modelPath := filepath.Join(dir, modelFile)
	if _, err := os.Stat(modelPath); err == nil {
		m, err := modelfile.Load(modelPath)
		require.NoError(t, err)
		return m.Universe, m.Services
	}

	t.Logf("Loading packages from %q", dir)
	pkgs, err := gosource.LoadPackages(t.Context(), gosource.LoaderOptions{
		Packages: []string{"./..."},
		Dir:      dir,
		Env:      updateEnv(os.Environ(), "CGO_ENABLED", "0"),
	})
	require.NoError(t, err)

	prog, err := gosource.Convert(t.Context(), pkgs, gosource.Options{})
	require.NoError(t, err)
	if len(cfg.Markers) == 0 {
		cfg.Markers = []string{gosource.MarkerName}
	}
	return prog.Universe, prog.Services
}

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	yamlPath := filepath.Join(dir, "expected.yaml")

	tc := &TestCase{}
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	err = yaml.Unmarshal(data, tc)
	require.NoError(t, err)

	relPath, err := filepath.Rel(root, dir)
	if err != nil {
		relPath = filepath.Base(dir)
	}
	tc.Dir = relPath
	return tc
}

// updateEnv updates or adds an environment variable.
func updateEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
