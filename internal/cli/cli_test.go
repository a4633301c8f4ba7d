package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// fakeGemini answers generateContent calls with a fixed reply
type fakeGemini struct {
	*httptest.Server

	mu    sync.Mutex
	paths []string
}

func newFakeGemini(t *testing.T, reply string) *fakeGemini {
	f := &fakeGemini{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"candidates": [{"content": {"role": "model", "parts": [{"text": %q}]}, "finishReason": "STOP"}]}`, reply)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGemini) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// writeTestConfig writes a config file pointing the gemini provider at baseURL
func writeTestConfig(t *testing.T, baseURL string) (string, string) {
	dir := t.TempDir()
	raw, err := json.Marshal(map[string]any{
		"data_dir": dir,
		"providers": map[string]any{
			"gemini": map[string]string{"api_key": "test-key", "base_url": baseURL},
		},
		"gateway": map[string]any{"shared_secret": "cli-test-shared-secret"},
		"logging": map[string]any{"level": "error", "file": filepath.Join(dir, "companion.log")},
	})
	require.NoError(t, err)

	path := filepath.Join(dir, "companion.json")
	require.NoError(t, os.WriteFile(path, raw, 0600))
	return path, dir
}

// resetFlags restores every flag to its default so tests do not leak into each other
func resetFlags() {
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.Flags(), c.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(GetRootCmd())
}

// execute runs the root command with args and returns what it printed
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

func hasCommand(root *cobra.Command, name string) bool {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}
