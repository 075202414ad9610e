package command

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nulzo/model-gateway/internal/buildinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0"}`))
	}))
	defer srv.Close()

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, buildinfo.Version, strings.TrimSpace(out))

	out, err = run(t, "version", "--check", "--release-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "v99.0.0")
	assert.Contains(t, out, "is available")
}

func TestJobsRunRequiresName(t *testing.T) {
	_, err := run(t, "jobs", "run")
	assert.Error(t, err)
}
