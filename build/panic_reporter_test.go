package build

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePanicReport(t *testing.T) {
	repo := t.TempDir()

	dir := GeneratePanicReport("", repo, "ursa daemon")
	require.NotEmpty(t, dir)
	require.True(t, strings.HasPrefix(dir, filepath.Join(repo, PanicReportingPath)))
	require.Contains(t, filepath.Base(dir), "report_ursadaemon_")

	for _, f := range []string{"version", "stacktrace.dump", "goroutines.pprof.gz", "heap.pprof.gz"} {
		st, err := os.Stat(filepath.Join(dir, f))
		require.NoError(t, err, f)
		require.NotZero(t, st.Size(), f)
	}

	v, err := os.ReadFile(filepath.Join(dir, "version"))
	require.NoError(t, err)
	require.Equal(t, UserVersion()+"\n", string(v))
}

func TestGeneratePanicReportNeedsPath(t *testing.T) {
	require.Empty(t, GeneratePanicReport("", "", "x"))
}
