package build

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var panicLog = logging.Logger("panic-reporter")

// PanicReportingPath is the name of the subdir created within the repoPath
// path provided to GeneratePanicReport
var PanicReportingPath = "panic-reports"

// GeneratePanicReport produces a timestamped dump of the application state
// for inspection and debugging purposes. `persistPath`, if set, is where
// the report is saved; otherwise it goes under `repoPath`. `label` is an
// optional string to include next to the report timestamp.
//
// It returns the report directory, or "" if none was written.
func GeneratePanicReport(persistPath, repoPath, label string) string {
	// make sure we always dump the latest logs on the way out
	// especially since we're probably panicking
	defer panicLog.Sync() //nolint:errcheck

	if persistPath == "" && repoPath == "" {
		panicLog.Warn("missing persist and repo paths, aborting panic report creation")
		return ""
	}

	reportPath := filepath.Join(repoPath, PanicReportingPath, generateReportName(label))
	if persistPath != "" {
		reportPath = filepath.Join(persistPath, generateReportName(label))
	}
	panicLog.Warnf("generating panic report at %s", reportPath)

	if err := os.MkdirAll(reportPath, 0755); err != nil {
		panicLog.Error(err.Error())
		return ""
	}

	writeFile(filepath.Join(reportPath, "version"), []byte(UserVersion()+"\n"))
	writeFile(filepath.Join(reportPath, "stacktrace.dump"), debug.Stack())
	writeProfile("goroutine", filepath.Join(reportPath, "goroutines.pprof.gz"))
	writeProfile("heap", filepath.Join(reportPath, "heap.pprof.gz"))
	return reportPath
}

func writeFile(file string, data []byte) {
	if err := os.WriteFile(file, data, 0644); err != nil {
		panicLog.Error(err.Error())
	}
}

func writeProfile(profileType string, file string) {
	p := pprof.Lookup(profileType)
	if p == nil {
		panicLog.Warnf("%s profile not available", profileType)
		return
	}
	f, err := os.Create(file)
	if err != nil {
		panicLog.Error(err.Error())
		return
	}
	defer f.Close() //nolint:errcheck

	if err := p.WriteTo(f, 0); err != nil {
		panicLog.Error(err.Error())
	}
}

func generateReportName(label string) string {
	label = strings.ReplaceAll(label, " ", "")
	return fmt.Sprintf("report_%s_%s", label, time.Now().Format("2006-01-02T150405"))
}
