package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAudit(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestAuditDisabledIsNoop(t *testing.T) {
	require.NoError(t, InitAudit(""))
	assert.False(t, AuditEnabled())
	Audit("rpt_1").ReportStarted("json", 1)
}

func TestAuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAudit(path))
	t.Cleanup(CloseAudit)
	require.True(t, AuditEnabled())

	a := Audit("rpt_abc")
	a.ReportStarted("json", 2)
	a.SourceFetched("sales", "file", 3, 1.5, nil)
	a.SourceFetched("crm", "request", 0, 2, errors.New("unexpected status 500"))
	a.ReportFinished("json", 0, "", 4, errors.New("boom"))
	CloseAudit()
	assert.False(t, AuditEnabled())

	events := readAudit(t, path)
	require.Len(t, events, 4)

	assert.Equal(t, "report_started", events[0]["event"])
	assert.Equal(t, "rpt_abc", events[0]["report_id"])
	assert.EqualValues(t, 2, events[0]["num_sources"])
	assert.NotEmpty(t, events[0]["ts"])

	assert.Equal(t, "source_fetched", events[1]["event"])
	assert.Equal(t, "sales", events[1]["target"])
	assert.Equal(t, true, events[1]["success"])
	assert.EqualValues(t, 3, events[1]["rows"])

	assert.Equal(t, "source_failed", events[2]["event"])
	assert.Equal(t, "unexpected status 500", events[2]["error"])

	assert.Equal(t, "report_failed", events[3]["event"])
	assert.Equal(t, false, events[3]["success"])
}

func TestAuditLoggingAfterCloseIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAudit(path))
	Audit("rpt_1").ReportSaved("out.json", 10, nil)
	CloseAudit()
	Audit("rpt_1").ReportSaved("out.json", 10, nil)

	assert.Len(t, readAudit(t, path), 1)
}
