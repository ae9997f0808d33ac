package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/emubridge/hidhost/pkg/hid"
)

func TestRecordTransferLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordTransfer("read", false, 32)
	m.RecordTransfer("read", false, 32)
	m.RecordTransfer("read", true, hid.StatusTimeout)
	m.RecordTransfer("set_report", true, hid.StatusError)

	expected := `
		# HELP hidhost_transfers_total Total number of completed transfer operations by operation, mode and result
		# TYPE hidhost_transfers_total counter
		hidhost_transfers_total{mode="sync",op="read",result="ok"} 2
		hidhost_transfers_total{mode="async",op="read",result="timeout"} 1
		hidhost_transfers_total{mode="async",op="set_report",result="error"} 1
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"hidhost_transfers_total"))
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetAttachedDevices(3)
	m.SetFreeSlots(125)

	expected := `
		# HELP hidhost_attached_devices Number of devices currently attached to the registry
		# TYPE hidhost_attached_devices gauge
		hidhost_attached_devices 3
		# HELP hidhost_free_slots Number of free device slots in the registry pool
		# TYPE hidhost_free_slots gauge
		hidhost_free_slots 125
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"hidhost_attached_devices", "hidhost_free_slots"))
}

func TestResultLabel(t *testing.T) {
	require.Equal(t, "ok", resultLabel(0))
	require.Equal(t, "ok", resultLabel(128))
	require.Equal(t, "timeout", resultLabel(hid.StatusTimeout))
	require.Equal(t, "error", resultLabel(hid.StatusError))
	require.Equal(t, "error", resultLabel(-42))
}
