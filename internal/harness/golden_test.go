package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edgesync/internal/record"
)

func TestGoldenTraces(t *testing.T) {
	for _, name := range []string{"offline_first", "manual_conflict", "retry_and_cleanup"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalTrace(t *testing.T) {
	r := NewResult()
	r.add(KindSyncStart, record.Obj(record.O("pending", record.Int(2))))
	r.add(KindNetwork, record.Obj(record.O("status", record.String("offline"))))

	out, err := MarshalTrace("demo", r.Trace)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario":"demo"}
{"kind":"sync_start","pending":2,"seq":1}
{"kind":"network","seq":2,"status":"offline"}
`, string(out))
}
