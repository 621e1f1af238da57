package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decisionos/internal/okr"
)

func TestAllTemplatesLoad(t *testing.T) {
	ts, err := All()
	require.NoError(t, err)
	require.Len(t, ts, 3)
	assert.Equal(t, []string{"ab_test", "feature", "perf"}, []string{ts[0].Name, ts[1].Name, ts[2].Name})
}

func TestTemplateCriteriaParse(t *testing.T) {
	ab, err := Get("ab_test")
	require.NoError(t, err)
	krs := okr.ParseSuccessCriteria(ab.SuccessCriteria)
	require.Len(t, krs, 3)
	assert.Equal(t, "Checkout conversion", krs[0].Metric)
	assert.Equal(t, "≥ 45%", krs[0].Target)
	require.NotNil(t, krs[0].Baseline)
	assert.Equal(t, "30%", *krs[0].Baseline)
	assert.Equal(t, "< 20%", krs[1].Target)

	perf, err := Get("perf")
	require.NoError(t, err)
	krs = okr.ParseSuccessCriteria(perf.SuccessCriteria)
	require.Len(t, krs, 3)
	assert.Equal(t, "P95 latency", krs[0].Metric)
	assert.Equal(t, "< 200ms", krs[0].Target)
	assert.Nil(t, krs[0].Baseline, "current: is not a baseline")
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("nope")
	assert.Error(t, err)
}
