package attrsession

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	var m Metrics

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				m.Inc(MetricSaved)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), m.Value(MetricSaved))
	assert.Zero(t, m.Value(MetricDeleted))

	m.Inc(metricIDCount)
	assert.Zero(t, m.Value(metricIDCount))

	snap := m.Snapshot()
	assert.Len(t, snap, int(metricIDCount))
	assert.Equal(t, uint64(8000), snap["saved"])
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.Inc(MetricOpened)
	assert.Zero(t, m.Value(MetricOpened))
}

func TestMetricID_String(t *testing.T) {
	assert.Equal(t, "signature_invalid", MetricSignatureInvalid.String())
	assert.Equal(t, "unknown", MetricID(200).String())
}

func TestManager_Stats(t *testing.T) {
	mgr := newTestManager(t, Config{})

	s := mgr.Open(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("user", "alice")
	cookie := saveAndCookie(t, mgr, s)
	mgr.Open(requestWithCookie(cookie))

	stats := mgr.Stats()
	assert.Equal(t, uint64(2), stats["opened"])
	assert.Equal(t, uint64(1), stats["created"])
	assert.Equal(t, uint64(1), stats["saved"])
}
