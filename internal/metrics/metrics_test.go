package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObservePrediction("Tomato", "Tomato___Early_blight")
	m.ObservePrediction("Tomato", "Tomato___Early_blight")
	m.ObserveInference(StageCrop, 20*time.Millisecond)
	m.RequestError("/predict/", "decode")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.predictions.WithLabelValues("Tomato", "Tomato___Early_blight")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestErrors.WithLabelValues("/predict/", "decode")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.inference))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cropguard_predictions_total"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePrediction("Apple", "Apple___healthy")
		m.ObserveInference(StageDisease, time.Millisecond)
		m.RequestError("/predict/", "internal")
	})
}
