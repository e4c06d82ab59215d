package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eigenrisk/internal/modules/covariance"
)

func testLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("A%02d", i)
	}
	return out
}

// factorRows draws obs rows of n returns sharing one market factor.
func factorRows(seed uint64, n, obs int) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	rows := make([][]float64, obs)
	for i := range rows {
		market := rng.NormFloat64()
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = 0.01 * (market + rng.NormFloat64())
		}
	}
	return rows
}

func newTestRouter(profile Profile) http.Handler {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	handler := NewHandler(covariance.NewService(time.Hour, log), profile, log)
	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)
	return router
}

func post(t *testing.T, router http.Handler, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w, response
}

func TestHandleRMT(t *testing.T) {
	router := newTestRouter(nil)

	w, response := post(t, router, "/api/covariance/rmt", map[string]interface{}{
		"labels":  testLabels(10),
		"returns": factorRows(1, 10, 150),
		"options": map[string]interface{}{"eigen_treat": "delete"},
	})

	require.Equal(t, http.StatusOK, w.Code, response)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	data := response["data"].(map[string]interface{})
	assert.Equal(t, "delete", data["eigen_treat"])
	assert.Len(t, data["covariance"], 10)
	assert.NotEmpty(t, data["signal"])

	metadata := response["metadata"].(map[string]interface{})
	assert.NotEmpty(t, metadata["run_id"])
	assert.Equal(t, data["run_id"], metadata["run_id"])
	assert.Equal(t, false, metadata["cached"])
}

func TestHandleRMTSeriesAndPrices(t *testing.T) {
	router := newTestRouter(nil)
	labels := testLabels(6)
	rows := factorRows(2, 6, 80)

	series := map[string][]float64{}
	prices := map[string][]*float64{}
	for j, label := range labels {
		price := 100.0
		prices[label] = []*float64{nil}
		for i := range rows {
			series[label] = append(series[label], rows[i][j])
			p := price
			prices[label] = append(prices[label], &p)
			price *= 1 + rows[i][j]
		}
	}

	w, response := post(t, router, "/api/covariance/rmt", map[string]interface{}{
		"input": "series", "labels": labels, "series": series,
	})
	assert.Equal(t, http.StatusOK, w.Code, response)

	w, response = post(t, router, "/api/covariance/rmt", map[string]interface{}{
		"input": "prices", "labels": labels, "prices": prices,
	})
	assert.Equal(t, http.StatusOK, w.Code, response)
}

func TestHandleSpiked(t *testing.T) {
	router := newTestRouter(nil)

	w, response := post(t, router, "/api/covariance/spiked", map[string]interface{}{
		"labels":  testLabels(12),
		"returns": factorRows(3, 12, 200),
		"options": map[string]interface{}{"norm": "stein", "num_spikes": 1},
	})

	require.Equal(t, http.StatusOK, w.Code, response)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "Stein", data["norm"])
	assert.Equal(t, "fixed", data["method"])
	assert.EqualValues(t, 1, data["spike_count"])
	assert.Len(t, data["shrunk"], 12)
}

func TestHandleSpikedUsesProfile(t *testing.T) {
	router := newTestRouter(stubProfile{spiked: covariance.SpikedOptions{Norm: covariance.Operator, Pivot: 3}})

	w, response := post(t, router, "/api/covariance/spiked", map[string]interface{}{
		"labels":  testLabels(12),
		"returns": factorRows(4, 12, 200),
	})

	require.Equal(t, http.StatusOK, w.Code, response)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "Operator", data["norm"])
	assert.EqualValues(t, 3, data["pivot"])
}

type stubProfile struct {
	rmt    covariance.RMTOptions
	spiked covariance.SpikedOptions
}

func (p stubProfile) RMTOptions() covariance.RMTOptions       { return p.rmt }
func (p stubProfile) SpikedOptions() covariance.SpikedOptions { return p.spiked }

func TestHandlerErrors(t *testing.T) {
	router := newTestRouter(nil)
	labels := testLabels(6)

	tests := []struct {
		name     string
		path     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{
			name:     "malformed json",
			path:     "/api/covariance/rmt",
			body:     `{"labels": [`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_body",
		},
		{
			name:     "missing labels",
			path:     "/api/covariance/rmt",
			body:     map[string]interface{}{"returns": factorRows(5, 6, 40)},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation",
		},
		{
			name:     "duplicate labels",
			path:     "/api/covariance/spiked",
			body:     map[string]interface{}{"labels": []string{"A", "A"}, "returns": factorRows(5, 2, 40)},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation",
		},
		{
			name:     "unknown input",
			path:     "/api/covariance/rmt",
			body:     map[string]interface{}{"input": "csv", "labels": labels},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation",
		},
		{
			name:     "unknown cutoff",
			path:     "/api/covariance/rmt",
			body:     map[string]interface{}{"labels": labels, "returns": factorRows(5, 6, 40), "options": map[string]interface{}{"cutoff": "min"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation",
		},
		{
			name:     "unknown norm",
			path:     "/api/covariance/spiked",
			body:     map[string]interface{}{"labels": labels, "returns": factorRows(5, 6, 40), "options": map[string]interface{}{"norm": "Hellinger"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "config",
		},
		{
			name:     "ragged rows",
			path:     "/api/covariance/rmt",
			body:     map[string]interface{}{"labels": labels, "returns": [][]float64{{1, 2, 3, 4, 5, 6}, {1, 2}}},
			wantCode: http.StatusBadRequest,
			wantErr:  "config",
		},
		{
			name:     "too few observations",
			path:     "/api/covariance/rmt",
			body:     map[string]interface{}{"labels": labels, "returns": factorRows(5, 6, 1)},
			wantCode: http.StatusBadRequest,
			wantErr:  "data",
		},
		{
			name:     "too many labels",
			path:     "/api/covariance/rmt",
			body:     map[string]interface{}{"labels": testLabels(2001), "returns": [][]float64{}},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation",
		},
		{
			name:     "matrix norm pivot out of range",
			path:     "/api/covariance/spiked",
			body:     map[string]interface{}{"labels": labels, "returns": factorRows(5, 6, 40), "options": map[string]interface{}{"norm": "Operator", "pivot": 9}},
			wantCode: http.StatusBadRequest,
			wantErr:  "config",
		},
		{
			name:     "oversized body",
			path:     "/api/covariance/rmt",
			body:     `{"labels": ["` + strings.Repeat("A", maxRequestBytes) + `"]}`,
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "too_large",
		},
		{
			name:     "spike count leaves no bulk",
			path:     "/api/covariance/spiked",
			body:     map[string]interface{}{"labels": labels, "returns": factorRows(5, 6, 40), "options": map[string]interface{}{"num_spikes": 6}},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "degenerate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := post(t, router, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, response)
			detail := response["error"].(map[string]interface{})
			assert.Equal(t, tt.wantErr, detail["code"])
			assert.Contains(t, response, "metadata")
		})
	}
}

func TestHandleLosses(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/covariance/losses", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Data struct {
			Losses []covariance.LossInfo `json:"losses"`
			Count  int                   `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 26, response.Data.Count)
	assert.Len(t, response.Data.Losses, 26)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(covariance.ErrInvalidNorm))
	assert.Equal(t, http.StatusBadRequest, StatusFor(covariance.ErrInsufficientData))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(covariance.ErrFit))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(covariance.ErrNumerical))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(covariance.ErrDegenerateSpike))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}
