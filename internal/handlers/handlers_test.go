package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropguard-api/internal/labels"
	"github.com/Brownie44l1/cropguard-api/internal/metrics"
	"github.com/Brownie44l1/cropguard-api/internal/model/modeltest"
	"github.com/Brownie44l1/cropguard-api/internal/pipeline"
)

type upload struct {
	field, name string
	data        []byte
}

func leafPNG(t *testing.T, red uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{R: red, G: 160, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path string, uploads ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, u := range uploads {
		fw, err := mw.CreateFormFile(u.field, u.name)
		require.NoError(t, err)
		_, err = fw.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newServer(t *testing.T, p *pipeline.Pipeline, maxMB int64) (http.Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	h := NewHandler(p, zap.NewNop(), m, maxMB)
	return h.Routes("*"), m
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/json+problem", rec.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.EqualValues(t, rec.Code, p.Status)
	return p
}

func TestPredict_TomatoEarlyBlight(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Tomato, 1)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict/", upload{"file", "tomato.png", leafPNG(t, 90)}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"crop":"Tomato","disease":"Tomato___Early_blight"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestPredict_WithoutTrailingSlash(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Tomato, 1)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict", upload{"file", "tomato.png", leafPNG(t, 90)}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.JSONEq(t, `{"crop":"Tomato","disease":"Tomato___Early_blight"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict_batch", upload{"files", "a.png", leafPNG(t, 1)}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"crop":"Tomato","disease":"Tomato___Early_blight","file":"a.png"}]`, rec.Body.String())
}

func TestPredict_InvalidImage(t *testing.T) {
	srv, m := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Tomato, 1)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict/", upload{"file", "notes.txt", []byte("not an image")}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "Invalid image", p.Title)
	assert.Contains(t, p.Detail, "notes.txt")

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `cropguard_request_errors_total{endpoint="/predict/",kind="decode"} 1`)
}

func TestPredict_MissingField(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Tomato, 1)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict/", upload{"image", "leaf.png", leafPNG(t, 1)}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing file", decodeProblem(t, rec).Title)
}

func TestPredict_NotMultipart(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Tomato, 1)), 8)

	req := httptest.NewRequest(http.MethodPost, "/predict/", bytes.NewBufferString(`{"image":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Tomato, 1)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPredict_TooLarge(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Tomato, 1)), 1)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict/", upload{"file", "huge.png", make([]byte, 2*MB)}))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Upload too large", decodeProblem(t, rec).Title)
}

func TestPredictBatch_PreservesOrder(t *testing.T) {
	p := pipeline.New(modeltest.ByContent(t), pipeline.WithBatchConcurrency(3))
	srv, _ := newServer(t, p, 8)

	names := []string{"c.png", "a.png", "b.png", "d.png"}
	var uploads []upload
	for i, n := range names {
		uploads = append(uploads, upload{"files", n, leafPNG(t, uint8(i*40))})
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict_batch/", uploads...))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []pipeline.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, len(names))
	for i, n := range names {
		assert.Equal(t, n, got[i].File)
		assert.True(t, labels.Belongs(got[i].Crop, got[i].Disease))
	}
}

func TestPredictBatch_JSONShape(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Potato, 2)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict_batch/",
		upload{"files", "one.png", leafPNG(t, 1)},
		upload{"files", "two.png", leafPNG(t, 2)}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"crop":"Potato","disease":"Potato___Late_blight","file":"one.png"},
		{"crop":"Potato","disease":"Potato___Late_blight","file":"two.png"}
	]`, rec.Body.String())
}

func TestPredictBatch_OneBadImageFailsBatch(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Potato, 0)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict_batch/",
		upload{"files", "good.png", leafPNG(t, 1)},
		upload{"files", "broken.jpg", []byte{0xff, 0xd8, 0xff, 0x00}}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "broken.jpg")
}

func TestPredictBatch_MissingField(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Potato, 0)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/predict_batch/", upload{"file", "one.png", leafPNG(t, 1)}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing files", decodeProblem(t, rec).Title)
}

func TestHealthAndLabels(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Apple, 0)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/labels", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LabelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, labels.Crops(), resp.Crops)
	assert.Len(t, resp.Diseases[labels.Tomato], 10)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newServer(t, pipeline.New(modeltest.Fixed(t, labels.Apple, 0)), 8)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/predict/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
