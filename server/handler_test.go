package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/krau/signtagger/config"
	"github.com/krau/signtagger/service"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubModel struct {
	scores []float32
	err    error
}

func (m *stubModel) Forward(service.Tensor) ([]float32, error) {
	return m.scores, m.err
}

var signWords = []string{"HELLO", "THANKS", "YES"}

func newTestServer(t *testing.T, cfg config.Config, m service.Model) http.Handler {
	t.Helper()
	opts := service.Options{ImageSize: 8, Layout: config.LayoutNHWC, Threshold: 0.6}
	p, err := service.NewPipeline(m, signWords, opts)
	require.NoError(t, err)
	return New(cfg, p).Handler()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := range 10 {
		for x := range 20 {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 100, B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, "sign.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, path string, v any) *http.Request {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPredictMultipart(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		scores   []float32
		wantWord string
		wantConf float32
	}{
		{name: "confident", field: "file", scores: []float32{0.1, 0.85, 0.05}, wantWord: "THANKS", wantConf: 0.85},
		{name: "uncertain", field: "file", scores: []float32{0.4, 0.45, 0.15}, wantWord: service.WordUncertain, wantConf: 0.45},
		{name: "image field", field: "image", scores: []float32{0.9, 0.05, 0.05}, wantWord: "HELLO", wantConf: 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, config.Default(), &stubModel{scores: tt.scores})
			rec := serve(h, multipartRequest(t, tt.field, pngBytes(t)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp PredictionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tt.wantWord, resp.PredictedWord)
			require.Equal(t, tt.wantConf, resp.Confidence)
			require.Equal(t, statusSuccess, resp.Status)
			require.NotEmpty(t, resp.Timestamp)
			require.Empty(t, resp.AllPredictions)
		})
	}
}

func TestPredictWithScores(t *testing.T) {
	scores := []float32{0.1, 0.85, 0.05}
	h := newTestServer(t, config.Default(), &stubModel{scores: scores})
	req := multipartRequest(t, "file", pngBytes(t))
	req.URL.RawQuery = "scores=true"

	rec := serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, scores, resp.AllPredictions)
}

func TestPredictRejectsBadUploads(t *testing.T) {
	h := newTestServer(t, config.Default(), &stubModel{scores: []float32{1, 0, 0}})

	rec := serve(h, multipartRequest(t, "file", []byte("just some text, not a picture")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, statusError, resp.Status)
	require.Contains(t, resp.Message, "must be an image")

	rec = serve(h, multipartRequest(t, "other", pngBytes(t)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	truncated := pngBytes(t)[:40]
	rec = serve(h, multipartRequest(t, "file", truncated))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictBase64(t *testing.T) {
	h := newTestServer(t, config.Default(), &stubModel{scores: []float32{0.1, 0.85, 0.05}})
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t))

	t.Run("data url keeps session", func(t *testing.T) {
		rec := serve(h, jsonRequest(t, "/api/predict-base64", PredictionRequest{
			Image:     "data:image/png;base64," + encoded,
			SessionID: "abc",
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp PredictionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "THANKS", resp.PredictedWord)
		require.Equal(t, "abc", resp.SessionID)
	})

	t.Run("raw base64 gets session", func(t *testing.T) {
		rec := serve(h, jsonRequest(t, "/api/predict-base64", PredictionRequest{Image: encoded}))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp PredictionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		_, err := uuid.Parse(resp.SessionID)
		require.NoError(t, err)
	})

	t.Run("empty image", func(t *testing.T) {
		rec := serve(h, jsonRequest(t, "/api/predict-base64", PredictionRequest{}))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not base64", func(t *testing.T) {
		rec := serve(h, jsonRequest(t, "/api/predict-base64", PredictionRequest{Image: "%%%"}))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/predict-base64", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(h, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPredictPipelineFailures(t *testing.T) {
	t.Run("runtime error", func(t *testing.T) {
		h := newTestServer(t, config.Default(), &stubModel{err: errors.New("session run failed")})
		rec := serve(h, multipartRequest(t, "file", pngBytes(t)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Contains(t, resp.Message, "session run failed")
	})

	t.Run("label mismatch", func(t *testing.T) {
		h := newTestServer(t, config.Default(), &stubModel{scores: []float32{0, 0, 0, 1}})
		rec := serve(h, multipartRequest(t, "file", pngBytes(t)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Contains(t, rec.Body.String(), "out of range")
	})

	t.Run("not loaded", func(t *testing.T) {
		h := New(config.Default(), &service.Pipeline{}).Handler()
		rec := serve(h, multipartRequest(t, "file", pngBytes(t)))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestCatalogEndpoints(t *testing.T) {
	h := newTestServer(t, config.Default(), &stubModel{scores: []float32{1, 0, 0}})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/words", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var words WordsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &words))
	require.Equal(t, signWords, words.Words)
	require.Equal(t, 3, words.Count)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/model-info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info ModelInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.True(t, info.ModelLoaded)
	require.Equal(t, 3, info.LabelCount)
	require.Equal(t, 8, info.ImageSize)
	require.Equal(t, float32(0.6), info.Threshold)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, config.Default(), &stubModel{scores: []float32{1, 0, 0}})
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, statusHealthy, resp.Status)
	require.True(t, resp.ModelLoaded)

	rec = serve(New(config.Default(), &service.Pipeline{}).Handler(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var root RootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	require.False(t, root.ModelLoaded)
	require.Equal(t, Version, root.Version)
}

func TestTokenAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Token = "s3cret"
	h := newTestServer(t, cfg, &stubModel{scores: []float32{1, 0, 0}})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/words", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/words", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/words", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, serve(h, req).Code)

	// health stays public
	require.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestUploadLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxUploadMB = 1
	h := newTestServer(t, cfg, &stubModel{scores: []float32{1, 0, 0}})

	big := append(pngBytes(t), make([]byte, 2<<20)...)
	rec := serve(h, multipartRequest(t, "file", big))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = serve(h, jsonRequest(t, "/api/predict-base64", PredictionRequest{
		Image: base64.StdEncoding.EncodeToString(big),
	}))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPixelLimit(t *testing.T) {
	h := newTestServer(t, config.Default(), &stubModel{scores: []float32{1, 0, 0}})
	bomb := hugePNG(t, 12000, 12000)

	rec := serve(h, multipartRequest(t, "file", bomb))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Message, "too large")

	rec = serve(h, jsonRequest(t, "/api/predict-base64", PredictionRequest{
		Image: base64.StdEncoding.EncodeToString(bomb),
	}))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	cfg := config.Default()
	cfg.MaxPixels = 100
	h = newTestServer(t, cfg, &stubModel{scores: []float32{1, 0, 0}})
	rec = serve(h, multipartRequest(t, "file", pngBytes(t)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, config.Default(), &stubModel{scores: []float32{1, 0, 0}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := serve(h, req)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	cfg := config.Default()
	cfg.AllowOrigins = []string{"http://app.example"}
	h = newTestServer(t, cfg, &stubModel{scores: []float32{1, 0, 0}})
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://app.example")
	rec = serve(h, req)
	require.Equal(t, "http://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
