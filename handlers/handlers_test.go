package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-wardrobe/images"
	"github.com/nvr-ai/go-wardrobe/inference"
	"github.com/nvr-ai/go-wardrobe/models/garment"
	"github.com/nvr-ai/go-wardrobe/models/pose"
)

type fakeClassifier struct {
	err error
}

func (f *fakeClassifier) Predict(image.Image) (garment.Result, error) {
	if f.err != nil {
		return garment.Result{}, f.err
	}
	return garment.ResultForIndex(10)
}

func (f *fakeClassifier) Close() error { return nil }

type panicService struct{ Service }

func (panicService) EstimatePose([]byte) ([]pose.KeypointSet, error) { panic("boom") }

func newEngine(t *testing.T, model pose.Model, loadErr error, classifierErr error) *inference.Engine {
	t.Helper()
	logger := zaptest.NewLogger(t)
	engine := inference.NewEngineBuilder(logger).
		WithPoseEstimator(pose.NewEstimator(model, loadErr, logger)).
		WithClassifier(&fakeClassifier{err: classifierErr}).
		MustBuild()
	t.Cleanup(func() { engine.Close() })
	return engine
}

func grayJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func upload(t *testing.T, path, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "upload.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestTestRoute(t *testing.T) {
	h := NewHandler(newEngine(t, &pose.StaticModel{}, nil, nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Server is running.", body["message"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestPredictKeypoints(t *testing.T) {
	model := &pose.StaticModel{Sets: []pose.KeypointSet{{{X: 10, Y: 20}, {X: 30.5, Y: 40}}}}
	h := NewHandler(newEngine(t, model, nil, nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, upload(t, "/predict", FileField, grayJPEG(t, 500, 500)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PoseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Keypoints, 1)
	assert.Equal(t, pose.Keypoint{X: 30.5, Y: 40}, resp.Keypoints[0][1])
	assert.JSONEq(t, `{"keypoints":[[[10,20],[30.5,40]]]}`, rec.Body.String())
}

func TestPredictNobody(t *testing.T) {
	h := NewHandler(newEngine(t, &pose.StaticModel{}, nil, nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, upload(t, "/predict", FileField, grayJPEG(t, 64, 64)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keypoints":[]}`, rec.Body.String())
}

func TestPredictCorruptImage(t *testing.T) {
	model := &pose.StaticModel{}
	h := NewHandler(newEngine(t, model, nil, nil), 1<<20, zaptest.NewLogger(t)).Routes()

	corrupt := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	rec, body := serve(t, h, upload(t, "/predict", FileField, corrupt))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Error decoding image", body["error"])
	assert.Contains(t, body["detail"], "decoding")
	assert.Equal(t, int64(0), model.Calls())
}

func TestPredictUnavailable(t *testing.T) {
	h := NewHandler(newEngine(t, nil, errors.New("weights missing"), nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec, body := serve(t, h, upload(t, "/predict", FileField, grayJPEG(t, 32, 32)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Model unavailable", body["error"])
	assert.Contains(t, body["detail"], "weights missing")
}

func TestPredictEstimationFailure(t *testing.T) {
	model := &pose.StaticModel{Err: errors.New("runtime exploded")}
	h := NewHandler(newEngine(t, model, nil, nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec, body := serve(t, h, upload(t, "/predict", FileField, grayJPEG(t, 32, 32)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error during pose estimation", body["error"])
	assert.Contains(t, body["detail"], "runtime exploded")
}

func TestPredictMissingField(t *testing.T) {
	h := NewHandler(newEngine(t, &pose.StaticModel{}, nil, nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec, body := serve(t, h, upload(t, "/predict", "image", grayJPEG(t, 8, 8)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing file", body["error"])
}

func TestUploadTooLarge(t *testing.T) {
	h := NewHandler(newEngine(t, &pose.StaticModel{}, nil, nil), 64, zaptest.NewLogger(t)).Routes()

	rec, _ := serve(t, h, upload(t, "/classify", FileField, grayJPEG(t, 256, 256)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestClassify(t *testing.T) {
	h := NewHandler(newEngine(t, &pose.StaticModel{}, nil, nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, upload(t, "/classify", FileField, grayJPEG(t, 300, 200)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"label":"Dress","garment_class":"C"}`, rec.Body.String())
}

func TestClassifyPredictionFailure(t *testing.T) {
	engine := newEngine(t, &pose.StaticModel{}, nil, &garment.PredictionError{Err: errors.New("nan logits")})
	h := NewHandler(engine, 1<<20, zaptest.NewLogger(t)).Routes()

	rec, body := serve(t, h, upload(t, "/classify", FileField, grayJPEG(t, 16, 16)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error during garment prediction", body["error"])
	assert.Contains(t, body["detail"], "nan logits")
}

func TestHealthAndStats(t *testing.T) {
	h := NewHandler(newEngine(t, nil, errors.New("x"), nil), 1<<20, zaptest.NewLogger(t)).Routes()

	rec, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["pose_available"])

	rec, body = serve(t, h, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "sessions")
}

func TestPreflight(t *testing.T) {
	h := NewHandler(newEngine(t, &pose.StaticModel{}, nil, nil), 1<<20, nil).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/predict", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRequestIDPropagates(t *testing.T) {
	h := NewHandler(newEngine(t, &pose.StaticModel{}, nil, nil), 1<<20, nil).Routes()
	id := "0b6f1c8e-8a53-4c1c-9d4e-2f1f3c3f2b10"

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}

func TestRecoverFromPanic(t *testing.T) {
	h := NewHandler(panicService{}, 1<<20, zaptest.NewLogger(t)).Routes()

	rec, body := serve(t, h, upload(t, "/predict", FileField, grayJPEG(t, 8, 8)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal error", body["error"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(inference.Classify(&images.DecodeError{Reason: "x"})))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(inference.KindUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(inference.KindEstimation))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(inference.KindInternal))
	assert.Equal(t, http.StatusOK, StatusFor(inference.KindNone))
}

var _ Service = (*inference.Engine)(nil)
