package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/annotator/internal/annotate"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/metadata"
	"github.com/lehigh-university-libraries/annotator/internal/models"
	"github.com/lehigh-university-libraries/annotator/internal/storage"
)

type fakeAnnotator struct {
	result models.AnnotationResult
	err    error
	calls  atomic.Int32
}

func (f *fakeAnnotator) Annotate(ctx context.Context, data []byte) (models.AnnotationResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 40), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newTestHandler(t *testing.T, a annotate.Annotator) (*Handler, storage.Store) {
	t.Helper()
	store := storage.New()
	h := New(Options{
		Store:       store,
		Annotator:   a,
		UploadDir:   t.TempDir(),
		MaxUploadMB: 1,
	})
	return h, store
}

var sampleResult = models.AnnotationResult{
	Description:     "собака рядом с человеком",
	DetectedObjects: models.SingleObject("собака, человек"),
	Text:            "hello world",
}

func TestHandleInference(t *testing.T) {
	h, _ := newTestHandler(t, &fakeAnnotator{result: sampleResult})

	rr := httptest.NewRecorder()
	h.HandleInference(rr, multipartRequest(t, "/upload/", "image", "a.png", testPNG(t)))

	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "собака рядом с человеком", got["description"])
	assert.Equal(t, "собака, человек", got["detected_objects"])
	assert.Equal(t, "hello world", got["text"])
}

func TestHandleInferenceMetadataVariant(t *testing.T) {
	h, _ := newTestHandler(t, &fakeAnnotator{result: sampleResult})

	rr := httptest.NewRecorder()
	h.HandleInference(rr, multipartRequest(t, "/upload/?variant=metadata", "file", "a.png", testPNG(t)))

	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, metadata.CombinedBlock(sampleResult), got["metadata"])
}

func TestHandleInferenceErrors(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		err      error
		noImage  bool
		wantCode int
	}{
		{name: "invalid image", err: fmt.Errorf("decode: %w", inference.ErrInvalidImage), wantCode: http.StatusBadRequest},
		{name: "service unavailable", err: fmt.Errorf("caption: %w", inference.ErrServiceUnavailable), wantCode: http.StatusServiceUnavailable},
		{name: "other failure", err: fmt.Errorf("boom"), wantCode: http.StatusInternalServerError},
		{name: "missing image", noImage: true, wantCode: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, wantCode: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &fakeAnnotator{err: tt.err})

			var req *http.Request
			switch {
			case tt.method != "":
				req = httptest.NewRequest(tt.method, "/upload/", nil)
			case tt.noImage:
				req = multipartRequest(t, "/upload/", "other", "a.png", testPNG(t))
			default:
				req = multipartRequest(t, "/upload/", "image", "a.png", testPNG(t))
			}

			rr := httptest.NewRecorder()
			h.HandleInference(rr, req)
			assert.Equal(t, tt.wantCode, rr.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleInferenceTooLarge(t *testing.T) {
	h, _ := newTestHandler(t, &fakeAnnotator{result: sampleResult})

	rr := httptest.NewRecorder()
	h.HandleInference(rr, multipartRequest(t, "/upload/", "image", "a.png", make([]byte, 2*1024*1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestCreateImage(t *testing.T) {
	annotator := &fakeAnnotator{result: sampleResult}
	h, store := newTestHandler(t, annotator)
	data := testPNG(t)

	rr := httptest.NewRecorder()
	h.HandleImages(rr, multipartRequest(t, "/api/images/", "image", "photo.png", data))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var record models.ImageRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &record))
	assert.True(t, record.Annotated)
	assert.Equal(t, sampleResult, record.Annotation)
	assert.Equal(t, "png", record.Format)
	assert.Equal(t, 8, record.Width)
	assert.Equal(t, 6, record.Height)
	assert.Equal(t, filepath.Join(h.uploadDir, filepath.Base(record.ImagePath)), record.ImagePath)
	assert.Equal(t, "/static/uploads/"+filepath.Base(record.ImagePath), record.ImageURL)
	assert.Equal(t, ".png", filepath.Ext(record.ImagePath))

	stored, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleResult, stored.Annotation)

	description, err := metadata.ReadDescription(record.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, metadata.CombinedBlock(sampleResult), description)
	assert.Equal(t, int32(1), annotator.calls.Load())
}

func TestCreateImageSameContentConcurrently(t *testing.T) {
	h, store := newTestHandler(t, &fakeAnnotator{result: sampleResult})
	data := testPNG(t)

	requests := make([]*http.Request, 4)
	for i := range requests {
		requests[i] = multipartRequest(t, "/api/images/", "image", "photo.png", data)
	}

	var wg sync.WaitGroup
	codes := make([]int, len(requests))
	for i, req := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := httptest.NewRecorder()
			h.HandleImages(rr, req)
			codes[i] = rr.Code
		}()
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusCreated, code, "upload %d", i)
	}

	records, total, err := store.List(context.Background(), storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	for _, r := range records {
		assert.Equal(t, records[0].ImagePath, r.ImagePath)
	}

	description, err := metadata.ReadDescription(records[0].ImagePath)
	require.NoError(t, err)
	assert.Equal(t, metadata.CombinedBlock(sampleResult), description)

	entries, err := os.ReadDir(h.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestCreateImageRemoteUnavailable(t *testing.T) {
	inferenceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer inferenceServer.Close()

	h, store := newTestHandler(t, annotate.NewRemoteClient(inferenceServer.URL+"/upload/", 5*time.Second))

	rr := httptest.NewRecorder()
	h.HandleImages(rr, multipartRequest(t, "/api/images/", "image", "photo.png", testPNG(t)))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body struct {
		Error  string             `json:"error"`
		Record models.ImageRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Inference service unavailable", body.Error)
	require.NotEmpty(t, body.Record.ID)

	stored, err := store.Get(context.Background(), body.Record.ID)
	require.NoError(t, err)
	assert.False(t, stored.Annotated)
	assert.Empty(t, stored.Annotation.Description)

	_, err = os.Stat(stored.ImagePath)
	assert.NoError(t, err, "uploaded file should be kept")
}

func TestCreateImageRejectsInvalidImage(t *testing.T) {
	annotator := &fakeAnnotator{result: sampleResult}
	h, store := newTestHandler(t, annotator)

	rr := httptest.NewRecorder()
	h.HandleImages(rr, multipartRequest(t, "/api/images/", "image", "notes.txt", []byte("not an image")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, int32(0), annotator.calls.Load())

	_, total, err := store.List(context.Background(), storage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestCreateImageFromURL(t *testing.T) {
	data := testPNG(t)
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer imageServer.Close()

	h, _ := newTestHandler(t, &fakeAnnotator{result: sampleResult})

	req := httptest.NewRequest(http.MethodPost, "/api/images/",
		bytes.NewBufferString(fmt.Sprintf(`{"image_url": %q}`, imageServer.URL+"/scan.png")))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.HandleImages(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var record models.ImageRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &record))
	assert.Equal(t, ".png", filepath.Ext(record.ImagePath))
}

func seedRecords(t *testing.T, store storage.Store) []*models.ImageRecord {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	annotations := []models.AnnotationResult{
		{Description: "кошка на диване", DetectedObjects: models.ObjectList{"кошка", "диван"}, Text: "No text detected"},
		{Description: "собака в парке", DetectedObjects: models.ObjectList{"собака"}, Text: "park rules"},
		{Description: "пустая комната", DetectedObjects: models.ObjectList{"No objects detected"}, Text: "No text detected"},
	}

	var records []*models.ImageRecord
	for i, a := range annotations {
		record := &models.ImageRecord{
			ID:         fmt.Sprintf("rec-%d", i),
			ImagePath:  fmt.Sprintf("uploads/%d.png", i),
			ImageURL:   fmt.Sprintf("/static/uploads/%d.png", i),
			UploadDate: base.AddDate(0, 0, i),
		}
		require.NoError(t, store.Create(ctx, record))
		require.NoError(t, store.SetAnnotation(ctx, record.ID, a))
		records = append(records, record)
	}
	return records
}

func TestListImages(t *testing.T) {
	tests := []struct {
		name      string
		query     url.Values
		wantCount int
		wantIDs   []string
	}{
		{name: "all newest first", query: url.Values{}, wantCount: 3, wantIDs: []string{"rec-2", "rec-1", "rec-0"}},
		{name: "exact description", query: url.Values{"description": {"собака в парке"}}, wantCount: 1, wantIDs: []string{"rec-1"}},
		{name: "exact objects", query: url.Values{"detected_objects": {"кошка, диван"}}, wantCount: 1, wantIDs: []string{"rec-0"}},
		{name: "search text", query: url.Values{"search": {"PARK"}}, wantCount: 1, wantIDs: []string{"rec-1"}},
		{name: "uploaded after", query: url.Values{"uploaded_after": {"2024-03-02T00:00:00Z"}}, wantCount: 2, wantIDs: []string{"rec-2", "rec-1"}},
		{name: "uploaded before date", query: url.Values{"uploaded_before": {"2024-03-02"}}, wantCount: 2, wantIDs: []string{"rec-1", "rec-0"}},
		{name: "paged", query: url.Values{"page": {"2"}, "page_size": {"2"}}, wantCount: 3, wantIDs: []string{"rec-0"}},
	}

	h, store := newTestHandler(t, &fakeAnnotator{})
	seedRecords(t, store)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.HandleImages(rr, httptest.NewRequest(http.MethodGet, "/api/images/?"+tt.query.Encode(), nil))
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			var got listResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			assert.Equal(t, tt.wantCount, got.Count)

			var ids []string
			for _, r := range got.Results {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestListImagesBadQuery(t *testing.T) {
	h, _ := newTestHandler(t, &fakeAnnotator{})

	for _, q := range []string{"page=0", "page_size=abc", "uploaded_after=yesterday"} {
		rr := httptest.NewRecorder()
		h.HandleImages(rr, httptest.NewRequest(http.MethodGet, "/api/images/?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestGetAndDeleteImage(t *testing.T) {
	h, store := newTestHandler(t, &fakeAnnotator{})
	seedRecords(t, store)

	rr := httptest.NewRecorder()
	h.HandleImages(rr, httptest.NewRequest(http.MethodGet, "/api/images/rec-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var record models.ImageRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &record))
	assert.Equal(t, "собака в парке", record.Annotation.Description)

	rr = httptest.NewRecorder()
	h.HandleImages(rr, httptest.NewRequest(http.MethodDelete, "/api/images/rec-1", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.HandleImages(rr, httptest.NewRequest(http.MethodGet, "/api/images/rec-1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.HandleImages(rr, httptest.NewRequest(http.MethodDelete, "/api/images/rec-1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExportImagesCSV(t *testing.T) {
	h, store := newTestHandler(t, &fakeAnnotator{})
	seedRecords(t, store)

	rr := httptest.NewRecorder()
	h.HandleImages(rr, httptest.NewRequest(http.MethodGet, "/api/images/export?format=csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "images.csv")

	rows, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"ID", "Upload Date", "Description", "Detected Objects", "Text"}, rows[0])
}

func TestExportImagesUnknownFormat(t *testing.T) {
	h, _ := newTestHandler(t, &fakeAnnotator{})

	rr := httptest.NewRecorder()
	h.HandleImages(rr, httptest.NewRequest(http.MethodGet, "/api/images/export?format=xlsx", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleStatic(t *testing.T) {
	h, _ := newTestHandler(t, &fakeAnnotator{})
	data := testPNG(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.uploadDir, "abc.png"), data, 0644))

	rr := httptest.NewRecorder()
	h.HandleStatic(rr, httptest.NewRequest(http.MethodGet, "/static/uploads/abc.png", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, data, rr.Body.Bytes())

	rr = httptest.NewRecorder()
	h.HandleStatic(rr, httptest.NewRequest(http.MethodGet, "/static/uploads/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/static/uploads/abc.png", nil)
	req.URL.Path = "/static/uploads/../secret"
	h.HandleStatic(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRoutes(t *testing.T) {
	h, _ := newTestHandler(t, &fakeAnnotator{result: sampleResult})
	server := httptest.NewServer(h.Routes(true))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthcheck")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/images/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
