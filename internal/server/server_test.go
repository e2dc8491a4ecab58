package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

type fakeAlbum struct {
	id     uuid.UUID
	err    error
	assets []entity.PhotoAsset
}

func (f *fakeAlbum) Accept(a entity.PhotoAsset) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.assets = append(f.assets, a)
	return f.id, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

func upload(t *testing.T, router http.Handler, fields map[string]string, photo []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", "receipt.png")
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/photos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadPhoto(t *testing.T) {
	gin.SetMode(gin.TestMode)
	album := &fakeAlbum{id: uuid.New()}
	reports := NewReportStore(0)
	router := New(album, reports, 1<<20, nil).Router()

	w := upload(t, router, map[string]string{"user_id": "alice", "group_key": "g1"}, pngBytes(t))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, album.id.String(), resp["submission_id"])

	require.Len(t, album.assets, 1)
	assert.Equal(t, "alice", album.assets[0].Submitter)
	assert.Equal(t, "g1", album.assets[0].GroupKey)
	assert.Equal(t, "image/png", album.assets[0].MimeType)

	upload(t, router, map[string]string{"user_id": "alice", "group_key": "g1"}, pngBytes(t))
	rep, ok := reports.Get(album.id)
	require.True(t, ok)
	assert.Equal(t, constants.SubmissionPending, rep.Status)
	assert.Equal(t, 2, rep.Photos)
}

func TestUploadPhotoRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		fields map[string]string
		photo  []byte
		max    int64
		err    error
		code   int
	}{
		{name: "missing user", fields: map[string]string{}, photo: []byte{0x89}, code: http.StatusBadRequest},
		{name: "missing photo", fields: map[string]string{"user_id": "alice"}, code: http.StatusBadRequest},
		{name: "not an image", fields: map[string]string{"user_id": "alice"}, photo: []byte("hello"), code: http.StatusBadRequest},
		{name: "too large", fields: map[string]string{"user_id": "alice"}, photo: bytes.Repeat([]byte{1}, 64), max: 16, code: http.StatusBadRequest},
		{name: "buffer closed", fields: map[string]string{"user_id": "alice"}, err: common.ErrBufferClosed, code: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			photo := tt.photo
			if photo == nil && tt.err != nil {
				photo = pngBytes(t)
			}
			album := &fakeAlbum{id: uuid.New(), err: tt.err}
			router := New(album, nil, tt.max, nil).Router()
			w := upload(t, router, tt.fields, photo)
			assert.Equal(t, tt.code, w.Code)
			assert.Empty(t, album.assets)
		})
	}
}

func TestGetSubmission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reports := NewReportStore(0)
	id := uuid.New()
	reports.Record(entity.SubmissionReport{SubmissionID: id, Submitter: "alice", Status: constants.SubmissionPartial, Items: 3})
	router := New(&fakeAlbum{}, reports, 0, nil).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/submissions/"+id.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got entity.SubmissionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, constants.SubmissionPartial, got.Status)
	assert.Equal(t, 3, got.Items)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/submissions/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/submissions/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(&fakeAlbum{}, nil, 0, nil)
	router := s.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	s.SetReady(false)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReportStore(t *testing.T) {
	s := NewReportStore(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	s.Record(entity.SubmissionReport{SubmissionID: a, Status: constants.SubmissionPersisted})
	s.Record(entity.SubmissionReport{SubmissionID: a, Status: constants.SubmissionQueued})
	got, _ := s.Get(a)
	assert.Equal(t, constants.SubmissionPersisted, got.Status)

	s.Pending(b, "bob")
	s.Record(entity.SubmissionReport{SubmissionID: b, Status: constants.SubmissionQueued, Photos: 1})
	s.Pending(b, "bob")
	got, _ = s.Get(b)
	assert.Equal(t, constants.SubmissionQueued, got.Status)
	assert.Equal(t, 1, got.Photos)

	s.Record(entity.SubmissionReport{SubmissionID: c, Status: constants.SubmissionFailed})
	_, ok := s.Get(a)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}
