package middleware

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoBook отвечает телом запроса, обёрнутым в JSON, или 204 на пустой запрос.
func echoBook(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if len(body) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ct := r.URL.Query().Get("ct")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write([]byte(`{"echo":` + string(body) + `}`))
}

func gzipBytes(t *testing.T, s string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		body           string
		compressBody   bool
		acceptEncoding string
		wantStatus     int
		wantEncoding   string
		wantBody       string
	}{
		{
			name:           "json response compressed",
			target:         "/api/books",
			body:           `{"title":"Dune"}`,
			acceptEncoding: "gzip, deflate",
			wantStatus:     http.StatusOK,
			wantEncoding:   "gzip",
			wantBody:       `{"echo":{"title":"Dune"}}`,
		},
		{
			name:         "client without gzip gets plain body",
			target:       "/api/books",
			body:         `{"title":"Dune"}`,
			wantStatus:   http.StatusOK,
			wantEncoding: "",
			wantBody:     `{"echo":{"title":"Dune"}}`,
		},
		{
			name:           "compressed request body",
			target:         "/api/books",
			body:           `{"bookId":42}`,
			compressBody:   true,
			acceptEncoding: "gzip",
			wantStatus:     http.StatusOK,
			wantEncoding:   "gzip",
			wantBody:       `{"echo":{"bookId":42}}`,
		},
		{
			name:           "deflate only client",
			target:         "/api/books",
			body:           `{"title":"Dune"}`,
			acceptEncoding: "deflate",
			wantStatus:     http.StatusOK,
			wantEncoding:   "deflate",
			wantBody:       `{"echo":{"title":"Dune"}}`,
		},
		{
			name:           "binary content type left alone",
			target:         "/api/books?ct=application/octet-stream",
			body:           `1`,
			acceptEncoding: "gzip",
			wantStatus:     http.StatusOK,
			wantEncoding:   "",
			wantBody:       `{"echo":1}`,
		},
		{
			name:           "no content is not compressed",
			target:         "/api/user/transactions",
			acceptEncoding: "gzip",
			wantStatus:     http.StatusNoContent,
			wantEncoding:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			if tt.compressBody {
				body = gzipBytes(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, tt.target, body)
			if tt.compressBody {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rec := httptest.NewRecorder()

			GzipMiddleware(http.HandlerFunc(echoBook)).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))

			var reader io.Reader = res.Body
			switch res.Header.Get("Content-Encoding") {
			case "gzip":
				gr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer gr.Close()
				reader = gr
			case "deflate":
				fr := flate.NewReader(res.Body)
				defer fr.Close()
				reader = fr
			}
			got, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(got))
		})
	}
}

func TestGzipMiddlewareRejectsBrokenBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/books", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(echoBook)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
