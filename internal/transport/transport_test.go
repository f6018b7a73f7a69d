package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTP() *HTTP {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewHTTP(logger)
}

func TestGet_SendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "get_config", r.URL.Query().Get("operation"))
		assert.Equal(t, "42", r.URL.Query().Get("project_id"))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	body, err := newTestHTTP().Get(context.Background(), srv.URL+"/api/1/", map[string]string{
		"operation":  "get_config",
		"project_id": "42",
	}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestPost_SendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "log_event", r.PostForm.Get("operation"))
		assert.Equal(t, "start_listen", r.PostForm.Get("event_type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestHTTP().Post(context.Background(), srv.URL, map[string]string{
		"operation":  "log_event",
		"event_type": "start_listen",
	}, time.Second)
	require.NoError(t, err)
}

func TestUpload_Multipart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take0.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "add_asset_to_envelope", r.URL.Query().Get("operation"))
		assert.Empty(t, r.URL.Query().Get("envelope_id"), "only operation goes on the query string")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "9", r.FormValue("envelope_id"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data))
		assert.Equal(t, "take0.wav", hdr.Filename)
		fmt.Fprint(w, `{"asset_id":1}`)
	}))
	defer srv.Close()

	body, err := newTestHTTP().Upload(context.Background(), srv.URL, map[string]string{
		"operation":   "add_asset_to_envelope",
		"envelope_id": "9",
	}, "file", path, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(body), "asset_id")
}

func TestUpload_MissingFileIsLocalIO(t *testing.T) {
	_, err := newTestHTTP().Upload(context.Background(), "http://127.0.0.1:1", nil, "file", filepath.Join(t.TempDir(), "gone.wav"), time.Second)
	require.Error(t, err)
	assert.Equal(t, ClassLocalIO, Classify(err))
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		code int
		want Class
	}{
		{http.StatusGatewayTimeout, ClassConnectivity},
		{http.StatusRequestTimeout, ClassConnectivity},
		{http.StatusServiceUnavailable, ClassConnectivity},
		{http.StatusInternalServerError, ClassProtocol},
		{http.StatusNotFound, ClassProtocol},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			_, err := newTestHTTP().Get(context.Background(), srv.URL, nil, time.Second)
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestTimeoutIsConnectivity(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	_, err := newTestHTTP().Get(context.Background(), srv.URL, nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, ClassConnectivity, Classify(err))
}

func TestRefusedIsConnectivity(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = newTestHTTP().Get(context.Background(), "http://"+addr, nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, ClassConnectivity, Classify(err))
}

func TestClassify(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}
	assert.Equal(t, Class(""), Classify(nil))
	assert.Equal(t, ClassParse, Classify(fmt.Errorf("decode: %w", ErrParse)))
	assert.Equal(t, ClassParse, Classify(syntaxErr))
	assert.Equal(t, ClassConnectivity, Classify(&ConnectivityError{Op: "No connectivity"}))
	assert.Equal(t, ClassConnectivity, Classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, ClassConnectivity, Classify(&net.DNSError{Err: "no such host", Name: "x"}))
	assert.Equal(t, ClassUnknown, Classify(errors.New("boom")))
}
