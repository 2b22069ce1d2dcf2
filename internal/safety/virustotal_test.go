package safety

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVirusTotal(t *testing.T, h http.Handler) *VirusTotal {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewVirusTotal(VirusTotalConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
	}, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestVirusTotalScanFilePollsUntilCompleted(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("x-apikey"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(f)
		assert.Equal(t, "report.pdf", hdr.Filename)
		assert.Equal(t, []byte("%PDF-1.4"), body)
		writeJSON(w, map[string]interface{}{"data": map[string]string{"id": "an-1"}})
	})
	mux.HandleFunc("/analyses/an-1", func(w http.ResponseWriter, r *http.Request) {
		status := "queued"
		if polls.Add(1) >= 3 {
			status = "completed"
		}
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"attributes": map[string]interface{}{
			"status": status,
			"stats":  map[string]int{"malicious": 0, "suspicious": 0, "harmless": 0, "undetected": 65},
		}}})
	})

	vt := newTestVirusTotal(t, mux)
	res, err := vt.ScanFile(context.Background(), "report.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, 65, res.Undetected)
	assert.Equal(t, "file_analysis", res.Source)
	assert.True(t, res.Safe())
	assert.Equal(t, int32(3), polls.Load())
}

func TestVirusTotalScanFileTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]string{"id": "slow"}})
	})
	mux.HandleFunc("/analyses/slow", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"attributes": map[string]interface{}{"status": "queued"}}})
	})

	vt := newTestVirusTotal(t, mux)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := vt.ScanFile(ctx, "a.bin", []byte{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScanUnavailable)
}

func TestVirusTotalCheckURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/domains/evil.example", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"attributes": map[string]interface{}{
			"last_analysis_stats": map[string]int{"malicious": 4, "suspicious": 1, "harmless": 50, "undetected": 10},
		}}})
	})

	vt := newTestVirusTotal(t, mux)
	res, err := vt.CheckURL(context.Background(), "https://Evil.example/login")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Malicious)
	assert.Equal(t, "reputation_check", res.Source)
	assert.False(t, res.Safe())
}

func TestVirusTotalErrorStatus(t *testing.T) {
	vt := newTestVirusTotal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]interface{}{"error": map[string]string{"code": "WrongCredentialsError"}})
	}))

	_, err := vt.CheckURL(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScanUnavailable)
	assert.Contains(t, err.Error(), "401")
}

func TestVirusTotalMalformedResponse(t *testing.T) {
	vt := newTestVirusTotal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	}))

	_, err := vt.CheckURL(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrScanUnavailable)
}
