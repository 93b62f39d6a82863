package keyprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProber_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" || r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"m1","object":"model"},{"id":"m2","object":"model"}]}`))
	}))
	defer srv.Close()

	p := NewProber(time.Second, nil)

	ok := p.Probe(context.Background(), srv.URL+"/v1", "sk-good")
	assert.True(t, ok.Reachable)
	assert.Equal(t, 2, ok.Models)
	assert.Equal(t, []string{"m1", "m2"}, ok.Sample)

	bad := p.Probe(context.Background(), srv.URL+"/v1", "sk-bad")
	assert.False(t, bad.Reachable)
	assert.Contains(t, bad.Error, "401")
}

func TestProber_RejectsEmptyInput(t *testing.T) {
	p := NewProber(0, nil)
	assert.NotEmpty(t, p.Probe(context.Background(), "http://x", "").Error)
	assert.NotEmpty(t, p.Probe(context.Background(), "", "sk").Error)
}
