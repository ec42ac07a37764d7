package textextract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tagcache/internal/profile"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "http://localhost:9998", config.TikaServerURL)
	assert.Positive(t, config.Timeout)
}

func TestConfigFromProfile(t *testing.T) {
	config := ConfigFromProfile(&profile.Profile{TikaServerURL: "http://tika:9998/"})
	assert.Equal(t, "http://tika:9998", config.TikaServerURL)

	config = ConfigFromProfile(&profile.Profile{})
	assert.Equal(t, "http://localhost:9998", config.TikaServerURL)
}

func TestIsSupported(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/pdf", true},
		{"application/PDF", true},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
		{"application/rtf; charset=utf-8", true},
		{"text/plain", false},
		{"image/png", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSupported(tt.contentType))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectContentType("report.PDF", nil))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.presentationml.presentation", DetectContentType("deck.pptx", nil))
	assert.Equal(t, "application/pdf", DetectContentType("noext", []byte("%PDF-1.7\n")))
}

func newTikaServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/version":
			_, _ = io.WriteString(w, "Apache Tika 2.9.1")
		case "/tika":
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = io.WriteString(w, "parse failure")
				return
			}
			_, _ = io.WriteString(w, "\n  extracted: "+string(body)+"\n")
		case "/meta":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"dc:title":["季度报告"],"xmpTPg:NPages":"12"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestExtractText(t *testing.T) {
	server := newTikaServer(t, http.StatusOK)
	defer server.Close()

	client := NewClient(&Config{TikaServerURL: server.URL})
	require.True(t, client.IsAvailable(context.Background()))

	result, err := client.ExtractText(context.Background(), []byte("body"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "extracted: body", result.Text)
	assert.Equal(t, "季度报告", result.Title)
	assert.Equal(t, 12, result.PageCount)

	_, err = client.ExtractText(context.Background(), []byte("x"), "image/png")
	assert.Error(t, err)
}

func TestExtractTextServerError(t *testing.T) {
	server := newTikaServer(t, http.StatusUnprocessableEntity)
	defer server.Close()

	client := NewClient(&Config{TikaServerURL: server.URL})
	_, err := client.ExtractText(context.Background(), []byte("x"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestIsAvailableUnreachable(t *testing.T) {
	client := NewClient(&Config{TikaServerURL: "http://127.0.0.1:1"})
	assert.False(t, client.IsAvailable(context.Background()))
	assert.False(t, NewClient(&Config{}).IsAvailable(context.Background()))
}
