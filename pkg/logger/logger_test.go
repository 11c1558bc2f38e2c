package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Output: &buf})

	log.Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Output: &buf, Service: "companion"})

	log.Info("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "companion", entry["service"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Output: &buf, Level: WarnLevel})

	log.Debug("debug message")
	log.Info("info message")
	assert.Empty(t, buf.String())

	log.Warn("warn message")
	assert.Contains(t, buf.String(), "warn message")
}

func TestWithFieldsImmutable(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(Config{Output: &buf})

	derived := base.WithFields(StringField("owner_id", "42"))
	derived.Info("derived")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "42", entry["owner_id"])

	buf.Reset()
	base.Info("base")
	entry = map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "owner_id")
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name     string
		field    LogField
		expected LogField
	}{
		{"string", StringField("k", "v"), LogField{Key: "k", Value: "v"}},
		{"int", IntField("count", 7), LogField{Key: "count", Value: "7"}},
		{"int64", Int64Field("id", 9000000000), LogField{Key: "id", Value: "9000000000"}},
		{"bool", BoolField("pinned", true), LogField{Key: "pinned", Value: "true"}},
		{"float", Float64Field("confidence", 0.7), LogField{Key: "confidence", Value: "0.7"}},
		{"duration", DurationField("took", 2 * time.Second), LogField{Key: "took", Value: "2s"}},
		{"error", ErrorField(errors.New("boom")), LogField{Key: "error", Value: "boom"}},
		{"nil error", ErrorField(nil), LogField{Key: "error", Value: "<nil>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.field)
		})
	}
}

func TestGenericField(t *testing.T) {
	assert.Equal(t, "3", Field("n", 3).Value)
	assert.Equal(t, "true", Field("b", true).Value)
	assert.Equal(t, "1.5", Field("f", 1.5).Value)
}

func TestHTTPMiddlewareLogsRequestAndResponse(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Output: &buf})

	handler := log.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mentions/detect", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, buf.String(), "HTTP request received")
	assert.Contains(t, buf.String(), "HTTP response sent")
	assert.Contains(t, buf.String(), "201")
}

func TestEnsureHTTPCorrelationID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req, id := EnsureHTTPCorrelationID(req)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, GetCorrelationIDFromContext(req.Context()))

	// Invalid header value gets replaced
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("X-Correlation-ID", "not-a-uuid")
	_, id2 := EnsureHTTPCorrelationID(req2)
	assert.NotEqual(t, "not-a-uuid", id2)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("warn"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
}
