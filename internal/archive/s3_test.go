package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type object struct {
	body        []byte
	contentType string
}

// mockRoundTripper accepts PUTs into memory and fails every other method
type mockRoundTripper struct {
	mu      sync.Mutex
	objects map[string]object
	fail    bool
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.fail || req.Method != http.MethodPut {
		return &http.Response{StatusCode: http.StatusForbidden, Body: io.NopCloser(strings.NewReader("<Error><Code>AccessDenied</Code><Message>denied</Message></Error>")), Header: http.Header{}}, nil
	}
	body, _ := io.ReadAll(req.Body)
	if dec, ok := decodeChunked(body); ok {
		body = dec
	}
	m.mu.Lock()
	m.objects[strings.TrimPrefix(req.URL.Path, "/")] = object{body: body, contentType: req.Header.Get("Content-Type")}
	m.mu.Unlock()
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {"\"etag\""}}}, nil
}

// decodeChunked unwraps a single-chunk aws-chunked body
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	n, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newMockUploader(t *testing.T) (*Uploader, *mockRoundTripper) {
	t.Helper()
	rt := &mockRoundTripper{objects: map[string]object{}}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return NewWithClient(client, "runs", "sync-runs", slog.New(slog.NewTextHandler(io.Discard, nil))), rt
}

func TestArchiveUploadsReportAndLog(t *testing.T) {
	u, rt := newMockUploader(t)
	logPath := filepath.Join(t.TempDir(), "paysync-20250501T090000Z.log")
	require.NoError(t, os.WriteFile(logPath, []byte("level=INFO msg=done\n"), 0o644))

	keys, err := u.Archive(context.Background(), "run-1", logPath, map[string]any{"status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sync-runs/run-1/report.json", "sync-runs/run-1/paysync-20250501T090000Z.log"}, keys)

	report, ok := rt.objects["runs/sync-runs/run-1/report.json"]
	require.True(t, ok)
	assert.Equal(t, "application/json", report.contentType)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(report.body, &decoded))
	assert.Equal(t, "completed", decoded["status"])

	logObj := rt.objects["runs/sync-runs/run-1/paysync-20250501T090000Z.log"]
	assert.Equal(t, "level=INFO msg=done\n", string(logObj.body))
}

func TestArchiveWithoutLogFile(t *testing.T) {
	u, rt := newMockUploader(t)
	keys, err := u.Archive(context.Background(), "run-2", "", map[string]any{})
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Len(t, rt.objects, 1)
}

func TestArchiveReportsUploadFailure(t *testing.T) {
	u, rt := newMockUploader(t)
	rt.fail = true
	_, err := u.Archive(context.Background(), "run-3", "", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync-runs/run-3/report.json")
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
