package acrcloud

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackid/internal/chunk"
	"trackid/internal/identify"
)

const apiURL = "https://identify-eu-west-1.acrcloud.com/v1/identify"

const matchedResponse = `{
  "status": {"msg": "Success", "code": 0, "version": "1.0"},
  "metadata": {
    "music": [{
      "title": "Strobe",
      "artists": [{"name": "deadmau5"}],
      "album": {"name": "For Lack of a Better Name"},
      "score": 100,
      "external_metadata": {"spotify": {"track": {"id": "2fQ6sBFWaLv2Gxos4igHLy"}}}
    }]
  }
}`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := New(Config{AccessKey: "key", AccessSecret: "secret", Timeout: 5 * time.Second})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func testSegment(t *testing.T) *identify.Segment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk00.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3fake-audio"), 0o644))
	return identify.NewSegment(path, chunk.Window{End: 30 * time.Second}, nil)
}

func TestIdentify_Match(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, apiURL, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "key", req.FormValue("access_key"))
		assert.Equal(t, "audio", req.FormValue("data_type"))
		assert.Equal(t, "1", req.FormValue("signature_version"))
		assert.Equal(t, "1700000000", req.FormValue("timestamp"))
		assert.Equal(t, "13", req.FormValue("sample_bytes"))
		assert.Equal(t, expectedSignature("key", "secret", "1700000000"), req.FormValue("signature"))

		file, header, err := req.FormFile("sample")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "chunk00.mp3", header.Filename)

		return httpmock.NewStringResponse(http.StatusOK, matchedResponse), nil
	})

	track, err := c.Identify(context.Background(), testSegment(t))
	require.NoError(t, err)
	require.NotNil(t, track)

	assert.Equal(t, "Strobe", track.Title)
	assert.Equal(t, "deadmau5", track.Artist)
	assert.Equal(t, "For Lack of a Better Name", track.Album)
	assert.Equal(t, "acrcloud", track.Service)
	assert.Equal(t, "https://open.spotify.com/track/2fQ6sBFWaLv2Gxos4igHLy", track.URL)
	assert.InDelta(t, 100, track.Score, 0)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestIdentify_NoMatch(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, apiURL,
		httpmock.NewStringResponder(http.StatusOK, `{"status": {"msg": "No result", "code": 1001}}`))

	track, err := c.Identify(context.Background(), testSegment(t))
	require.NoError(t, err)
	assert.Nil(t, track)
}

func TestIdentify_Errors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    string
	}{
		{"invalid signature", http.StatusOK, `{"status": {"msg": "Invalid signature", "code": 3014}}`, "3014"},
		{"rate limited", http.StatusOK, `{"status": {"msg": "Limit exceeded", "code": 3003}}`, "Limit exceeded"},
		{"server error", http.StatusInternalServerError, `oops`, "returned 500"},
		{"malformed json", http.StatusOK, `{"status":`, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			httpmock.RegisterResponder(http.MethodPost, apiURL,
				httpmock.NewStringResponder(tt.statusCode, tt.body))

			track, err := c.Identify(context.Background(), testSegment(t))
			require.Error(t, err)
			assert.Nil(t, track)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIdentify_NotConfigured(t *testing.T) {
	c := New(Config{})
	assert.False(t, c.Configured())

	_, err := c.Identify(context.Background(), testSegment(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials not configured")
}

func TestIdentify_MissingFields(t *testing.T) {
	track, err := parseResponse(identifyResponse{
		Status:   status{Code: 0},
		Metadata: metadata{Music: []music{{}}},
	})
	require.NoError(t, err)
	require.NotNil(t, track)
	assert.Equal(t, "Unknown", track.Title)
	assert.Equal(t, "Unknown", track.Artist)
	assert.Empty(t, track.Album)
	assert.Empty(t, track.URL)
}

func TestNew_CustomHost(t *testing.T) {
	c := New(Config{Host: "identify-us-west-2.acrcloud.com"})
	assert.Equal(t, "https://identify-us-west-2.acrcloud.com/v1/identify", c.apiURL)
}

func expectedSignature(key, secret, timestamp string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte("POST\n/v1/identify\n" + key + "\naudio\n1\n" + timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
