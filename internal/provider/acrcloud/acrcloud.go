package acrcloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"trackid/internal/identify"
)

const (
	DefaultHost = "identify-eu-west-1.acrcloud.com"

	endpoint         = "/v1/identify"
	dataType         = "audio"
	signatureVersion = "1"

	statusSuccess = 0
	statusNoMatch = 1001
)

// Config holds the project credentials of an ACRCloud identification project.
type Config struct {
	Host         string
	AccessKey    string
	AccessSecret string
	Timeout      time.Duration
}

// Client is an ACRCloud identification client that implements identify.Provider.
type Client struct {
	httpClient   *http.Client
	apiURL       string
	accessKey    string
	accessSecret string
	now          func() time.Time
}

// New creates a new ACRCloud client.
func New(cfg Config) *Client {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		apiURL:       "https://" + host + endpoint,
		accessKey:    cfg.AccessKey,
		accessSecret: cfg.AccessSecret,
		now:          time.Now,
	}
}

func (c *Client) Name() string { return "acrcloud" }

// Configured reports whether both credentials are set.
func (c *Client) Configured() bool {
	return c.accessKey != "" && c.accessSecret != ""
}

// Identify uploads the segment and returns the best match, or nil when
// ACRCloud reports no result.
func (c *Client) Identify(ctx context.Context, seg *identify.Segment) (*identify.Track, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("acrcloud credentials not configured")
	}

	sample, err := os.ReadFile(seg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment: %w", err)
	}

	body, contentType, err := c.buildForm(filepath.Base(seg.Path), sample)
	if err != nil {
		return nil, fmt.Errorf("failed to build acrcloud request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create acrcloud request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "trackid/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acrcloud request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("acrcloud returned %d: %s", resp.StatusCode, msg)
	}

	var idResp identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&idResp); err != nil {
		return nil, fmt.Errorf("failed to decode acrcloud response: %w", err)
	}

	return parseResponse(idResp)
}

func (c *Client) buildForm(filename string, sample []byte) (*bytes.Buffer, string, error) {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"access_key", c.accessKey},
		{"sample_bytes", strconv.Itoa(len(sample))},
		{"timestamp", timestamp},
		{"signature", c.sign(timestamp)},
		{"data_type", dataType},
		{"signature_version", signatureVersion},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	part, err := w.CreateFormFile("sample", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(sample); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// sign computes the version 1 request signature.
func (c *Client) sign(timestamp string) string {
	toSign := http.MethodPost + "\n" + endpoint + "\n" + c.accessKey + "\n" +
		dataType + "\n" + signatureVersion + "\n" + timestamp

	mac := hmac.New(sha1.New, []byte(c.accessSecret))
	mac.Write([]byte(toSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func parseResponse(resp identifyResponse) (*identify.Track, error) {
	switch resp.Status.Code {
	case statusSuccess:
	case statusNoMatch:
		return nil, nil
	default:
		return nil, fmt.Errorf("acrcloud API error %d: %s", resp.Status.Code, resp.Status.Msg)
	}

	if len(resp.Metadata.Music) == 0 {
		return nil, nil
	}
	m := resp.Metadata.Music[0]

	track := &identify.Track{
		Title:   m.Title,
		Artist:  "Unknown",
		Album:   m.Album.Name,
		Service: "acrcloud",
		Score:   m.Score,
	}
	if track.Title == "" {
		track.Title = "Unknown"
	}
	if len(m.Artists) > 0 && m.Artists[0].Name != "" {
		track.Artist = m.Artists[0].Name
	}
	if id := m.ExternalMetadata.Spotify.Track.ID; id != "" {
		track.URL = "https://open.spotify.com/track/" + id
	}
	return track, nil
}

// ACRCloud API response types

type identifyResponse struct {
	Status   status   `json:"status"`
	Metadata metadata `json:"metadata"`
}

type status struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Version string `json:"version"`
}

type metadata struct {
	Music []music `json:"music"`
}

type music struct {
	Title            string           `json:"title"`
	Artists          []artist         `json:"artists"`
	Album            album            `json:"album"`
	Score            float64          `json:"score"`
	DurationMS       int              `json:"duration_ms"`
	ExternalMetadata externalMetadata `json:"external_metadata"`
}

type artist struct {
	Name string `json:"name"`
}

type album struct {
	Name string `json:"name"`
}

type externalMetadata struct {
	Spotify spotify `json:"spotify"`
}

type spotify struct {
	Track struct {
		ID string `json:"id"`
	} `json:"track"`
}
