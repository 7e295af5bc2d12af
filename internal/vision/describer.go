// Package vision implements the Vision Describer: a one-shot remote VLM
// client that turns a frame plus a prompt into a natural-language
// description. Calls are never retried — per spec.md, a timed-out frame is
// simply stale and the next frame supersedes it, so retrying would only
// describe a frame that's already irrelevant.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
	"github.com/videocore/pipeline/internal/httputil"
	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("vision")

// Request is the VLM call contract from spec.md §6.
type Request struct {
	ImageBytes []byte
	Prompt     string
	ModelID    string
	Timeout    time.Duration
}

// Result is a successful VLM response.
type Result struct {
	Text      string
	LatencyMs int64
}

// Client calls a remote vision-language model over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a Client against baseURL, authenticated with apiKey (sent
// as a bearer token; empty apiKey omits the header for local/dev endpoints).
func NewClient(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{}}
}

// Describe encodes f as JPEG and issues a single, non-retried call to the
// configured vision model, returning the text description and latency.
func (c *Client) Describe(ctx context.Context, f frame.Frame, prompt, modelID string, timeout time.Duration) (Result, error) {
	jpegBytes, err := encodeJPEG(f.Mat)
	if err != nil {
		return Result{}, fmt.Errorf("vision: encode frame: %w", err)
	}

	reqBody := struct {
		Image   string `json:"image_base64"`
		Prompt  string `json:"prompt"`
		ModelID string `json:"model_id"`
	}{
		Image:   base64.StdEncoding.EncodeToString(jpegBytes),
		Prompt:  prompt,
		ModelID: modelID,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("vision: marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := httputil.Do(callCtx, c.http, http.MethodPost, c.baseURL+"/describe", payload, authHeader(c.apiKey),
		httputil.RetryConfig{MaxRetries: 0})
	if err != nil {
		return Result{}, fmt.Errorf("vision: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("vision: model returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("vision: decode response: %w", err)
	}

	return Result{Text: decoded.Text, LatencyMs: time.Since(start).Milliseconds()}, nil
}

func authHeader(apiKey string) http.Header {
	h := http.Header{"Content-Type": []string{"application/json"}}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
