package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
)

func TestDescribeReturnsTextAndLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt  string `json:"prompt"`
			ModelID string `json:"model_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Prompt != "describe the scene" {
			t.Errorf("unexpected prompt: %q", body.Prompt)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "a person walks by"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	mat := gocv.NewMatWithSize(16, 16, gocv.MatTypeCV8UC3)
	f := frame.New(mat, frame.PixelFormatBGR, 1)
	defer f.Release()

	res, err := c.Describe(context.Background(), f, "describe the scene", "vlm-1", 2*time.Second)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if res.Text != "a person walks by" {
		t.Fatalf("Text = %q, want %q", res.Text, "a person walks by")
	}
}

func TestDescribePropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	mat := gocv.NewMatWithSize(16, 16, gocv.MatTypeCV8UC3)
	f := frame.New(mat, frame.PixelFormatBGR, 1)
	defer f.Release()

	_, err := c.Describe(context.Background(), f, "p", "m", time.Second)
	if err == nil {
		t.Fatal("expected an error for a non-OK status with zero retries")
	}
}
