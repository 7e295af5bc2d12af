// Package guarder implements the Response Guarder: a cheap regex
// pre-filter backed by a remote small-LLM classifier that decides whether a
// Vision Describer's text is worth turning into an Event, or is noise
// ("nothing notable", "empty parking lot") that should be dropped. Guarder
// failures fail open — spec.md requires that an ambiguous or timed-out
// guarder call be treated as significant, since silently dropping a real
// event is worse than forwarding a noisy one.
package guarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/videocore/pipeline/internal/httputil"
	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("guarder")

// defaultNoisePatterns matches description text that is almost certainly
// not worth an event, checked before the remote call to save the round
// trip on the obvious cases.
var defaultNoisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(nothing|no)\s+(notable|significant|unusual)`),
	regexp.MustCompile(`(?i)^\s*(empty|still|quiet)\s+scene`),
	regexp.MustCompile(`(?i)no\s+(people|motion|activity|objects?)\s+(detected|visible|present)`),
}

// Verdict is the guarder's decision for one description.
type Verdict struct {
	Significant bool
	Reason      string
}

// Config tunes the guarder. Field names mirror spec.md.
type Config struct {
	Enabled      bool
	ModelURL     string
	Timeout      time.Duration
	AllowPhrases []string // phrases that always pass through regardless of the remote verdict
}

// Guarder classifies description text as significant or noise.
type Guarder struct {
	cfg          Config
	allowPhrases []string
	http         *http.Client
}

// New builds a Guarder. If cfg.Enabled is false, Check always returns
// Significant=true (the guarder is bypassed, not fail-closed).
func New(cfg Config) *Guarder {
	return &Guarder{cfg: cfg, allowPhrases: lower(cfg.AllowPhrases), http: &http.Client{}}
}

// Check applies the regex pre-filter first, then — if the text isn't an
// obvious match — calls the remote classifier. Any error from the remote
// call (timeout, malformed response) fails open: the text is treated as
// significant rather than silently dropped.
func (g *Guarder) Check(ctx context.Context, description string) Verdict {
	if !g.cfg.Enabled {
		return Verdict{Significant: true, Reason: "guarder disabled"}
	}

	lowered := strings.ToLower(description)
	for _, phrase := range g.allowPhrases {
		if strings.Contains(lowered, phrase) {
			return Verdict{Significant: true, Reason: "matched allow phrase"}
		}
	}
	for _, pattern := range defaultNoisePatterns {
		if pattern.MatchString(description) {
			return Verdict{Significant: false, Reason: "matched noise pattern"}
		}
	}

	verdict, err := g.callRemote(ctx, description)
	if err != nil {
		log.Warn("guarder remote call failed, failing open", "error", err)
		return Verdict{Significant: true, Reason: "guarder error, failing open"}
	}
	return verdict
}

func (g *Guarder) callRemote(ctx context.Context, description string) (Verdict, error) {
	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: description})
	if err != nil {
		return Verdict{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := httputil.Do(callCtx, g.http, http.MethodPost, g.cfg.ModelURL+"/classify", payload,
		http.Header{"Content-Type": []string{"application/json"}}, httputil.RetryConfig{MaxRetries: 0})
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("guarder: model returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Significant bool   `json:"significant"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Verdict{}, fmt.Errorf("guarder: ambiguous response, treating as significant: %w", err)
	}

	return Verdict{Significant: decoded.Significant, Reason: decoded.Reason}, nil
}

func lower(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
