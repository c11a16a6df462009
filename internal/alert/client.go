package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	emergencyPath = "/send-alert"
	supportPath   = "/send-support"

	maxErrorBody = 512
)

type emergencyPayload struct {
	Username  string   `json:"username"`
	Emails    []string `json:"emails"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
}

type supportPayload struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	PhoneNumber        string `json:"phoneNumber"`
	ProblemDescription string `json:"problemDescription"`
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// post sends body as JSON and returns the response status. Any non-2xx
// status is returned as an error together with the code.
func post(ctx context.Context, client *http.Client, url string, body any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return resp.StatusCode, nil
}
