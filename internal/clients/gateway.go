package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"unideploy/internal/config"
)

// LogGateway forwards build log lines to the terminal bridge. Pushes are
// strictly best-effort: the 1s timeout and any transport error are
// swallowed by the caller.
type LogGateway interface {
	Push(ctx context.Context, deploymentID uint, line string) error
}

// HTTPLogGateway posts log lines to the gateway's internal endpoint.
type HTTPLogGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLogGateway builds the default gateway client with its 1 second
// deadline baked in.
func NewHTTPLogGateway(cfg *config.Config) *HTTPLogGateway {
	return &HTTPLogGateway{
		baseURL: cfg.GatewayURL,
		client:  &http.Client{Timeout: time.Second},
	}
}

// Push forwards one line.
func (g *HTTPLogGateway) Push(ctx context.Context, deploymentID uint, line string) error {
	if g.baseURL == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]interface{}{
		"deploymentId": fmt.Sprintf("%d", deploymentID),
		"log":          line,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/internal/logs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
