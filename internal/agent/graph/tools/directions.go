package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/net/html"
)

const ToolDirections = "directions-tool"

// DirectionsConfig points the directions tool at the Google Maps Directions API.
type DirectionsConfig struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Clock   Clock
}

type DirectionsInput struct {
	Start       string   `json:"start"`
	End         string   `json:"end"`
	TransitType string   `json:"transit_type,omitempty"`
	Waypoints   []string `json:"waypoints,omitempty"`
}

type directionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		Legs []struct {
			Steps []struct {
				HTMLInstructions string `json:"html_instructions"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

var transitTypes = []string{"walking", "driving", "bicycling", "transit"}

func createDirectionsTool(cfg DirectionsConfig) tool.InvokableTool {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://maps.googleapis.com"
	}

	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolDirections,
			Desc: "Returns walking directions between a starting location and an ending location. " +
				"The starting position should be the business location, which can be found with the search-document tool. " +
				"The ending location should come from the guest's question.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"start": {
					Type:     schema.String,
					Desc:     "Starting address or place name.",
					Required: true,
				},
				"end": {
					Type:     schema.String,
					Desc:     "Destination address or place name.",
					Required: true,
				},
				"transit_type": {
					Type: schema.String,
					Desc: "Travel mode, walking by default.",
					Enum: transitTypes,
				},
				"waypoints": {
					Type:     schema.Array,
					Desc:     "Optional places to pass through.",
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
				},
			}),
		},
		func(ctx context.Context, in *DirectionsInput) (string, error) {
			if in.Start == "" || in.End == "" {
				return "", fmt.Errorf("start and end are required")
			}
			if cfg.APIKey == "" {
				return "", fmt.Errorf("directions are not configured")
			}
			mode := in.TransitType
			if mode == "" {
				mode = "walking"
			}

			q := url.Values{}
			q.Set("origin", in.Start)
			q.Set("destination", in.End)
			q.Set("mode", mode)
			q.Set("units", "metric")
			q.Set("departure_time", strconv.FormatInt(cfg.Clock.instant().Unix(), 10))
			if len(in.Waypoints) > 0 {
				q.Set("waypoints", "optimize:true|"+strings.Join(in.Waypoints, "|"))
			}
			if mode == "driving" {
				q.Set("traffic_model", "best_guess")
			}
			q.Set("key", cfg.APIKey)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/maps/api/directions/json?"+q.Encode(), nil)
			if err != nil {
				return "", fmt.Errorf("build directions request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				logx.Error().Err(err).Str("tool", ToolDirections).Msg("directions request failed")
				return "", fmt.Errorf("directions request: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return "", fmt.Errorf("read directions: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("directions api returned %d", resp.StatusCode)
			}

			var out directionsResponse
			if err := json.Unmarshal(body, &out); err != nil {
				return "", fmt.Errorf("decode directions: %w", err)
			}
			if out.Status != "OK" || len(out.Routes) == 0 || len(out.Routes[0].Legs) == 0 {
				return "", fmt.Errorf("no route found: %s %s", out.Status, out.ErrorMessage)
			}

			steps := make([]string, 0, len(out.Routes[0].Legs[0].Steps))
			for _, s := range out.Routes[0].Legs[0].Steps {
				steps = append(steps, s.HTMLInstructions)
			}
			return StripHTML(strings.Join(steps, ", ")), nil
		},
	)
}

func (c Clock) instant() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// StripHTML returns the text content of an HTML fragment.
func StripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}
