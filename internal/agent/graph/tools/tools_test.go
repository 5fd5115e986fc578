package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() Clock {
	loc := time.FixedZone("UTC+7", 7*3600)
	return Clock{
		Location: loc,
		// 2026-03-01 20:00 UTC is already March 2nd in UTC+7
		Now: func() time.Time { return time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC) },
	}
}

func run(t *testing.T, tl tool.BaseTool, args string) string {
	t.Helper()
	inv, ok := tl.(tool.InvokableTool)
	require.True(t, ok)
	out, err := inv.InvokableRun(context.Background(), args)
	require.NoError(t, err)
	return out
}

func byName(t *testing.T, list []tool.BaseTool, name string) tool.BaseTool {
	t.Helper()
	for _, tl := range list {
		info, err := tl.Info(context.Background())
		require.NoError(t, err)
		if info.Name == name {
			return tl
		}
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

func TestDateTools(t *testing.T) {
	list := GetAgentTools(Config{Clock: fixedClock()})

	assert.Equal(t, "2026-03-02", run(t, byName(t, list, ToolDatetime), `{"date":"today"}`))
	assert.Equal(t, "Monday", run(t, byName(t, list, ToolWeekdayName), `{"date":"2026-03-02"}`))
	assert.Equal(t, "2026-03-01", run(t, byName(t, list, ToolDayDifference), `{"date":"tomorrow","delta":-2}`))
	assert.Equal(t, "true", run(t, byName(t, list, ToolCompareDates), `{"first_date":"yesterday","second_date":"now"}`))
	assert.Equal(t, "false", run(t, byName(t, list, ToolCompareDates), `{"first_date":"today","second_date":"today"}`))
	assert.Equal(t, "true", run(t, byName(t, list, ToolCompareThreeDates),
		`{"first_date":"2026-03-02","second_date":"2026-03-02","third_date":"2026-03-05"}`))
	assert.Equal(t, "false", run(t, byName(t, list, ToolCompareThreeDates),
		`{"first_date":"2026-03-06","second_date":"2026-03-02","third_date":"2026-03-05"}`))
}

func TestInvalidDateBecomesErrorResult(t *testing.T) {
	list := GetAgentTools(Config{Clock: fixedClock()})
	out := run(t, byName(t, list, ToolDatetime), `{"date":"02/03/2026"}`)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "tool_failed", body["error"])
	assert.Equal(t, ToolDatetime, body["name"])
	assert.Contains(t, body["detail"], "YYYY-MM-DD")
}

func TestOptionalToolsRegistration(t *testing.T) {
	assert.Len(t, GetAgentTools(Config{}), 5)

	list := GetAgentTools(Config{
		Directions: DirectionsConfig{APIKey: "k"},
		Retriever:  stubRetriever{},
	})
	infos, err := GetToolInfos(context.Background(), list)
	require.NoError(t, err)
	assert.Len(t, infos, 7)
	assert.Contains(t, ToolNames(infos), ToolSearchDocument)
	assert.Contains(t, ToolNames(infos), ToolDirections)
}

type stubRetriever struct {
	docs []*schema.Document
	err  error
}

func (s stubRetriever) Retrieve(context.Context, string, ...retriever.Option) ([]*schema.Document, error) {
	return s.docs, s.err
}

func TestSearchDocument(t *testing.T) {
	list := GetAgentTools(Config{Retriever: stubRetriever{docs: []*schema.Document{
		{Content: "Breakfast is served 6-10."},
		{Content: "The pool opens at 8."},
	}}})
	out := run(t, byName(t, list, ToolSearchDocument), `{"query":"breakfast"}`)
	assert.Equal(t, "Breakfast is served 6-10.\n\nThe pool opens at 8.", out)

	failing := GetAgentTools(Config{Retriever: stubRetriever{err: errors.New("index offline")}})
	out = run(t, byName(t, failing, ToolSearchDocument), `{"query":"breakfast"}`)
	assert.Contains(t, out, "index offline")
}

func TestDirections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/directions/json", r.URL.Path)
		assert.Equal(t, "walking", r.URL.Query().Get("mode"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"status":"OK","routes":[{"legs":[{"steps":[
			{"html_instructions":"Head <b>north</b> on Main St"},
			{"html_instructions":"Turn <b>left</b><div style=\"x\">Destination on the right</div>"}
		]}]}]}`))
	}))
	defer srv.Close()

	list := GetAgentTools(Config{Clock: fixedClock(), Directions: DirectionsConfig{APIKey: "secret", BaseURL: srv.URL}})
	out := run(t, byName(t, list, ToolDirections), `{"start":"Hotel","end":"Beach"}`)
	assert.Equal(t, "Head north on Main St, Turn leftDestination on the right", out)
}

func TestDirectionsNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","routes":[]}`))
	}))
	defer srv.Close()

	list := GetAgentTools(Config{Directions: DirectionsConfig{APIKey: "k", BaseURL: srv.URL}})
	out := run(t, byName(t, list, ToolDirections), `{"start":"A","end":"B"}`)
	assert.Contains(t, out, "ZERO_RESULTS")
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Turn right onto 5th Ave", StripHTML("Turn <b>right</b> onto <span>5th Ave</span>"))
	assert.Equal(t, "plain", StripHTML("plain"))
}

func TestSanitizeArguments(t *testing.T) {
	assert.JSONEq(t, `{"date":"today","delta":3650}`, SanitizeArguments(ToolDayDifference, `{"date":" today ","delta":99999}`))
	assert.JSONEq(t, `{"date":"today","delta":-2}`, SanitizeArguments(ToolDayDifference, `{"date":"today","delta":"-2"}`))
	assert.JSONEq(t, `{"date":"today"}`, SanitizeArguments(ToolDayDifference, `{"date":"today","delta":"soon"}`))
	assert.JSONEq(t, `{"start":"A","end":"B","transit_type":"driving"}`,
		SanitizeArguments(ToolDirections, `{"start":"A","end":"B","transit_type":" Driving "}`))
	assert.Equal(t, "not json", SanitizeArguments(ToolDatetime, "not json"))
}

func TestErrorResult(t *testing.T) {
	assert.JSONEq(t, `{"error":"unknown_tool","name":"fly"}`, ErrorResult("unknown_tool", "fly", nil))
}
