package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ValidateTool handles the validate_pipeline MCP tool.
type ValidateTool struct {
	deps Deps
}

func NewValidateTool(deps Deps) *ValidateTool {
	return &ValidateTool{deps: deps}
}

func (t *ValidateTool) Definition() mcp.Tool {
	return mcp.NewTool("validate_pipeline",
		mcp.WithDescription("Check that every pipeline component is configured."),
	)
}

func (t *ValidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v := t.deps.Detector.ValidatePipeline()
	if v.Errors == nil {
		v.Errors = []string{}
	}

	var b strings.Builder
	if v.IsValid {
		b.WriteString("Pipeline is valid.")
	} else {
		b.WriteString("Pipeline is not valid:")
		for _, e := range v.Errors {
			b.WriteString("\n- " + e)
		}
	}
	return textWithJSON(b.String(), v)
}

// TestStatusTool handles the thread_test_status MCP tool.
type TestStatusTool struct {
	deps Deps
}

func NewTestStatusTool(deps Deps) *TestStatusTool {
	return &TestStatusTool{deps: deps}
}

func (t *TestStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("thread_test_status",
		mcp.WithDescription(
			"Read one thread and report the state of the test run it discusses: "+
				"passed, failed, flaky or unknown. The latest statement wins.",
		),
		mcp.WithString("channel",
			mcp.Required(),
			mcp.Description("Channel name, id or mention."),
		),
		mcp.WithString("thread_ts",
			mcp.Required(),
			mcp.Description("Timestamp of the thread root or any message in it."),
		),
	)
}

func (t *TestStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel := strings.TrimSpace(req.GetString("channel", ""))
	threadTS := strings.TrimSpace(req.GetString("thread_ts", ""))
	if channel == "" || threadTS == "" {
		return mcp.NewToolResultError("'channel' and 'thread_ts' are required"), nil
	}

	result, err := t.deps.Detector.TestStatus(ctx, channel, threadTS)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	md := fmt.Sprintf("Test status: **%s**", result.Status)
	if result.Evidence != "" {
		md += fmt.Sprintf("\n\n> %s", result.Evidence)
	}
	return textWithJSON(md, result)
}
