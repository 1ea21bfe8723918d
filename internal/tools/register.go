package tools

import "github.com/mark3labs/mcp-go/server"

// Register adds every blockerbot tool to s.
func Register(s *server.MCPServer, deps Deps) {
	detect := NewDetectTool(deps)
	s.AddTool(detect.Definition(), detect.Handle)

	find := NewFindTool(deps)
	s.AddTool(find.Definition(), find.Handle)

	validate := NewValidateTool(deps)
	s.AddTool(validate.Definition(), validate.Handle)

	testStatus := NewTestStatusTool(deps)
	s.AddTool(testStatus.Definition(), testStatus.Handle)
}
