// Package agent runs chat turns.
//
// A turn streams a generation to a sink, watches it for an inline tool call,
// runs the call through the connected MCP servers, and resumes the answer
// with a continuation generation that carries the tool result.
package agent
