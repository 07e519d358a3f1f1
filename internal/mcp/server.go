package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/app"
)

// Server speaks JSON-RPC 2.0 over a line-delimited stream. Every MCP
// caller is treated as the AI actor: tasks it creates are ai-owned and
// completion calls carry the AI-caller tag.
type Server struct {
	c         *app.Container
	tools     *toolHandler
	sessionID string

	mu  sync.Mutex // serializes writes
	out io.Writer
}

// NewServer creates an MCP server over the engine.
func NewServer(c *app.Container) *Server {
	sessionID := uuid.New().String()
	return &Server{
		c:         c,
		tools:     &toolHandler{c: c},
		sessionID: sessionID,
	}
}

// Run reads requests from in and writes responses to out until EOF or
// context cancellation.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	reader := bufio.NewReader(in)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var req JSONRPCRequest
		if jsonErr := json.Unmarshal(line, &req); jsonErr != nil {
			// The request id is unrecoverable from a malformed line, and
			// the protocol wants an explicit null rather than no id.
			s.sendError(json.RawMessage("null"), ErrCodeParse, "parse error")
			if err == io.EOF {
				return nil
			}
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			if sendErr := s.send(resp); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case MethodInitialize:
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: InitializeResult{
				ProtocolVersion: "2024-11-05",
				ServerInfo:      ServerInfo{Name: "taskdeck", Version: "0.1.0"},
				Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			},
		}
	case MethodToolsList:
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  ToolsListResult{Tools: toolDefinitions()},
		}
	case MethodToolsCall:
		return s.handleToolCall(ctx, req)
	case MethodPing:
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	case "notifications/initialized":
		return nil // notification, no response
	default:
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "method not found: " + req.Method},
		}
	}
}

func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: ErrCodeInvalidParams, Message: "invalid tools/call params"},
		}
	}

	result, err := s.tools.handle(ctx, params.Name, params.Arguments)
	if err != nil {
		// Engine errors become JSON-RPC error objects with a generic
		// code and the engine's human-readable message.
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: ErrCodeInternal, Message: err.Error()},
		}
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: ErrCodeInternal, Message: err.Error()},
		}
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolResult{
			Content: []ContentBlock{{Type: "text", Text: string(text)}},
		},
	}
}

func (s *Server) send(resp *JSONRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (s *Server) sendError(id any, code int, msg string) {
	s.send(&JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: msg},
	})
}
