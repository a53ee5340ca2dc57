package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// stdioRequest is one line of the stdio protocol
type stdioRequest struct {
	ID      string          `json:"id,omitempty"`
	Tool    string          `json:"tool"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type stdioResponse struct {
	ID     string      `json:"id,omitempty"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

// StdioServer serves the tool protocol as line-delimited JSON on a
// reader/writer pair, which is how an agent process drives the
// governor as a subprocess
type StdioServer struct {
	registry *Registry
	logger   *zap.Logger
	in       io.Reader
	out      io.Writer
}

// NewStdioServer wires the registry into a stdio transport
func NewStdioServer(registry *Registry, logger *zap.Logger, in io.Reader, out io.Writer) *StdioServer {
	return &StdioServer{registry: registry, logger: logger, in: in, out: out}
}

// Serve reads requests line by line until EOF or ctx cancellation.
// Malformed lines get an error response; they never kill the loop.
func (s *StdioServer) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(s.out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req stdioRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.respond(encoder, stdioResponse{OK: false, Error: &errorBody{
				Kind: "REQUEST", Message: fmt.Sprintf("malformed request line: %v", err),
			}})
			continue
		}
		if req.Tool == "" {
			s.respond(encoder, stdioResponse{ID: req.ID, OK: false, Error: &errorBody{
				Kind: "REQUEST", Message: "request names no tool",
			}})
			continue
		}

		result, err := s.registry.Call(ctx, req.Tool, req.Payload)
		if err != nil {
			s.respond(encoder, stdioResponse{ID: req.ID, OK: false, Error: errorBodyFor(err)})
			continue
		}
		s.respond(encoder, stdioResponse{ID: req.ID, OK: true, Result: result})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdio transport: %w", err)
	}
	return nil
}

func (s *StdioServer) respond(encoder *json.Encoder, resp stdioResponse) {
	if err := encoder.Encode(resp); err != nil {
		s.logger.Error("writing stdio response", zap.Error(err))
	}
}
