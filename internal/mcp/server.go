package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amankb/internal/search"
	"github.com/Aman-CERP/amankb/pkg/version"
)

const serverName = "amankb"

// Limits applied to the limit tool argument.
const (
	defaultLimit = 10
	maxLimit     = 50
)

// Searcher is the query surface the server exposes.
type Searcher interface {
	Search(ctx context.Context, query, collection string, topK int) ([]*search.Result, error)
	ListCollections(ctx context.Context) ([]search.CollectionSummary, error)
}

// Server is the MCP server for amankb. It bridges AI clients with the
// indexed collections.
type Server struct {
	mcp      *mcp.Server
	searcher Searcher
	logger   *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Collection string `json:"collection" jsonschema:"name of the collection to search"`
	Query      string `json:"query" jsonschema:"the natural language query"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Collection string               `json:"collection"`
	Results    []SearchResultOutput `json:"results" jsonschema:"matching note chunks, best first"`
}

// SearchResultOutput is one matching chunk.
type SearchResultOutput struct {
	Title      string  `json:"title" jsonschema:"title of the note"`
	Text       string  `json:"text" jsonschema:"matched chunk text"`
	Score      float32 `json:"score" jsonschema:"similarity between 0 and 1"`
	NoteID     string  `json:"note_id" jsonschema:"stable note identifier"`
	ChunkIndex int     `json:"chunk_index" jsonschema:"position of the chunk within the note"`
}

// ListCollectionsInput defines the input schema for list_collections (no parameters).
type ListCollectionsInput struct{}

// ListCollectionsOutput defines the output schema for list_collections.
type ListCollectionsOutput struct {
	Collections []search.CollectionSummary `json:"collections"`
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Semantic search over one indexed note collection. Returns the note chunks closest in meaning to the query. Call list_collections first to learn the collection names.",
	},
	{
		Name:        "list_collections",
		Description: "List the indexed note collections with their description, size and the embedding model they were built with.",
	},
}

// NewServer creates a new MCP server over searcher.
func NewServer(searcher Searcher) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}

	s := &Server{
		searcher: searcher,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools and resources
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with untyped arguments and returns its
// markdown rendering.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "search":
		input := SearchInput{}
		input.Query, _ = args["query"].(string)
		input.Collection, _ = args["collection"].(string)
		if l, ok := args["limit"].(float64); ok {
			input.Limit = int(l)
		}
		out, err := s.search(ctx, input)
		if err != nil {
			return "", err
		}
		return FormatSearchResults(input.Query, out), nil
	case "list_collections":
		out, err := s.listCollections(ctx)
		if err != nil {
			return "", err
		}
		return FormatCollections(out.Collections), nil
	default:
		return "", NewMethodNotFoundError(name)
	}
}

func (s *Server) search(ctx context.Context, input SearchInput) (SearchOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if strings.TrimSpace(input.Query) == "" {
		return SearchOutput{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	if strings.TrimSpace(input.Collection) == "" {
		return SearchOutput{}, NewInvalidParamsError("collection parameter is required")
	}
	limit := clampLimit(input.Limit, defaultLimit, 1, maxLimit)

	s.logger.Info("search_started",
		slog.String("request_id", requestID),
		slog.String("collection", input.Collection),
		slog.Int("limit", limit))

	results, err := s.searcher.Search(ctx, input.Query, input.Collection, limit)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return SearchOutput{}, MapError(err)
	}

	s.logger.Info("search_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	out := SearchOutput{
		Collection: input.Collection,
		Results:    make([]SearchResultOutput, 0, len(results)),
	}
	for _, r := range results {
		if r != nil {
			out.Results = append(out.Results, ToSearchResultOutput(r))
		}
	}
	return out, nil
}

func (s *Server) listCollections(ctx context.Context) (ListCollectionsOutput, error) {
	collections, err := s.searcher.ListCollections(ctx)
	if err != nil {
		s.logger.Error("list_collections_failed", slog.String("error", err.Error()))
		return ListCollectionsOutput{}, MapError(err)
	}
	if collections == nil {
		collections = []search.CollectionSummary{}
	}
	return ListCollectionsOutput{Collections: collections}, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpListCollectionsHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.search(ctx, input)
	return nil, out, err
}

// mcpListCollectionsHandler is the MCP SDK handler for list_collections.
func (s *Server) mcpListCollectionsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ListCollectionsInput) (
	*mcp.CallToolResult,
	ListCollectionsOutput,
	error,
) {
	out, err := s.listCollections(ctx)
	return nil, out, err
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
