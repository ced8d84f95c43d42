package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const collectionURIPrefix = "collection://"

// registerResources exposes each collection's summary as a JSON resource
// under collection://{name}.
func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "collection",
			URITemplate: collectionURIPrefix + "{name}",
			Description: "Summary and embedding contract of an indexed collection",
			MIMEType:    "application/json",
		},
		s.handleReadCollection,
	)
}

func (s *Server) handleReadCollection(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	text, err := s.readCollection(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: text},
		},
	}, nil
}

// readCollection renders the summary of the collection named by uri.
func (s *Server) readCollection(ctx context.Context, uri string) (string, error) {
	name, ok := strings.CutPrefix(uri, collectionURIPrefix)
	if !ok || name == "" {
		return "", mcp.ResourceNotFoundError(uri)
	}

	collections, err := s.searcher.ListCollections(ctx)
	if err != nil {
		return "", MapError(err)
	}
	for _, c := range collections {
		if c.Name != name {
			continue
		}
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", MapError(err)
		}
		return string(data), nil
	}
	return "", mcp.ResourceNotFoundError(uri)
}
