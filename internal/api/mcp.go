package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.ContextChunk, error)
}

// MCPAnswerer abstracts answer generation for the MCP layer.
type MCPAnswerer interface {
	Generate(ctx context.Context, question string, chunks []retrieval.ContextChunk) <-chan answer.Fragment
}

// MCPLister abstracts document listing for the MCP layer.
type MCPLister interface {
	ListDocuments() ([]storage.DocumentInfo, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Documents MCPRetriever
	Answers   MCPAnswerer
	Lister    MCPLister

	TopK          int
	MinSimilarity float64
}

// NewMCPServer creates an MCP server exposing the document corpus to
// agent clients over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}

	s := server.NewMCPServer(
		"docchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docchat — question answering over the user's uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Answer a question grounded on the uploaded documents, with source citations."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("document_id", mcp.Description("Optional document id to restrict the answer to")),
		),
		mcpAskDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the uploaded documents and return the most relevant text fragments."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithString("document_id", mcp.Description("Optional document id to restrict the search to")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the uploaded documents with their processing status."),
		),
		mcpListDocuments(deps),
	)

	return s
}

func mcpAskDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		documentID := req.GetString("document_id", "")

		chunks, err := deps.Documents.Retrieve(ctx, retrieval.Query{
			Text:          question,
			TopK:          deps.TopK,
			MinSimilarity: deps.MinSimilarity,
			DocumentID:    documentID,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}

		var final *answer.Final
		for frag := range deps.Answers.Generate(ctx, question, chunks) {
			if frag.Final != nil {
				final = frag.Final
			}
		}
		if final == nil {
			return mcpError("generation produced no result"), nil
		}
		if final.Err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", final.Err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"answer":          final.Answer,
			"sources":         final.Sources,
			"retrieved_count": final.RetrievedCount,
			"context_size":    final.ContextWords,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", deps.TopK)
		if limit <= 0 {
			limit = deps.TopK
		}
		if limit > 50 {
			limit = 50
		}
		documentID := req.GetString("document_id", "")

		chunks, err := deps.Documents.Retrieve(ctx, retrieval.Query{
			Text:          query,
			TopK:          limit,
			MinSimilarity: deps.MinSimilarity,
			DocumentID:    documentID,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			DocumentID string  `json:"document_id"`
			Filename   string  `json:"filename"`
			ChunkSeq   int     `json:"chunk_seq"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				DocumentID: c.DocumentID,
				Filename:   c.Filename,
				ChunkSeq:   c.ChunkSeq,
				Text:       c.Text,
				Score:      c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := deps.Lister.ListDocuments()
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents failed: %v", err)), nil
		}

		type docResult struct {
			ID         string `json:"id"`
			Filename   string `json:"filename"`
			Status     string `json:"status"`
			ChunkCount int    `json:"chunk_count"`
			UploadedAt string `json:"uploaded_at"`
		}
		results := make([]docResult, len(docs))
		for i, d := range docs {
			results[i] = docResult{
				ID:         d.ID,
				Filename:   d.Filename,
				Status:     d.Status,
				ChunkCount: d.ChunkCount,
				UploadedAt: d.UploadedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
