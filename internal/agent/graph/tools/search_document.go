package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const ToolSearchDocument = "search-document"

type SearchDocumentInput struct {
	Query string `json:"query"`
}

func createSearchDocumentTool(r retriever.Retriever) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSearchDocument,
			Desc: "Searches and retrieves information from the document.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     schema.String,
					Desc:     "What to look up in the document.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *SearchDocumentInput) (string, error) {
			if in.Query == "" {
				return "", fmt.Errorf("query is required")
			}
			docs, err := r.Retrieve(ctx, in.Query)
			if err != nil {
				return "", fmt.Errorf("search document: %w", err)
			}
			return FormatDocuments(docs), nil
		},
	)
}

// FormatDocuments joins document contents with blank lines.
func FormatDocuments(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}
