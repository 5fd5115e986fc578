package knowledge

import (
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// SplitParagraphs cuts text on blank lines and packs consecutive paragraphs into chunks of at
// most maxChars bytes. A paragraph longer than maxChars becomes a chunk of its own.
func SplitParagraphs(text string, maxChars int) []string {
	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && maxChars > 0 && cur.Len()+2+len(p) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return chunks
}

// Documents turns the chunks of one source into documents with stable ids.
func Documents(source string, chunks []string) []*schema.Document {
	docs := make([]*schema.Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, &schema.Document{
			ID:       source + "#" + strconv.Itoa(i),
			Content:  c,
			MetaData: map[string]any{"source": source, "chunk": i},
		})
	}
	return docs
}

