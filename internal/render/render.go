package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dskam73/interview-automation/internal/domain"
)

// Render serializes text into the requested output format. Markdown and
// plain text pass through unchanged; Word documents are built paragraph by
// paragraph from the markdown-ish structure of the text.
func Render(text string, format domain.OutputFormat) ([]byte, error) {
	switch format {
	case domain.FormatMarkdown, domain.FormatText:
		return []byte(text), nil
	case domain.FormatWord:
		return renderWord(text)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Extension returns the file extension (without dot) for a format.
func Extension(format domain.OutputFormat) string {
	switch format {
	case domain.FormatMarkdown:
		return "md"
	case domain.FormatWord:
		return "docx"
	case domain.FormatText:
		return "txt"
	}
	return "txt"
}

func renderWord(text string) ([]byte, error) {
	doc := docx.New().WithDefaultTheme()

	for _, line := range strings.Split(text, "\n") {
		para := doc.AddParagraph()

		switch {
		case strings.HasPrefix(line, "### "):
			para.AddText(strings.TrimPrefix(line, "### ")).Size("28").Bold()
		case strings.HasPrefix(line, "## "):
			para.AddText(strings.TrimPrefix(line, "## ")).Size("32").Bold()
		case strings.HasPrefix(line, "# "):
			para.AddText(strings.TrimPrefix(line, "# ")).Size("36").Bold()
		case strings.HasPrefix(line, "- "):
			para.AddText("• " + strings.TrimPrefix(line, "- ")).Size("22")
		default:
			para.AddText(stripInlineMarkup(line)).Size("22")
		}
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}

	return buf.Bytes(), nil
}

func stripInlineMarkup(line string) string {
	line = strings.ReplaceAll(line, "**", "")
	return strings.ReplaceAll(line, "__", "")
}

// ExtractHeader returns the leading heading block of a transcript: the first
// top-level heading and any immediately following non-empty lines up to the
// first blank line. Empty string if the text does not start with a heading.
func ExtractHeader(text string) string {
	lines := strings.Split(text, "\n")

	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) || !strings.HasPrefix(lines[start], "# ") {
		return ""
	}

	end := start + 1
	for end < len(lines) && strings.TrimSpace(lines[end]) != "" {
		end++
	}

	return strings.Join(lines[start:end], "\n")
}
