package render

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dskam73/interview-automation/internal/domain"
)

// BuildBundle packages every available result into a single zip archive.
// Per file: the raw transcript always goes in as <base>_whisper.txt, the
// cleaned transcript as <base>_transcript.<ext> and the summary as
// <base>_summary.<ext>, each once per requested format. Missing texts are
// skipped silently, a render failure only skips that entry.
func BuildBundle(results []domain.FileResult, formats []domain.OutputFormat) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entries := 0
	for _, res := range results {
		base := strings.TrimSuffix(res.OriginalName, filepath.Ext(res.OriginalName))

		if res.TranscribedText != "" {
			if err := addEntry(zw, base+"_whisper.txt", []byte(res.TranscribedText)); err != nil {
				return nil, err
			}
			entries++
		}

		for _, format := range formats {
			ext := Extension(format)

			if res.CleanedText != "" {
				name := fmt.Sprintf("%s_transcript.%s", base, ext)
				if ok := renderEntry(zw, name, res.CleanedText, format); ok {
					entries++
				}
			}
			if res.SummaryText != "" {
				name := fmt.Sprintf("%s_summary.%s", base, ext)
				if ok := renderEntry(zw, name, res.SummaryText, format); ok {
					entries++
				}
			}
		}
	}

	if entries == 0 {
		return nil, fmt.Errorf("no renderable results")
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	return buf.Bytes(), nil
}

func renderEntry(zw *zip.Writer, name, text string, format domain.OutputFormat) bool {
	data, err := Render(text, format)
	if err != nil {
		slog.Warn("bundle: render entry failed, skipping",
			slog.String("entry", name),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := addEntry(zw, name, data); err != nil {
		slog.Warn("bundle: write entry failed, skipping",
			slog.String("entry", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func addEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}
