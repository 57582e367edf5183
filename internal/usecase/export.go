package usecase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"TradeDesk/internal/domain/models"
)

// ExportFilename is "<stock_symbol>_<analysis_date>.json" with "analysis" and
// "report" standing in for missing fields.
func ExportFilename(result models.AnalysisResult) string {
	symbol := result.String("stock_symbol")
	if symbol == "" {
		symbol = "analysis"
	}
	date := result.String("analysis_date")
	if date == "" {
		date = "report"
	}
	return cleanFilePart(symbol) + "_" + cleanFilePart(date) + ".json"
}

func cleanFilePart(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, s)
}

// ExportResult writes result as indented JSON under dir and returns the file path.
func ExportResult(dir string, result models.AnalysisResult) (string, error) {
	if len(result) == 0 {
		return "", fmt.Errorf("export: no result")
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: encode: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	path := filepath.Join(dir, ExportFilename(result))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return path, nil
}
