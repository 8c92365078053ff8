// Package itembank loads listening quiz item banks from JSON, CSV or XLSX files.
//
// Tabular banks carry a header row naming the columns id, prompt, primary,
// romanized and audio, in any order. The quiz ID of a bank is its file name
// without the extension.
package itembank

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieldreier/studycore/internal/sampler"
	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ErrUnsupportedFormat is returned for files that are not JSON, CSV or XLSX.
var ErrUnsupportedFormat = errors.New("unsupported item bank format")

// Bank is the item bank of one quiz.
type Bank struct {
	QuizID string         `json:"quiz_id" validate:"required"`
	Items  []sampler.Item `json:"items" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// QuizID derives the quiz ID from a bank file path.
func QuizID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Supported reports whether path has an item bank extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".csv", ".xlsx":
		return true
	}
	return false
}

// LoadFile reads and validates one item bank.
func LoadFile(path string) (Bank, error) {
	var (
		items []sampler.Item
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		items, err = loadJSON(path)
	case ".csv":
		items, err = loadCSV(path)
	case ".xlsx":
		items, err = loadXLSX(path)
	default:
		return Bank{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return Bank{}, err
	}

	bank := Bank{QuizID: QuizID(path), Items: items}
	if err := validate.Struct(bank); err != nil {
		return Bank{}, fmt.Errorf("invalid item bank %s: %w", path, err)
	}
	return bank, nil
}

// LoadDir loads every supported bank in dir, keyed by quiz ID. Files that
// fail to load are logged and skipped.
func LoadDir(dir string, logger *zap.Logger) (map[string]Bank, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read item bank directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && Supported(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	banks := make(map[string]Bank, len(names))
	for _, name := range names {
		bank, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("Skipping item bank", zap.String("file", name), zap.Error(err))
			continue
		}
		if _, dup := banks[bank.QuizID]; dup {
			logger.Warn("Duplicate quiz ID, keeping the first bank", zap.String("quiz_id", bank.QuizID), zap.String("file", name))
			continue
		}
		banks[bank.QuizID] = bank
		logger.Debug("Loaded item bank", zap.String("quiz_id", bank.QuizID), zap.Int("items", len(bank.Items)))
	}
	return banks, nil
}

func loadJSON(path string) ([]sampler.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read item bank: %w", err)
	}
	var items []sampler.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse item bank %s: %w", path, err)
	}
	return items, nil
}

func loadCSV(path string) ([]sampler.Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		rows = append(rows, record)
	}
	return fromRows(rows)
}

func loadXLSX(path string) ([]sampler.Item, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return fromRows(rows)
}

// fromRows maps a header row plus data rows onto items. Blank rows are skipped.
func fromRows(rows [][]string) ([]sampler.Item, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	columns := make(map[string]int)
	for i, name := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "primary"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing %q column in header", required)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	items := make([]sampler.Item, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		items = append(items, sampler.Item{
			ID:        cell(row, "id"),
			Prompt:    cell(row, "prompt"),
			Primary:   cell(row, "primary"),
			Romanized: cell(row, "romanized"),
			Audio:     cell(row, "audio"),
		})
	}
	return items, nil
}
