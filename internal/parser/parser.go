// Package parser turns uploaded tabular files into UploadedFile descriptors:
// a header row, the full row set, a bounded preview, and auto-suggested
// mappings. Parsing is idempotent and has no side effects.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/crm-migration-api/internal/mapping"
	"github.com/crm-migration-api/internal/models"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// entityKeywords maps filename fragments to entity types. Order matters:
// first keyword found in the filename wins.
var entityKeywords = []struct {
	keyword string
	entity  models.EntityType
}{
	{"client", models.EntityClients},
	{"customer", models.EntityClients},
	{"project", models.EntityProjects},
	{"task", models.EntityTasks},
	{"contact", models.EntityContacts},
	{"invoice", models.EntityInvoices},
	{"time", models.EntityTimeEntries},
}

// rawResponseLimit bounds how much of a non-tabular payload is preserved on
// a ParseError for operator inspection.
const rawResponseLimit = 512

// Parser reads uploaded files. PreviewRows bounds the preview slice on the
// resulting UploadedFile.
type Parser struct {
	PreviewRows int
}

// New creates a Parser with the given preview bound
func New(previewRows int) *Parser {
	if previewRows <= 0 {
		previewRows = 5
	}
	return &Parser{PreviewRows: previewRows}
}

// DetectEntityType infers the entity type from filename keywords, falling
// back to clients when nothing matches
func DetectEntityType(fileName string) models.EntityType {
	lower := strings.ToLower(fileName)
	for _, ek := range entityKeywords {
		if strings.Contains(lower, ek.keyword) {
			return ek.entity
		}
	}
	return models.EntityClients
}

// Parse reads a tabular file into an UploadedFile. A declared entity type
// wins over filename detection. Failures come back as *models.ParseError so
// callers can distinguish a malformed file (including a remote service
// answering with an HTML error page) from a genuinely empty result.
func (p *Parser) Parse(fileName string, data []byte, declared models.EntityType) (*models.UploadedFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &models.ParseError{FileName: fileName, Reason: "file is empty: at least one header row is required"}
	}
	if looksLikeHTML(data) {
		return nil, &models.ParseError{
			FileName:    fileName,
			Reason:      "expected tabular content but received an HTML document",
			RawResponse: rawSnippet(data),
		}
	}

	var (
		headers []string
		rows    []models.Row
		err     error
	)
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm", ".xls":
		headers, rows, err = parseSpreadsheet(fileName, data)
	default:
		headers, rows, err = parseCSV(fileName, data)
	}
	if err != nil {
		return nil, err
	}

	entity := declared
	if entity == "" {
		entity = DetectEntityType(fileName)
	}

	preview := rows
	if len(preview) > p.PreviewRows {
		preview = preview[:p.PreviewRows]
	}

	return &models.UploadedFile{
		ID:                uuid.New().String(),
		FileName:          fmt.Sprintf("%s_%s", uuid.New().String()[:8], filepath.Base(fileName)),
		OriginalFileName:  fileName,
		FileSizeBytes:     int64(len(data)),
		EntityType:        entity,
		Headers:           headers,
		TotalRecords:      len(rows),
		PreviewRows:       preview,
		SuggestedMappings: mapping.SuggestMappings(headers, entity),
		Rows:              rows,
		UploadedAt:        time.Now(),
	}, nil
}

func parseCSV(fileName string, data []byte) ([]string, []models.Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, &models.ParseError{FileName: fileName, Reason: fmt.Sprintf("cannot read header row: %v", err)}
	}
	headers := normalizeHeaders(header)
	if len(headers) == 0 {
		return nil, nil, &models.ParseError{FileName: fileName, Reason: "file contains no header row"}
	}

	var rows []models.Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, &models.ParseError{
				FileName: fileName,
				Reason:   fmt.Sprintf("malformed CSV near row %d: %v", len(rows)+2, err),
			}
		}
		rows = append(rows, recordToRow(headers, record))
	}
	return headers, rows, nil
}

func parseSpreadsheet(fileName string, data []byte) ([]string, []models.Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &models.ParseError{FileName: fileName, Reason: fmt.Sprintf("cannot open spreadsheet: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, &models.ParseError{FileName: fileName, Reason: "spreadsheet has no sheets"}
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, &models.ParseError{FileName: fileName, Reason: fmt.Sprintf("cannot read sheet %q: %v", sheets[0], err)}
	}
	if len(all) == 0 {
		return nil, nil, &models.ParseError{FileName: fileName, Reason: "file contains no header row"}
	}

	headers := normalizeHeaders(all[0])
	if len(headers) == 0 {
		return nil, nil, &models.ParseError{FileName: fileName, Reason: "file contains no header row"}
	}
	var rows []models.Row
	for _, record := range all[1:] {
		rows = append(rows, recordToRow(headers, record))
	}
	return headers, rows, nil
}

// normalizeHeaders trims whitespace and drops trailing empty header cells
// (a common artifact of spreadsheet exports)
func normalizeHeaders(header []string) []string {
	end := len(header)
	for end > 0 && strings.TrimSpace(header[end-1]) == "" {
		end--
	}
	headers := make([]string, 0, end)
	for _, h := range header[:end] {
		headers = append(headers, strings.TrimSpace(h))
	}
	return headers
}

func recordToRow(headers []string, record []string) models.Row {
	row := make(models.Row, len(headers))
	for i, h := range headers {
		if i < len(record) {
			row[h] = record[i]
		} else {
			row[h] = ""
		}
	}
	return row
}

func looksLikeHTML(data []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(data))
	if len(head) > rawResponseLimit {
		head = head[:rawResponseLimit]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<head>"))
}

func rawSnippet(data []byte) string {
	if len(data) > rawResponseLimit {
		data = data[:rawResponseLimit]
	}
	return string(data)
}
