package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"parusdata/database"
	"parusdata/tabular"
)

// previewRows is how many data rows are shown to the model when labeling
// columns at upload time.
const previewRows = 5

// BlobStore persists uploaded file bytes.
type BlobStore interface {
	Put(ctx context.Context, objectName string, data []byte) (string, error)
}

// DatasetWriter records new dataset metadata.
type DatasetWriter interface {
	Create(ctx context.Context, entry database.DatasetEntry) error
}

// Ingestor handles dataset uploads: it stores the raw bytes, asks the model
// to describe the columns from a small preview, and records the metadata
// entry that later analysis runs select from.
type Ingestor struct {
	generator Generator
	blobs     BlobStore
	writer    DatasetWriter
	logger    func(string)
}

// NewIngestor wires the upload pipeline.
func NewIngestor(generator Generator, blobs BlobStore, writer DatasetWriter, logger func(string)) *Ingestor {
	return &Ingestor{generator: generator, blobs: blobs, writer: writer, logger: logger}
}

func (g *Ingestor) log(msg string) {
	if g.logger != nil {
		g.logger(msg)
	}
}

// Ingest stores one uploaded file and returns the recorded entry. Column
// labeling is best-effort: if the model call or its JSON fails, the entry is
// stored with bare column names and no summary.
func (g *Ingestor) Ingest(ctx context.Context, filename string, data []byte) (*database.DatasetEntry, error) {
	kind := tabular.KindForFilename(filename)
	if kind == "" {
		return nil, &ServiceError{
			Service:   "Ingestor",
			Operation: "detect kind",
			Err:       fmt.Errorf("unsupported file type: %s", filename),
		}
	}

	// Parse before storing so a broken file is rejected up front.
	preview, err := tabular.Load(data, kind, previewRows)
	if err != nil {
		return nil, &ServiceError{Service: "Ingestor", Operation: "parse upload", Err: err}
	}

	objectName := fmt.Sprintf("%d_%s", time.Now().Unix(), filename)
	if _, err := g.blobs.Put(ctx, objectName, data); err != nil {
		return nil, &ServiceError{Service: "Ingestor", Operation: "store blob", Err: err}
	}
	g.log(fmt.Sprintf("[INGEST] Stored %s as %s (%d bytes)", filename, objectName, len(data)))

	columns, summary := g.labelColumns(ctx, filename, preview)

	entry := database.DatasetEntry{
		ID:         uuid.NewString(),
		Filename:   filename,
		ObjectName: objectName,
		Kind:       kind,
		Columns:    columns,
		Summary:    summary,
		CreatedAt:  time.Now(),
	}
	if err := g.writer.Create(ctx, entry); err != nil {
		return nil, &ServiceError{Service: "Ingestor", Operation: "record metadata", Err: err}
	}
	g.log(fmt.Sprintf("[INGEST] Registered dataset %s (%s)", DatasetIdentifier(entry.ID), filename))
	return &entry, nil
}

const labelPrompt = `Файл: %s
Колонки: %s

Первые строки:
%s

Опиши назначение каждой колонки и дай краткое описание файла.
ВЕРНИ ТОЛЬКО JSON вида:
{"summary": "краткое описание файла", "columns": {"имя_колонки": "назначение", ...}}`

// labelColumns asks the model to describe the file. On any failure the
// fallback is bare column names with empty meanings.
func (g *Ingestor) labelColumns(ctx context.Context, filename string, preview *tabular.Table) (map[string]string, string) {
	fallback := make(map[string]string, len(preview.Columns))
	for _, col := range preview.Columns {
		fallback[col] = ""
	}

	var rows strings.Builder
	for _, row := range preview.Rows {
		rows.WriteString(strings.Join(row, " | "))
		rows.WriteString("\n")
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: "Ты — аналитик данных. Выводи только валидный JSON."},
		{Role: schema.User, Content: fmt.Sprintf(labelPrompt, filename, strings.Join(preview.Columns, ", "), rows.String())},
	}
	resp, err := g.generator.Generate(ctx, messages, model.WithTemperature(0))
	if err != nil {
		g.log(fmt.Sprintf("[INGEST] Column labeling failed: %v, storing bare names", err))
		return fallback, ""
	}

	var decoded struct {
		Summary string            `json:"summary"`
		Columns map[string]string `json:"columns"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &decoded); err != nil {
		g.log(fmt.Sprintf("[INGEST] Failed to parse labeling response: %v, storing bare names", err))
		return fallback, ""
	}

	// Keep only meanings for columns that actually exist in the file.
	columns := make(map[string]string, len(preview.Columns))
	for _, col := range preview.Columns {
		columns[col] = decoded.Columns[col]
	}
	return columns, decoded.Summary
}
