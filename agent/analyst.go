package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"parusdata/database"
	"parusdata/sandbox"
	"parusdata/tabular"
)

// Fixed user-facing messages for the analysis path.
const (
	msgNoData      = "Нет доступных файлов для анализа. Загрузите Excel или CSV."
	msgLoadFailed  = "Ошибка загрузки данных."
	msgEmptyResult = "Код выполнен успешно, но переменная 'final_result' пустая. Проверьте график."
	msgChartReady  = "📊 График построен."
)

// maxAnalysisRows bounds how many data rows of each dataset are loaded for
// an analysis run.
const maxAnalysisRows = 50_000

// DatasetCatalog lists stored dataset metadata, newest first.
type DatasetCatalog interface {
	Recent(ctx context.Context, limit int) ([]database.DatasetEntry, error)
}

// BlobFetcher retrieves stored file bytes by object name.
type BlobFetcher interface {
	Get(ctx context.Context, objectName string) ([]byte, error)
}

// Executor runs a generated script against loaded tables.
type Executor interface {
	Execute(ctx context.Context, code string, tables map[string]*tabular.Table) (*sandbox.Result, error)
}

// AnalysisResult is what the tabular-analysis handler hands back. IsError
// marks results the caller should present as failures; Answer is always a
// complete user-facing message either way.
type AnalysisResult struct {
	Answer       string
	ChartBase64  string
	ExecutedCode string
	IsError      bool
}

// Analyst answers questions about uploaded datasets by generating an
// analysis script, executing it in the sandbox, and repairing it on failure
// with the previous code and error fed back to the model.
type Analyst struct {
	generator   Generator
	catalog     DatasetCatalog
	blobs       BlobFetcher
	interp      Executor
	maxRetries  int
	maxDatasets int
	logger      func(string)
}

// NewAnalyst wires the analysis loop. maxRetries bounds total generation
// attempts (first try included); maxDatasets bounds how many recent
// datasets form the context.
func NewAnalyst(generator Generator, catalog DatasetCatalog, blobs BlobFetcher, interp Executor, maxRetries, maxDatasets int, logger func(string)) *Analyst {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if maxDatasets <= 0 {
		maxDatasets = 5
	}
	return &Analyst{
		generator:   generator,
		catalog:     catalog,
		blobs:       blobs,
		interp:      interp,
		maxRetries:  maxRetries,
		maxDatasets: maxDatasets,
		logger:      logger,
	}
}

func (a *Analyst) log(msg string) {
	if a.logger != nil {
		a.logger(msg)
	}
}

// DatasetIdentifier derives the stable script-visible name for a dataset.
func DatasetIdentifier(id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "df_" + short
}

// Analyze runs the full loop for one question. It never returns an error:
// every failure mode maps to a user-facing message with IsError set.
func (a *Analyst) Analyze(ctx context.Context, question string) *AnalysisResult {
	entries, err := a.catalog.Recent(ctx, a.maxDatasets)
	if err != nil {
		a.log(fmt.Sprintf("[ANALYST] Failed to list datasets: %v", err))
		return &AnalysisResult{Answer: msgLoadFailed, IsError: true}
	}
	if len(entries) == 0 {
		return &AnalysisResult{Answer: msgNoData}
	}

	tables, schemaBlock, err := a.loadDatasets(ctx, entries)
	if err != nil {
		a.log(fmt.Sprintf("[ANALYST] Failed to load datasets: %v", err))
		return &AnalysisResult{Answer: msgLoadFailed, IsError: true}
	}
	a.log("[ANALYST] Loaded datasets: " + strings.Join(sortedIdentifiers(tables), ", "))

	var lastError, prevCode string
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		a.log(fmt.Sprintf("[ANALYST] Attempt %d/%d", attempt, a.maxRetries))

		code, err := a.generateCode(ctx, question, schemaBlock, lastError, prevCode)
		if err != nil {
			a.log(fmt.Sprintf("[ANALYST] Code generation failed: %v", err))
			lastError = err.Error()
			continue
		}
		a.log(fmt.Sprintf("[ANALYST] Generated code:\n%s", code))

		res, execErr := a.interp.Execute(ctx, code, tables)
		if execErr != nil {
			a.log(fmt.Sprintf("[ANALYST] Execution failed: %v", execErr))
			lastError = execErr.Error()
			prevCode = code
			if ctx.Err() != nil {
				break
			}
			continue
		}

		return a.buildResult(res, code)
	}

	return &AnalysisResult{
		Answer:       fmt.Sprintf("Не удалось выполнить анализ. Ошибка: %s", lastError),
		ExecutedCode: prevCode,
		IsError:      true,
	}
}

// loadDatasets fetches every selected dataset from blob storage, parses it,
// and renders the schema block for the prompt. Column names in the block
// come from the actually loaded tables, not from stored metadata, so the
// model only ever sees names that exist. A dataset that fails to fetch or
// parse is skipped so one corrupt old upload cannot block every analysis;
// it is an error only when nothing loads at all.
func (a *Analyst) loadDatasets(ctx context.Context, entries []database.DatasetEntry) (map[string]*tabular.Table, string, error) {
	tables := make(map[string]*tabular.Table, len(entries))
	var sb strings.Builder

	for _, entry := range entries {
		data, err := a.blobs.Get(ctx, entry.ObjectName)
		if err != nil {
			a.log(fmt.Sprintf("[ANALYST] Skipping %s: fetch failed: %v", entry.Filename, err))
			continue
		}
		table, err := tabular.Load(data, entry.Kind, maxAnalysisRows)
		if err != nil {
			a.log(fmt.Sprintf("[ANALYST] Skipping %s: parse failed: %v", entry.Filename, err))
			continue
		}

		name := DatasetIdentifier(entry.ID)
		tables[name] = table

		sb.WriteString(fmt.Sprintf("Датасет %s (файл %q, строк: %d)\n", name, entry.Filename, table.NumRows()))
		if entry.Summary != "" {
			sb.WriteString("Описание: " + entry.Summary + "\n")
		}
		sb.WriteString("Колонки:\n")
		for _, col := range table.Columns {
			if meaning := entry.Columns[col]; meaning != "" {
				sb.WriteString(fmt.Sprintf("  - %q: %s\n", col, meaning))
			} else {
				sb.WriteString(fmt.Sprintf("  - %q\n", col))
			}
		}
		sb.WriteString("\n")
	}
	if len(tables) == 0 {
		return nil, "", fmt.Errorf("none of the %d selected datasets could be loaded", len(entries))
	}
	return tables, sb.String(), nil
}

const analysisLanguageSpec = `Язык скрипта: Starlark (синтаксис как у Python, но БЕЗ import, БЕЗ while, БЕЗ классов).
Доступны ТОЛЬКО следующие функции:

Работа с таблицами (модуль tab):
  tab.columns(df)                   -> список имен колонок
  tab.rows(df)                      -> число строк
  tab.column(df, "Имя")             -> список значений колонки (строки)
  tab.cell(df, row, "Имя")          -> одно значение
  tab.filter(df, "Имя", "подстрока") -> новая таблица (поиск без учета регистра)
  tab.head(df, n)                   -> первые n строк
  tab.sort(df, "Имя", desc=True)    -> сортировка (числа сортируются как числа)
  tab.unique(df, "Имя")             -> уникальные значения
  tab.count(df)                     -> число строк
  tab.sum(df, "Имя") / tab.mean(df, "Имя") / tab.min(df, "Имя") / tab.max(df, "Имя")
  tab.group_sum(df, "Группа", "Значение") -> новая таблица из двух колонок (группа, сумма)

Графики (модуль plot):
  plot.line(x, y, title="", xlabel="", ylabel="")
  plot.bar(labels, values, title="")
  plot.pie(labels, values, title="")
  plot.scatter(x, y, title="")

Используй имена колонок ТОЧНО так, как они указаны выше, включая регистр.
Для поиска по тексту используй tab.filter с подстрокой, а не точное сравнение.
Результат ОБЯЗАТЕЛЬНО запиши в переменную final_result (строка с ответом на русском).
Если строишь график, тоже установи final_result с кратким выводом.
НЕ используй print.`

// generateCode asks the model for a script. On a repair attempt the previous
// code and its error are included so the model fixes rather than regenerates
// blindly.
func (a *Analyst) generateCode(ctx context.Context, question, schemaBlock, lastError, prevCode string) (string, error) {
	var user strings.Builder
	user.WriteString("Доступные данные:\n\n")
	user.WriteString(schemaBlock)
	user.WriteString(analysisLanguageSpec)
	user.WriteString("\n\nВопрос пользователя: ")
	user.WriteString(question)

	if lastError != "" {
		user.WriteString("\n\nПредыдущая попытка завершилась ошибкой:\n")
		user.WriteString(lastError)
		if prevCode != "" {
			user.WriteString("\n\nКод предыдущей попытки:\n")
			user.WriteString(prevCode)
		}
		user.WriteString("\n\nИсправь ошибку и верни полный рабочий скрипт.")
	}
	user.WriteString("\n\nВерни ТОЛЬКО код, без пояснений.")

	messages := []*schema.Message{
		{Role: schema.System, Content: "Ты — аналитик данных. Пиши только код, без комментариев вокруг."},
		{Role: schema.User, Content: user.String()},
	}
	resp, err := a.generator.Generate(ctx, messages, model.WithTemperature(0))
	if err != nil {
		return "", err
	}
	return extractCode(resp.Content), nil
}

// buildResult normalizes a successful execution into a user answer. When a
// chart exists and the script did not set a descriptive string answer, the
// fixed chart message replaces whatever was in the output variable.
func (a *Analyst) buildResult(res *sandbox.Result, code string) *AnalysisResult {
	out := &AnalysisResult{ExecutedCode: code}

	if len(res.Chart) > 0 {
		out.ChartBase64 = base64.StdEncoding.EncodeToString(res.Chart)
		if res.HasOutput && res.OutputIsString {
			out.Answer = res.Output
		} else {
			out.Answer = msgChartReady
		}
		return out
	}

	if res.HasOutput {
		out.Answer = res.Output
		return out
	}

	out.Answer = msgEmptyResult
	return out
}

// sortedIdentifiers is a small helper for deterministic logging of loaded
// dataset names.
func sortedIdentifiers(tables map[string]*tabular.Table) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
