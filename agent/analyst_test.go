package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"parusdata/database"
	"parusdata/sandbox"
	"parusdata/tabular"
)

type fakeCatalog struct {
	entries []database.DatasetEntry
	err     error
}

func (f *fakeCatalog) Recent(_ context.Context, limit int) ([]database.DatasetEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fakeBlobs struct {
	objects map[string][]byte
	err     error
}

func (f *fakeBlobs) Get(_ context.Context, objectName string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectName)
	}
	return data, nil
}

// fakeExecutor fails the first failUntil calls, then returns result.
type fakeExecutor struct {
	failUntil int
	failErr   error
	result    *sandbox.Result
	calls     int
	codes     []string
}

func (f *fakeExecutor) Execute(_ context.Context, code string, _ map[string]*tabular.Table) (*sandbox.Result, error) {
	f.calls++
	f.codes = append(f.codes, code)
	if f.calls <= f.failUntil {
		return nil, f.failErr
	}
	return f.result, nil
}

func salesEntry() database.DatasetEntry {
	return database.DatasetEntry{
		ID:         "0a1b2c3d-0000-0000-0000-000000000000",
		Filename:   "sales.csv",
		ObjectName: "1700000000_sales.csv",
		Kind:       tabular.KindCSV,
		Columns:    map[string]string{"Выручка": "выручка в рублях"},
		Summary:    "продажи по регионам",
		CreatedAt:  time.Now(),
	}
}

func salesBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{
		"1700000000_sales.csv": []byte("Регион,Выручка\nМосква,100\nКазань,50\n"),
	}}
}

func TestAnalyzeNoDatasets(t *testing.T) {
	gen := &fakeGenerator{}
	exec := &fakeExecutor{}
	a := NewAnalyst(gen, &fakeCatalog{}, salesBlobs(), exec, 3, 5, nil)
	result := a.Analyze(context.Background(), "сколько всего выручки?")
	if result.Answer != msgNoData {
		t.Errorf("got %q, want no-data message", result.Answer)
	}
	if result.IsError {
		t.Error("missing data is guidance, not a failure")
	}
	if gen.calls != 0 || exec.calls != 0 {
		t.Errorf("no-data must short-circuit: gen=%d exec=%d", gen.calls, exec.calls)
	}
}

func TestAnalyzeCatalogFailure(t *testing.T) {
	a := NewAnalyst(&fakeGenerator{}, &fakeCatalog{err: errors.New("db locked")}, salesBlobs(), &fakeExecutor{}, 3, 5, nil)
	result := a.Analyze(context.Background(), "вопрос")
	if result.Answer != msgLoadFailed || !result.IsError {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAnalyzeBlobFailure(t *testing.T) {
	a := NewAnalyst(&fakeGenerator{}, &fakeCatalog{entries: []database.DatasetEntry{salesEntry()}},
		&fakeBlobs{err: errors.New("connection refused")}, &fakeExecutor{}, 3, 5, nil)
	result := a.Analyze(context.Background(), "вопрос")
	if result.Answer != msgLoadFailed || !result.IsError {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAnalyzeSkipsBrokenDataset(t *testing.T) {
	broken := salesEntry()
	broken.ID = "deadbeef-0000-0000-0000-000000000000"
	broken.Filename = "old.csv"
	broken.ObjectName = "1600000000_old.csv"

	gen := &fakeGenerator{responses: []string{"final_result = \"итого 150\""}}
	exec := &fakeExecutor{result: &sandbox.Result{Output: "итого 150", HasOutput: true, OutputIsString: true}}
	a := NewAnalyst(gen, &fakeCatalog{entries: []database.DatasetEntry{broken, salesEntry()}}, salesBlobs(), exec, 3, 5, nil)

	result := a.Analyze(context.Background(), "сумма выручки")
	if result.IsError {
		t.Fatalf("one broken dataset must not block analysis: %q", result.Answer)
	}
	if result.Answer != "итого 150" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "df_0a1b2c3d") {
		t.Error("loadable dataset missing from prompt")
	}
	if strings.Contains(prompt, "df_deadbeef") {
		t.Error("broken dataset must be skipped, not described")
	}
}

func TestAnalyzeSuccessFirstTry(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"final_result = \"итого 150\""}}
	exec := &fakeExecutor{result: &sandbox.Result{Output: "итого 150", HasOutput: true, OutputIsString: true}}
	a := NewAnalyst(gen, &fakeCatalog{entries: []database.DatasetEntry{salesEntry()}}, salesBlobs(), exec, 3, 5, nil)

	result := a.Analyze(context.Background(), "сколько всего выручки?")
	if result.IsError {
		t.Fatalf("unexpected error result: %q", result.Answer)
	}
	if result.Answer != "итого 150" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if result.ExecutedCode == "" {
		t.Error("executed code not surfaced")
	}
	// The prompt must name the dataset identifier and the loaded columns.
	prompt := gen.prompts[0]
	for _, want := range []string{"df_0a1b2c3d", "Выручка", "выручка в рублях", "final_result"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAnalyzeRepairsAfterFailure(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"final_result = tab.sum(df_0a1b2c3d, \"выручка\")",
		"final_result = tab.sum(df_0a1b2c3d, \"Выручка\")",
	}}
	exec := &fakeExecutor{
		failUntil: 1,
		failErr:   errors.New(`EvalError: column "выручка" not found`),
		result:    &sandbox.Result{Output: "150", HasOutput: true},
	}
	a := NewAnalyst(gen, &fakeCatalog{entries: []database.DatasetEntry{salesEntry()}}, salesBlobs(), exec, 3, 5, nil)

	result := a.Analyze(context.Background(), "сумма выручки")
	if result.IsError {
		t.Fatalf("unexpected error result: %q", result.Answer)
	}
	if result.Answer != "150" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if exec.calls != 2 {
		t.Errorf("expected 2 executions, got %d", exec.calls)
	}
	// The repair prompt must carry the previous error and code.
	repair := gen.prompts[1]
	if !strings.Contains(repair, "column \"выручка\" not found") {
		t.Error("repair prompt missing previous error")
	}
	if !strings.Contains(repair, gen.responses[0]) {
		t.Error("repair prompt missing previous code")
	}
}

func TestAnalyzeExhaustsRetries(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"bad code"}}
	exec := &fakeExecutor{failUntil: 100, failErr: errors.New("EvalError: boom")}
	a := NewAnalyst(gen, &fakeCatalog{entries: []database.DatasetEntry{salesEntry()}}, salesBlobs(), exec, 2, 5, nil)

	result := a.Analyze(context.Background(), "вопрос")
	if !result.IsError {
		t.Fatal("exhausted retries must be an error result")
	}
	if !strings.Contains(result.Answer, "Не удалось выполнить анализ") || !strings.Contains(result.Answer, "boom") {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if exec.calls != 2 {
		t.Errorf("retry bound not honored: %d executions", exec.calls)
	}
}

func TestAnalyzeChartWithoutStringAnswer(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"plot.bar(...)"}}
	exec := &fakeExecutor{result: &sandbox.Result{
		Output: "[1, 2]", HasOutput: true, OutputIsString: false, Chart: []byte("\x89PNGfake"),
	}}
	a := NewAnalyst(gen, &fakeCatalog{entries: []database.DatasetEntry{salesEntry()}}, salesBlobs(), exec, 3, 5, nil)

	result := a.Analyze(context.Background(), "построй график")
	if result.Answer != msgChartReady {
		t.Errorf("non-string output next to a chart should be replaced, got %q", result.Answer)
	}
	if result.ChartBase64 == "" {
		t.Error("chart not encoded")
	}
}

func TestAnalyzeChartKeepsStringAnswer(t *testing.T) {
	exec := &fakeExecutor{result: &sandbox.Result{
		Output: "Москва лидирует по выручке", HasOutput: true, OutputIsString: true, Chart: []byte("\x89PNGfake"),
	}}
	a := NewAnalyst(&fakeGenerator{responses: []string{"code"}},
		&fakeCatalog{entries: []database.DatasetEntry{salesEntry()}}, salesBlobs(), exec, 3, 5, nil)

	result := a.Analyze(context.Background(), "построй график")
	if result.Answer != "Москва лидирует по выручке" {
		t.Errorf("descriptive answer must survive, got %q", result.Answer)
	}
}

func TestAnalyzeEmptyResultMessage(t *testing.T) {
	exec := &fakeExecutor{result: &sandbox.Result{}}
	a := NewAnalyst(&fakeGenerator{responses: []string{"x = 1"}},
		&fakeCatalog{entries: []database.DatasetEntry{salesEntry()}}, salesBlobs(), exec, 3, 5, nil)

	result := a.Analyze(context.Background(), "вопрос")
	if result.Answer != msgEmptyResult {
		t.Errorf("got %q, want empty-result message", result.Answer)
	}
}

func TestDatasetIdentifier(t *testing.T) {
	if got := DatasetIdentifier("0a1b2c3d-0000-0000-0000-000000000000"); got != "df_0a1b2c3d" {
		t.Errorf("got %q", got)
	}
	if got := DatasetIdentifier("abc"); got != "df_abc" {
		t.Errorf("short ids pass through, got %q", got)
	}
}
