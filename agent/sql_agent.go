package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"parusdata/dbpool"
)

// maxSQLRows caps result sets handed back to the model so a broad SELECT
// cannot blow up the answer prompt.
const maxSQLRows = 1000

// SQLResult is the outcome of one structured-query request.
type SQLResult struct {
	Answer       string
	GeneratedSQL string
	IsError      bool
}

// SQLAgent answers questions about the reference database by generating a
// read-only query, executing it, and summarizing the rows.
type SQLAgent struct {
	generator Generator
	manager   *dbpool.DBManager
	dialect   *dbpool.Dialect
	dbPath    string
	logger    func(string)
}

// NewSQLAgent creates an agent bound to the reference database at dbPath.
func NewSQLAgent(generator Generator, manager *dbpool.DBManager, dbPath string, logger func(string)) *SQLAgent {
	return &SQLAgent{
		generator: generator,
		manager:   manager,
		dialect:   dbpool.NewDialect(manager.DefaultEngine()),
		dbPath:    dbPath,
		logger:    logger,
	}
}

func (a *SQLAgent) log(msg string) {
	if a.logger != nil {
		a.logger(msg)
	}
}

// DescribeSchema builds a textual schema description of every user table,
// one "table(column type, ...)" line per table.
func (a *SQLAgent) DescribeSchema(ctx context.Context) (string, error) {
	db, err := a.manager.OpenReadOnly(a.dbPath)
	if err != nil {
		return "", &ServiceError{Service: "SQLAgent", Operation: "open database", Err: err}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, a.dialect.ListTablesQuery())
	if err != nil {
		return "", &ServiceError{Service: "SQLAgent", Operation: "list tables", Err: err}
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return "", &ServiceError{Service: "SQLAgent", Operation: "scan table name", Err: err}
		}
		// Internal bookkeeping tables are not for the model.
		if name == "schema_migrations" {
			continue
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", &ServiceError{Service: "SQLAgent", Operation: "list tables", Err: err}
	}

	var sb strings.Builder
	for _, table := range tables {
		cols, err := a.describeColumns(ctx, db, table)
		if err != nil {
			return "", err
		}
		sb.WriteString(fmt.Sprintf("%s(%s)\n", table, strings.Join(cols, ", ")))
	}
	return sb.String(), nil
}

func (a *SQLAgent) describeColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, a.dialect.DescribeColumnsQuery(table))
	if err != nil {
		return nil, &ServiceError{Service: "SQLAgent", Operation: "describe " + table, Err: err}
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, &ServiceError{Service: "SQLAgent", Operation: "describe " + table, Err: err}
	}

	var cols []string
	for rows.Next() {
		values := make([]sql.NullString, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &ServiceError{Service: "SQLAgent", Operation: "describe " + table, Err: err}
		}
		// PRAGMA table_info puts name/type at positions 1/2; DESCRIBE at 0/1.
		var name, typ string
		if a.dialect.Engine == dbpool.EngineSQLite {
			name, typ = values[1].String, values[2].String
		} else {
			name, typ = values[0].String, values[1].String
		}
		cols = append(cols, name+" "+typ)
	}
	return cols, rows.Err()
}

const sqlPrompt = `Ты — эксперт по SQL. Напиши ОДИН SQL-запрос (только SELECT), отвечающий на вопрос пользователя.

Схема базы данных:
%s

Вопрос: %s

Правила:
- Только чтение: SELECT или WITH. Никаких INSERT/UPDATE/DELETE/DDL.
- Верни запрос в блоке ` + "```sql" + `.
- Если вопрос не относится к данным из схемы, объясни это обычным текстом без SQL.`

// Answer generates SQL for the question, runs it read-only, and summarizes
// the result. It returns a user-facing result in every case; only context
// cancellation and schema-introspection failures produce an error.
func (a *SQLAgent) Answer(ctx context.Context, question string) (*SQLResult, error) {
	schemaText, err := a.DescribeSchema(ctx)
	if err != nil {
		return nil, err
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: "Ты — аналитик данных, пишущий SQL-запросы."},
		{Role: schema.User, Content: fmt.Sprintf(sqlPrompt, schemaText, question)},
	}
	resp, err := a.generator.Generate(ctx, messages, model.WithTemperature(0))
	if err != nil {
		return nil, &ServiceError{Service: "SQLAgent", Operation: "generate SQL", Err: err}
	}

	query := ExtractSQL(resp.Content)
	if query == "" {
		// The model declined to write SQL; its explanation is the answer.
		a.log("[SQL-AGENT] No query in response, returning text verbatim")
		return &SQLResult{Answer: strings.TrimSpace(resp.Content)}, nil
	}
	a.log(fmt.Sprintf("[SQL-AGENT] Generated query: %s", query))

	if !isReadOnlyQuery(query) {
		a.log("[SQL-AGENT] Rejected non-SELECT query")
		return &SQLResult{
			Answer:       "Сгенерированный запрос изменяет данные и был отклонен.",
			GeneratedSQL: query,
			IsError:      true,
		}, nil
	}

	rowsJSON, execErr := a.executeQuery(ctx, query)
	if execErr != nil {
		// Execution errors go to the user as-is; the SQL path has no repair loop.
		return &SQLResult{
			Answer:       fmt.Sprintf("Ошибка выполнения SQL: %v", execErr),
			GeneratedSQL: query,
			IsError:      true,
		}, nil
	}

	answer, err := a.summarize(ctx, question, rowsJSON)
	if err != nil {
		return nil, err
	}
	return &SQLResult{Answer: answer, GeneratedSQL: query}, nil
}

// executeQuery runs the query read-only and returns the rows as JSON.
func (a *SQLAgent) executeQuery(ctx context.Context, query string) (string, error) {
	db, err := a.manager.OpenReadOnly(a.dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		if len(out) >= maxSQLRows {
			a.log(fmt.Sprintf("[SQL-AGENT] Result truncated at %d rows", maxSQLRows))
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (a *SQLAgent) summarize(ctx context.Context, question, rowsJSON string) (string, error) {
	messages := []*schema.Message{
		{Role: schema.System, Content: "Ты — русскоязычный ассистент. Отвечай кратко, на основе только предоставленных данных."},
		{Role: schema.User, Content: fmt.Sprintf("Вопрос: %s\n\nРезультат запроса (JSON):\n%s\n\nСформулируй ответ на вопрос.", question, rowsJSON)},
	}
	resp, err := a.generator.Generate(ctx, messages, model.WithTemperature(0.2))
	if err != nil {
		return "", &ServiceError{Service: "SQLAgent", Operation: "summarize result", Err: err}
	}
	return strings.TrimSpace(resp.Content), nil
}

var (
	sqlFenceRegex = regexp.MustCompile("(?is)```sql\\s*(.+?)\\s*```")
	sqlLabelRegex = regexp.MustCompile(`(?is)SQL(?:Query)?:\s*(.+)`)
	selectRegex   = regexp.MustCompile(`(?is)\b(SELECT\b.+)`)
)

// ExtractSQL pulls a query out of a model response. It tries, in order:
// a ```sql fence, a generic fence, an "SQL:"/"SQLQuery:" label, and finally
// the first SELECT in the text. An empty result means the response carried
// no query at all.
func ExtractSQL(content string) string {
	if m := sqlFenceRegex.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := codeFenceRegex.FindStringSubmatch(content); len(m) > 1 {
		candidate := strings.TrimSpace(m[1])
		if isReadOnlyQuery(candidate) {
			return candidate
		}
	}
	if m := sqlLabelRegex.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := selectRegex.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// isReadOnlyQuery accepts only SELECT statements and WITH clauses.
func isReadOnlyQuery(query string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH")
}
