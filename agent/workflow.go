package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
)

const msgInternalError = "⚠️ Произошла внутренняя ошибка при обработке запроса."

// RunState carries one question through the graph.
type RunState struct {
	Question  string
	SessionID string
	Intent    Intent
}

// Response is the normalized result every handler produces. Exactly one
// shape reaches the caller regardless of which path answered.
type Response struct {
	Answer       string `json:"answer"`
	ChartBase64  string `json:"chartBase64,omitempty"`
	IsError      bool   `json:"isError"`
	Intent       Intent `json:"intent"`
	GeneratedSQL string `json:"generatedSql,omitempty"`
	ExecutedCode string `json:"executedCode,omitempty"`
}

// Classifier decides which handler answers a question.
type Classifier interface {
	Classify(ctx context.Context, question string) Intent
}

// StructuredQueryHandler answers questions against the reference database.
type StructuredQueryHandler interface {
	Answer(ctx context.Context, question string) (*SQLResult, error)
}

// TabularAnalysisHandler answers questions about uploaded datasets.
type TabularAnalysisHandler interface {
	Analyze(ctx context.Context, question string) *AnalysisResult
}

// Chatter answers freeform conversational messages.
type Chatter interface {
	Chat(ctx context.Context, system, user string, temperature float32) (string, error)
}

const chatSystemPrompt = `Ты — русскоязычный ассистент Parus AI. Ты помогаешь анализировать данные: отвечаешь на вопросы о справочных данных и загруженных Excel/CSV файлах. Отвечай дружелюбно и кратко.`

const defaultChatTemperature = 0.3

// Workflow is the compiled routing graph: classify the question, dispatch
// to one of three handlers, normalize the result.
type Workflow struct {
	runner compose.Runnable[*RunState, *Response]
	logger func(string)
}

// NewWorkflow builds and compiles the graph. chatTemperature applies to the
// conversational branch; <= 0 selects the default.
func NewWorkflow(ctx context.Context, classifier Classifier, sqlAgent StructuredQueryHandler, analyst TabularAnalysisHandler, chatter Chatter, chatTemperature float32, logger func(string)) (*Workflow, error) {
	if chatTemperature <= 0 {
		chatTemperature = defaultChatTemperature
	}
	g := compose.NewGraph[*RunState, *Response]()

	router := compose.InvokableLambda(func(ctx context.Context, state *RunState) (*RunState, error) {
		state.Intent = classifier.Classify(ctx, state.Question)
		return state, nil
	})

	structuredNode := compose.InvokableLambda(func(ctx context.Context, state *RunState) (*Response, error) {
		result, err := sqlAgent.Answer(ctx, state.Question)
		if err != nil {
			if logger != nil {
				logger(fmt.Sprintf("[WORKFLOW] structured_query failed: %v", err))
			}
			return &Response{Answer: msgInternalError, IsError: true, Intent: state.Intent}, nil
		}
		return &Response{
			Answer:       result.Answer,
			IsError:      result.IsError,
			Intent:       state.Intent,
			GeneratedSQL: result.GeneratedSQL,
		}, nil
	})

	tabularNode := compose.InvokableLambda(func(ctx context.Context, state *RunState) (*Response, error) {
		result := analyst.Analyze(ctx, state.Question)
		return &Response{
			Answer:       result.Answer,
			ChartBase64:  result.ChartBase64,
			IsError:      result.IsError,
			Intent:       state.Intent,
			ExecutedCode: result.ExecutedCode,
		}, nil
	})

	chatNode := compose.InvokableLambda(func(ctx context.Context, state *RunState) (*Response, error) {
		answer, err := chatter.Chat(ctx, chatSystemPrompt, state.Question, chatTemperature)
		if err != nil {
			if logger != nil {
				logger(fmt.Sprintf("[WORKFLOW] conversational failed: %v", err))
			}
			return &Response{Answer: msgInternalError, IsError: true, Intent: state.Intent}, nil
		}
		return &Response{Answer: answer, Intent: state.Intent}, nil
	})

	if err := g.AddLambdaNode("router", router); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(string(IntentStructuredQuery), structuredNode); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(string(IntentTabularAnalysis), tabularNode); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(string(IntentConversational), chatNode); err != nil {
		return nil, err
	}

	branch := compose.NewGraphBranch(func(ctx context.Context, state *RunState) (string, error) {
		return string(state.Intent), nil
	}, map[string]bool{
		string(IntentStructuredQuery): true,
		string(IntentTabularAnalysis): true,
		string(IntentConversational):  true,
	})

	if err := g.AddEdge(compose.START, "router"); err != nil {
		return nil, err
	}
	if err := g.AddBranch("router", branch); err != nil {
		return nil, err
	}
	for _, node := range []string{string(IntentStructuredQuery), string(IntentTabularAnalysis), string(IntentConversational)} {
		if err := g.AddEdge(node, compose.END); err != nil {
			return nil, err
		}
	}

	runner, err := g.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow graph: %w", err)
	}
	return &Workflow{runner: runner, logger: logger}, nil
}

func (w *Workflow) log(msg string) {
	if w.logger != nil {
		w.logger(msg)
	}
}

// Run answers one question. A panic anywhere in the graph degrades to the
// internal-error response instead of taking down the caller.
func (w *Workflow) Run(ctx context.Context, question, sessionID string) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			w.log(fmt.Sprintf("[WORKFLOW] Recovered from panic: %v", r))
			resp = &Response{Answer: msgInternalError, IsError: true, Intent: IntentConversational}
		}
	}()

	w.log(fmt.Sprintf("[WORKFLOW] Question from session %s: %s", sessionID, question))
	out, err := w.runner.Invoke(ctx, &RunState{Question: question, SessionID: sessionID})
	if err != nil {
		w.log(fmt.Sprintf("[WORKFLOW] Invoke failed: %v", err))
		return &Response{Answer: msgInternalError, IsError: true, Intent: IntentConversational}
	}
	return out
}
