package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Intent is the routing decision for one question.
type Intent string

const (
	// IntentStructuredQuery targets reference data in the relational store.
	IntentStructuredQuery Intent = "structured_query"
	// IntentTabularAnalysis targets uploaded dataset files.
	IntentTabularAnalysis Intent = "tabular_analysis"
	// IntentConversational covers greetings and anything unroutable.
	IntentConversational Intent = "conversational"
)

const classifierCacheTTL = 5 * time.Minute

// IntentRouter classifies questions with one constrained-JSON model call.
// Any failure degrades to IntentConversational; an unroutable question must
// never fail the request.
type IntentRouter struct {
	generator Generator
	logger    func(string)
	cache     map[string]cachedIntent
	cacheMu   sync.RWMutex
}

type cachedIntent struct {
	intent   Intent
	cachedAt time.Time
}

// NewIntentRouter creates a new router on top of the given model.
func NewIntentRouter(generator Generator, logger func(string)) *IntentRouter {
	return &IntentRouter{
		generator: generator,
		logger:    logger,
		cache:     make(map[string]cachedIntent),
	}
}

func (r *IntentRouter) log(msg string) {
	if r.logger != nil {
		r.logger(msg)
	}
}

const routerPrompt = `Ты — маршрутизатор запросов. Классифицируй вопрос пользователя в одну из трех категорий:

1. "structured_query" — вопрос о справочных данных из базы данных: списки проектов, сотрудники, планы, нормативы (НЕ загруженные файлы).
2. "tabular_analysis" — вопрос об АНАЛИЗЕ загруженных файлов (Excel/CSV): построение графиков, расчеты, сравнения, статистика.
3. "conversational" — приветствия, общие вопросы, или если категория непонятна.

Вопрос: %s

ВЕРНИ ТОЛЬКО JSON: {"intent": "выбранная_категория"}`

// Classify returns the intent for a question. It never returns an error:
// parse failures, network failures, and unknown categories all fall back
// to IntentConversational.
func (r *IntentRouter) Classify(ctx context.Context, question string) Intent {
	r.cacheMu.RLock()
	if cached, ok := r.cache[question]; ok && time.Since(cached.cachedAt) < classifierCacheTTL {
		r.cacheMu.RUnlock()
		r.log("[ROUTER] Using cached intent")
		return cached.intent
	}
	r.cacheMu.RUnlock()

	messages := []*schema.Message{
		{Role: schema.System, Content: "Ты — классификатор запросов. Выводи только валидный JSON, без другого текста."},
		{Role: schema.User, Content: fmt.Sprintf(routerPrompt, question)},
	}

	resp, err := r.generator.Generate(ctx, messages, model.WithTemperature(0))
	if err != nil {
		r.log(fmt.Sprintf("[ROUTER] Model call failed: %v, falling back to conversational", err))
		return IntentConversational
	}

	var decoded struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &decoded); err != nil {
		r.log(fmt.Sprintf("[ROUTER] Failed to parse response: %v, falling back to conversational", err))
		return IntentConversational
	}

	intent := Intent(decoded.Intent)
	switch intent {
	case IntentStructuredQuery, IntentTabularAnalysis, IntentConversational:
	default:
		r.log(fmt.Sprintf("[ROUTER] Unknown category %q, falling back to conversational", decoded.Intent))
		return IntentConversational
	}

	r.cacheMu.Lock()
	r.cache[question] = cachedIntent{intent: intent, cachedAt: time.Now()}
	r.cacheMu.Unlock()

	r.log(fmt.Sprintf("[ROUTER] Decision: %s", intent))
	return intent
}
