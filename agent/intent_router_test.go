package agent

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyParsesIntent(t *testing.T) {
	cases := map[string]Intent{
		`{"intent": "structured_query"}`:                 IntentStructuredQuery,
		`{"intent": "tabular_analysis"}`:                 IntentTabularAnalysis,
		`{"intent": "conversational"}`:                   IntentConversational,
		"```json\n{\"intent\": \"tabular_analysis\"}```": IntentTabularAnalysis,
	}
	for response, want := range cases {
		router := NewIntentRouter(&fakeGenerator{responses: []string{response}}, nil)
		if got := router.Classify(context.Background(), "вопрос "+response); got != want {
			t.Errorf("response %q classified as %s, want %s", response, got, want)
		}
	}
}

func TestClassifyFallsBackOnModelError(t *testing.T) {
	router := NewIntentRouter(&fakeGenerator{err: errors.New("connection refused")}, nil)
	if got := router.Classify(context.Background(), "покажи проекты"); got != IntentConversational {
		t.Errorf("got %s, want conversational fallback", got)
	}
}

func TestClassifyFallsBackOnGarbage(t *testing.T) {
	for _, response := range []string{"not json at all", `{"intent": "make_coffee"}`, `{}`} {
		router := NewIntentRouter(&fakeGenerator{responses: []string{response}}, nil)
		if got := router.Classify(context.Background(), "вопрос"); got != IntentConversational {
			t.Errorf("response %q: got %s, want conversational", response, got)
		}
	}
}

func TestClassifyCachesDecision(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{"intent": "structured_query"}`}}
	router := NewIntentRouter(gen, nil)

	for i := 0; i < 3; i++ {
		if got := router.Classify(context.Background(), "сколько проектов?"); got != IntentStructuredQuery {
			t.Fatalf("call %d: got %s", i, got)
		}
	}
	if gen.calls != 1 {
		t.Errorf("expected 1 model call, got %d", gen.calls)
	}
}

func TestClassifyDoesNotCacheFallback(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"garbage", `{"intent": "tabular_analysis"}`}}
	router := NewIntentRouter(gen, nil)

	if got := router.Classify(context.Background(), "построй график"); got != IntentConversational {
		t.Fatalf("first call: got %s", got)
	}
	if got := router.Classify(context.Background(), "построй график"); got != IntentTabularAnalysis {
		t.Errorf("second call should retry classification, got %s", got)
	}
}
