package agent

import (
	"context"
	"strings"
	"testing"
)

func TestChatDetailedLoggingDumpsExchange(t *testing.T) {
	var logs []string
	svc := &LLMService{
		chatModel: &fakeGenerator{responses: []string{"ответ модели"}},
		logger:    func(m string) { logs = append(logs, m) },
		detailed:  true,
	}

	out, err := svc.Chat(context.Background(), "системный промпт", "вопрос пользователя", 0.1)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out != "ответ модели" {
		t.Errorf("unexpected answer: %q", out)
	}

	joined := strings.Join(logs, "\n")
	for _, want := range []string{"вопрос пользователя", "системный промпт", "ответ модели"} {
		if !strings.Contains(joined, want) {
			t.Errorf("detailed log missing %q:\n%s", want, joined)
		}
	}
}

func TestChatQuietWithoutDetailedLog(t *testing.T) {
	var logs []string
	svc := &LLMService{
		chatModel: &fakeGenerator{responses: []string{"ответ"}},
		logger:    func(m string) { logs = append(logs, m) },
	}

	if _, err := svc.Chat(context.Background(), "система", "вопрос", 0.1); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("prompts must not be logged by default: %v", logs)
	}
}
