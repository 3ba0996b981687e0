package agent

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeGenerator replays scripted responses and records the prompts it saw.
type fakeGenerator struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeGenerator) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(input) > 0 {
		f.prompts = append(f.prompts, input[len(input)-1].Content)
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		if len(f.responses) == 0 {
			return nil, errors.New("fakeGenerator: no responses scripted")
		}
		idx = len(f.responses) - 1
	}
	return &schema.Message{Role: schema.Assistant, Content: f.responses[idx]}, nil
}
