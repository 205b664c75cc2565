package main

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"jobmail/internal/classifier"
	"jobmail/internal/model"
)

type staticEngines struct {
	engine *classifier.Engine
	err    error
}

func (s staticEngines) Engine() (*classifier.Engine, error) { return s.engine, s.err }

func newEngine(t *testing.T) *classifier.Engine {
	t.Helper()
	labels := []string{"Application_Confirmation", "Rejected"}
	tok := model.NewTokenizer()
	tok.Extend([]string{"thank you for applying"}, 100)
	enc, err := model.NewEncoder(model.Shape{Embd: 8, Heads: 2, Layers: 1, MaxLen: 16}, tok.Size(), len(labels), 1)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	e, err := classifier.New(&model.Checkpoint{Encoder: enc, Tokenizer: tok, Labels: labels},
		classifier.Options{Labels: labels, Threshold: 0.85, UncertainLabel: "Uncertain", TopN: 3, MaxTokens: 16})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func call(s *ClassifierMCPServer, args ClassifyEmailParams) *mcp.CallToolResultFor[any] {
	res, _ := s.ClassifyEmail(context.Background(), nil, &mcp.CallToolParamsFor[ClassifyEmailParams]{Arguments: args})
	return res
}

func TestClassifyEmail(t *testing.T) {
	s := NewClassifierMCPServer(staticEngines{engine: newEngine(t)})
	res := call(s, ClassifyEmailParams{Subject: "Thank you for applying", Body: "<p>We got your application</p>"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}
	if _, ok := res.Meta["label"].(string); !ok {
		t.Fatalf("meta missing label: %+v", res.Meta)
	}
}

func TestClassifyEmail_Errors(t *testing.T) {
	if res := call(NewClassifierMCPServer(staticEngines{err: classifier.ErrNoModel}), ClassifyEmailParams{Body: "hi"}); !res.IsError {
		t.Fatalf("missing model should be an error result")
	}
	if res := call(NewClassifierMCPServer(staticEngines{engine: newEngine(t)}), ClassifyEmailParams{}); !res.IsError {
		t.Fatalf("empty email should be an error result")
	}
}
