package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/textclean"
)

// ClassifyEmailParams параметры инструмента classify_email
type ClassifyEmailParams struct {
	Subject string `json:"subject,omitempty" mcp:"email subject line"`
	Body    string `json:"body" mcp:"email body, plain text or HTML"`
}

// Engines источник текущего классификатора
type Engines interface {
	Engine() (*classifier.Engine, error)
}

// ClassifierMCPServer MCP сервер поверх классификатора писем
type ClassifierMCPServer struct {
	engines Engines
}

func NewClassifierMCPServer(engines Engines) *ClassifierMCPServer {
	return &ClassifierMCPServer{engines: engines}
}

func errorResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// ClassifyEmail классифицирует одно письмо; ничего не сохраняет и не меняет в ящике
func (s *ClassifierMCPServer) ClassifyEmail(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ClassifyEmailParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	engine, err := s.engines.Engine()
	if err != nil {
		return errorResult("❌ Classifier is not available: %v", err), nil
	}

	text := textclean.ClassificationText(args.Subject, args.Body)
	v, err := engine.Classify("", text)
	if err != nil {
		return errorResult("❌ Classification failed: %v", err), nil
	}
	log.Printf("📧 MCP Server: classified as %s (%.2f)", v.Label, v.Confidence)

	var b strings.Builder
	fmt.Fprintf(&b, "Label: %s\n", v.Label)
	fmt.Fprintf(&b, "Predicted: %s (confidence %.1f%%)\n", v.Predicted, v.Confidence*100)
	if v.Uncertain {
		b.WriteString("Below the confidence threshold, left for manual review.\n")
	}
	if len(v.KeyPhrases) > 0 {
		fmt.Fprintf(&b, "Key phrases: %s\n", strings.Join(v.KeyPhrases, ", "))
	}

	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: b.String()},
		},
		Meta: map[string]interface{}{
			"label":         v.Label,
			"predicted":     v.Predicted,
			"confidence":    v.Confidence,
			"uncertain":     v.Uncertain,
			"probabilities": v.Probabilities,
			"key_phrases":   v.KeyPhrases,
			"trained_rows":  engine.TrainedRows(),
		},
	}, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	engines := classifier.NewHolder(cfg.ModelDir, classifier.OptionsFromConfig(cfg))
	if _, err := engines.Engine(); err != nil {
		log.Printf("⚠️ No model loaded yet: %v", err)
	}

	log.Printf("🚀 Starting classifier MCP Server (model dir %s)", cfg.ModelDir)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "jobmail-classifier-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "classify_email",
		Description: "Classifies a job-application email into the configured labels and explains the decision with key phrases",
	}, NewClassifierMCPServer(engines).ClassifyEmail)

	log.Printf("📋 Registered MCP tools: classify_email")

	transport := mcp.NewStdioTransport()
	if err := server.Run(context.Background(), transport); err != nil {
		log.Fatalf("❌ Classifier MCP Server failed: %v", err)
	}
}
