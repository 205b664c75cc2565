// Package classifier turns a checkpoint into gated, explained verdicts.
package classifier

import (
	"errors"
	"fmt"
	"strings"

	"jobmail/internal/config"
	"jobmail/internal/explain"
	"jobmail/internal/model"
)

var ErrEmptyText = errors.New("nothing to classify")

type Options struct {
	Labels         []string
	Threshold      float64
	UncertainLabel string
	TopN           int
	MaxTokens      int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Labels:         append([]string(nil), cfg.Labels...),
		Threshold:      cfg.ConfidenceThreshold,
		UncertainLabel: cfg.UncertainLabel,
		TopN:           cfg.ExplainTopN,
		MaxTokens:      cfg.MaxTokens,
	}
}

// Verdict is the outcome for one text. Label is the class label when
// Confidence reaches the threshold and the uncertain label otherwise;
// Predicted always holds the argmax class.
type Verdict struct {
	RecordID      string             `json:"record_id,omitempty"`
	Label         string             `json:"label"`
	Predicted     string             `json:"predicted"`
	Confidence    float64            `json:"confidence"`
	Uncertain     bool               `json:"uncertain"`
	Probabilities map[string]float64 `json:"probabilities"`
	KeyPhrases    []string           `json:"key_phrases"`
}

// Decide applies argmax and confidence gating to a probability vector.
func Decide(probs []float64, labels []string, threshold float64, uncertain string) (label string, predicted int, confidence float64) {
	predicted = -1
	for i, p := range probs {
		if predicted < 0 || p > confidence {
			predicted, confidence = i, p
		}
	}
	if predicted < 0 || predicted >= len(labels) || confidence < threshold {
		return uncertain, predicted, confidence
	}
	return labels[predicted], predicted, confidence
}

// Engine classifies with a frozen checkpoint. It never writes to the
// checkpoint and is safe for concurrent use.
type Engine struct {
	ckpt *model.Checkpoint
	opts Options
}

func New(ckpt *model.Checkpoint, opts Options) (*Engine, error) {
	if ckpt == nil || ckpt.Encoder == nil || ckpt.Tokenizer == nil {
		return nil, errors.New("classifier: incomplete checkpoint")
	}
	if len(ckpt.Labels) != len(opts.Labels) {
		return nil, fmt.Errorf("classifier: checkpoint has %d labels, configured %d", len(ckpt.Labels), len(opts.Labels))
	}
	for i := range opts.Labels {
		if ckpt.Labels[i] != opts.Labels[i] {
			return nil, fmt.Errorf("classifier: checkpoint label %d is %q, configured %q", i, ckpt.Labels[i], opts.Labels[i])
		}
	}
	if opts.MaxTokens <= 0 || opts.MaxTokens > ckpt.Encoder.Shape.MaxLen {
		opts.MaxTokens = ckpt.Encoder.Shape.MaxLen
	}
	return &Engine{ckpt: ckpt, opts: opts}, nil
}

// Load opens the latest published checkpoint under dir.
func Load(dir string, opts Options) (*Engine, error) {
	ckpt, err := model.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return New(ckpt, opts)
}

func (e *Engine) Labels() []string { return append([]string(nil), e.opts.Labels...) }

// TrainedRows reports how much of the dataset the loaded checkpoint has seen.
func (e *Engine) TrainedRows() int { return e.ckpt.TrainedRows }

// Classify scores cleanedText and explains the result.
func (e *Engine) Classify(recordID, cleanedText string) (Verdict, error) {
	if strings.TrimSpace(cleanedText) == "" {
		return Verdict{}, ErrEmptyText
	}
	ids := e.ckpt.Tokenizer.Encode(cleanedText, e.opts.MaxTokens)
	out, err := e.ckpt.Encoder.Predict(ids)
	if err != nil {
		return Verdict{}, fmt.Errorf("inference: %w", err)
	}

	probs := out.Probabilities()
	label, predicted, confidence := Decide(probs, e.opts.Labels, e.opts.Threshold, e.opts.UncertainLabel)
	v := Verdict{
		RecordID:      recordID,
		Label:         label,
		Confidence:    confidence,
		Uncertain:     label == e.opts.UncertainLabel,
		Probabilities: make(map[string]float64, len(probs)),
		KeyPhrases:    explain.Explain(e.ckpt.Tokenizer.Surface(cleanedText, e.opts.MaxTokens), out.LastLayerAttention(), e.opts.TopN),
	}
	if predicted >= 0 && predicted < len(e.opts.Labels) {
		v.Predicted = e.opts.Labels[predicted]
	}
	for i, p := range probs {
		if i < len(e.opts.Labels) {
			v.Probabilities[e.opts.Labels[i]] = p
		}
	}
	return v, nil
}
