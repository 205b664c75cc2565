package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

// Config is the single source of tunables. Components receive the parts
// they need through their constructors.
type Config struct {
	// Storage
	DataDir        string `env:"DATA_DIR" envDefault:"data"`
	DBPath         string `env:"DB_PATH" envDefault:"data/records.db"`
	StatePath      string `env:"STATE_PATH" envDefault:"state/training_progress.json"`
	SyncStatePath  string `env:"SYNC_STATE_PATH" envDefault:"state/sync_state.json"`
	ModelDir       string `env:"MODEL_DIR" envDefault:"models/email_classifier_model"`
	BaseModelPath  string `env:"BASE_MODEL_PATH"`
	VerdictLogPath string `env:"VERDICT_LOG_PATH" envDefault:"logs/verdicts.jsonl"`
	MetricsCSVPath string `env:"METRICS_CSV_PATH" envDefault:"data/metrics.csv"`

	// Decision policy
	ConfidenceThreshold float64  `env:"CONFIDENCE_THRESHOLD" envDefault:"0.85"`
	UncertainLabel      string   `env:"UNCERTAIN_LABEL" envDefault:"Uncertain"`
	Labels              []string `env:"LABELS" envSeparator:":" envDefault:"Application_Confirmation:Rejected"`
	ExplainTopN         int      `env:"EXPLAIN_TOP_N" envDefault:"3"`

	// Delta training
	AnchorSize          int     `env:"ANCHOR_SIZE" envDefault:"20"`
	AnchorSeed          int64   `env:"ANCHOR_SEED" envDefault:"42"`
	ShuffleSeed         int64   `env:"SHUFFLE_SEED" envDefault:"42"`
	LearningRate        float64 `env:"LEARNING_RATE" envDefault:"0.01"`
	WeightDecay         float64 `env:"WEIGHT_DECAY" envDefault:"0.01"`
	SmallBatchThreshold int     `env:"SMALL_BATCH_THRESHOLD" envDefault:"50"`
	SmallBatchEpochs    int     `env:"SMALL_BATCH_EPOCHS" envDefault:"3"`
	LargeBatchEpochs    int     `env:"LARGE_BATCH_EPOCHS" envDefault:"2"`
	CPUBatchSize        int     `env:"CPU_BATCH_SIZE" envDefault:"4"`
	AccelBatchSize      int     `env:"ACCEL_BATCH_SIZE" envDefault:"8"`
	MaxTokens           int     `env:"MAX_TOKENS" envDefault:"128"`
	MaxVocab            int     `env:"MAX_VOCAB" envDefault:"20000"`

	// Encoder shape, used on cold start without a base artifact
	ModelEmbd   int   `env:"MODEL_EMBD" envDefault:"32"`
	ModelHeads  int   `env:"MODEL_HEADS" envDefault:"4"`
	ModelLayers int   `env:"MODEL_LAYERS" envDefault:"2"`
	ModelSeed   int64 `env:"MODEL_SEED" envDefault:"1337"`

	// Compute device: auto, cpu or accelerator
	ComputeDevice string `env:"COMPUTE_DEVICE" envDefault:"auto"`

	// Gmail
	GmailCredentialsJSON     string `env:"GMAIL_CREDENTIALS_JSON"`
	GmailCredentialsJSONPath string `env:"GMAIL_CREDENTIALS_JSON_PATH"`
	GmailTokenPath           string `env:"GMAIL_TOKEN_PATH" envDefault:"auth/token.json"`
	GmailRefreshToken        string `env:"GMAIL_REFRESH_TOKEN"`
	ClassifyLookbackDays     int    `env:"CLASSIFY_LOOKBACK_DAYS" envDefault:"7"`
	ClassifyMaxResults       int64  `env:"CLASSIFY_MAX_RESULTS" envDefault:"100"`
	DryRun                   bool   `env:"DRY_RUN" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogOutput string `env:"LOG_OUTPUT" envDefault:"stdout"`

	// Daemon
	HTTPAddr         string `env:"HTTP_ADDR" envDefault:":8080"`
	ClassifySchedule string `env:"CLASSIFY_SCHEDULE" envDefault:"0 * * * *"`
	TrainSchedule    string `env:"TRAIN_SCHEDULE" envDefault:"0 3 * * *"`
	ReportSchedule   string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`

	// Reporting
	TelegramBotToken string      `env:"TELEGRAM_BOT_TOKEN"`
	AdminChatID      int64       `env:"ADMIN_CHAT_ID"`
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// Remote build
	RemotePushCmd      string        `env:"REMOTE_PUSH_CMD"`
	RemoteStatusCmd    string        `env:"REMOTE_STATUS_CMD"`
	RemoteFetchCmd     string        `env:"REMOTE_FETCH_CMD"`
	RemotePollInterval time.Duration `env:"REMOTE_POLL_INTERVAL" envDefault:"30s"`
	RemoteTimeout      time.Duration `env:"REMOTE_TIMEOUT" envDefault:"2h"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0,1], got %v", c.ConfidenceThreshold)
	}
	if len(c.Labels) < 2 {
		return fmt.Errorf("LABELS needs at least two classes, got %d", len(c.Labels))
	}
	seen := make(map[string]bool, len(c.Labels))
	for _, l := range c.Labels {
		if l == "" {
			return errors.New("LABELS contains an empty label")
		}
		if seen[l] {
			return fmt.Errorf("LABELS contains %q twice", l)
		}
		seen[l] = true
	}
	if c.UncertainLabel == "" || seen[c.UncertainLabel] {
		return fmt.Errorf("UNCERTAIN_LABEL %q must be non-empty and distinct from class labels", c.UncertainLabel)
	}
	if c.AnchorSize < 0 {
		return fmt.Errorf("ANCHOR_SIZE must be >= 0, got %d", c.AnchorSize)
	}
	if c.CPUBatchSize <= 0 || c.AccelBatchSize <= 0 {
		return errors.New("batch sizes must be positive")
	}
	if c.SmallBatchEpochs <= 0 || c.LargeBatchEpochs <= 0 {
		return errors.New("epoch counts must be positive")
	}
	if c.ModelHeads <= 0 || c.ModelEmbd%c.ModelHeads != 0 {
		return fmt.Errorf("MODEL_HEADS (%d) must divide MODEL_EMBD (%d)", c.ModelHeads, c.ModelEmbd)
	}
	if c.MaxTokens < 3 {
		return fmt.Errorf("MAX_TOKENS must leave room for text between [CLS] and [SEP], got %d", c.MaxTokens)
	}
	if c.ExplainTopN < 0 {
		return fmt.Errorf("EXPLAIN_TOP_N must be >= 0, got %d", c.ExplainTopN)
	}
	return nil
}

// LabelIndex maps class label to its output index.
func (c *Config) LabelIndex() map[string]int {
	m := make(map[string]int, len(c.Labels))
	for i, l := range c.Labels {
		m[l] = i
	}
	return m
}

// AllLabels returns the class labels followed by the uncertain label.
func (c *Config) AllLabels() []string {
	out := append([]string{}, c.Labels...)
	return append(out, c.UncertainLabel)
}
