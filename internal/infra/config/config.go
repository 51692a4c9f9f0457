package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxUploadBytesMb int64 `yaml:"max_upload_mb"`
	MaxBatchFiles    int   `yaml:"max_batch_files"`

	Retention         time.Duration `yaml:"retention"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`

	Store StoreKind `yaml:"store"`
	Blob  Blob      `yaml:"blob"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`

	Media   Media   `yaml:"media"`
	OpenAI  OpenAI  `yaml:"openai"`
	SMTP    SMTP    `yaml:"smtp"`
	Prompts Prompts `yaml:"prompts"`
}

type StoreKind struct {
	Kind string `yaml:"kind"` // redis | memory
}

type Blob struct {
	Kind    string `yaml:"kind"` // local | minio | dual
	BaseDir string `yaml:"base_dir"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

type NATS struct {
	URL           string `yaml:"url"`
	QueueName     string `yaml:"queue_name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Subject       string `yaml:"subject"`
}

type Media struct {
	FFmpegPath        string  `yaml:"ffmpeg_path"`
	FFprobePath       string  `yaml:"ffprobe_path"`
	MaxSegmentMb      int64   `yaml:"max_segment_mb"`
	MinSegmentSeconds float64 `yaml:"min_segment_seconds"`
	MaxSegmentSeconds float64 `yaml:"max_segment_seconds"`
	Bitrate           string  `yaml:"bitrate"`
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
}

type OpenAI struct {
	// APIKey is read from OPENAI_API_KEY, never from yaml.
	APIKey         string        `yaml:"-"`
	ChatModel      string        `yaml:"chat_model"`
	MaxTokens      int           `yaml:"max_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	From     string `yaml:"from"`
	// Password is read from SMTP_PASSWORD, never from yaml.
	Password string `yaml:"-"`
}

type Prompts struct {
	CleanupTemplate string `yaml:"cleanup_template"`
	SummaryTemplate string `yaml:"summary_template"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.Retention <= 0 {
		log.Fatalf("config: retention must be positive, got %s", cfg.Retention)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 200
	}
	if cfg.MaxBatchFiles <= 0 {
		cfg.MaxBatchFiles = 10
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}

	if cfg.Store.Kind == "" {
		cfg.Store.Kind = "memory"
	}
	if cfg.Blob.Kind == "" {
		cfg.Blob.Kind = "local"
	}
	if cfg.Blob.BaseDir == "" {
		cfg.Blob.BaseDir = "./data"
	}
	if cfg.Store.Kind == "redis" && cfg.Redis.Addr == "" {
		log.Fatalf("config: store.kind is redis but redis.addr is empty")
	}
	if (cfg.Blob.Kind == "minio" || cfg.Blob.Kind == "dual") && cfg.MinIO.Endpoint == "" {
		log.Fatalf("config: blob.kind is %s but minio.endpoint is empty", cfg.Blob.Kind)
	}
	if cfg.NATS.URL == "" {
		log.Fatalf("config: nats.url is empty")
	}
	if cfg.NATS.Subject == "" {
		log.Fatalf("config: nats.subject is empty")
	}

	applyMediaDefaults(&cfg.Media)
	applyOpenAIDefaults(&cfg.OpenAI)

	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")

	if cfg.Prompts.CleanupTemplate == "" {
		cfg.Prompts.CleanupTemplate = defaultCleanupTemplate
	}
	if cfg.Prompts.SummaryTemplate == "" {
		cfg.Prompts.SummaryTemplate = defaultSummaryTemplate
	}

	return &cfg
}

func applyMediaDefaults(m *Media) {
	if m.FFmpegPath == "" {
		m.FFmpegPath = "ffmpeg"
	}
	if m.FFprobePath == "" {
		m.FFprobePath = "ffprobe"
	}
	if m.MaxSegmentMb <= 0 {
		m.MaxSegmentMb = 20
	}
	if m.MinSegmentSeconds <= 0 {
		m.MinSegmentSeconds = 60
	}
	if m.MaxSegmentSeconds <= 0 {
		m.MaxSegmentSeconds = 1200
	}
	if m.Bitrate == "" {
		m.Bitrate = "128k"
	}
	if m.SampleRate <= 0 {
		m.SampleRate = 44100
	}
	if m.Channels <= 0 {
		m.Channels = 1
	}
}

func applyOpenAIDefaults(o *OpenAI) {
	if o.ChatModel == "" {
		o.ChatModel = "gpt-4o"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 16000
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
}

const defaultCleanupTemplate = `You are an editor for interview transcripts.
Rewrite the transcript below into a clean, readable transcript in Markdown.
Fix punctuation and obvious transcription mistakes, keep speaker turns,
and do not invent content that is not in the source.`

const defaultSummaryTemplate = `Summarize the interview below in Markdown.
Start with the key takeaways, then a short section per topic.
Keep names, dates and figures exactly as they appear in the source.`
