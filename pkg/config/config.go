// Package config loads the chatrelay YAML configuration.
//
// String credentials may reference the environment: a value starting with
// "$" (for example "$GROQ_API_KEY" or "${GROQ_API_KEY}") is expanded at load
// time. Other values are taken literally.
//
// Backend sections carry a schema of the form {provider}/{subject}/{version}
// that selects the implementation, e.g. "openai/chat/v1".
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "CHATRELAY_CONFIG"

// DefaultPath is used when neither a flag nor EnvConfig is set.
const DefaultPath = "chatrelay.yaml"

// Backend schemas.
const (
	SchemaOpenAIChat = "openai/chat/v1"
	SchemaGeminiChat = "gemini/chat/v1"
	SchemaOpenAITTS  = "openai/tts/v1"
	SchemaGeminiTTS  = "gemini/tts/v1"
	SchemaOpenAIASR  = "openai/asr/v1"
)

// Storage and dedup kinds.
const (
	StorageLocal = "local"
	StorageS3    = "s3"

	DedupMemory = "memory"
	DedupBadger = "badger"
	DedupNone   = "none"
)

// Config is the root configuration.
type Config struct {
	Gateway Gateway `yaml:"gateway" json:"gateway"`
	Relay   Relay   `yaml:"relay" json:"relay"`
	Storage Storage `yaml:"storage" json:"storage"`
	Dedup   Dedup   `yaml:"dedup" json:"dedup"`

	Chat Backend  `yaml:"chat" json:"chat"`
	TTS  *Backend `yaml:"tts,omitempty" json:"tts,omitempty"`
	ASR  *Backend `yaml:"asr,omitempty" json:"asr,omitempty"`

	Persona Persona  `yaml:"persona" json:"persona"`
	Welcome *Welcome `yaml:"welcome,omitempty" json:"welcome,omitempty"`

	FallbackText   string `yaml:"fallback_text,omitempty" json:"fallback_text,omitempty"`
	EmptyReplyText string `yaml:"empty_reply_text,omitempty" json:"empty_reply_text,omitempty"`
	BusyText       string `yaml:"busy_text,omitempty" json:"busy_text,omitempty"`

	Log Log `yaml:"log" json:"log"`
}

// Gateway configures the chat bridge connection.
type Gateway struct {
	URL          string   `yaml:"url" json:"url"`
	Token        string   `yaml:"token,omitempty" json:"token,omitempty"`
	Codec        string   `yaml:"codec,omitempty" json:"codec,omitempty"`
	RedialDelay  Duration `yaml:"redial_delay,omitempty" json:"redial_delay,omitempty"`
	PingInterval Duration `yaml:"ping_interval,omitempty" json:"ping_interval,omitempty"`
	// IgnoreGroups defaults to true.
	IgnoreGroups *bool `yaml:"ignore_groups,omitempty" json:"ignore_groups,omitempty"`
}

// Relay configures per-user ordering.
type Relay struct {
	// Capacity bounds queued messages per user; 0 is unbounded.
	Capacity        int      `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Shards          int      `yaml:"shards,omitempty" json:"shards,omitempty"`
	TaskTimeout     Duration `yaml:"task_timeout,omitempty" json:"task_timeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
}

// Storage selects where audio artifacts are kept.
type Storage struct {
	Kind string `yaml:"kind" json:"kind"`
	Dir  string `yaml:"dir,omitempty" json:"dir,omitempty"`
	S3   S3     `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// S3 configures an S3-compatible bucket.
type S3 struct {
	Bucket          string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
	PublicURL       string `yaml:"public_url,omitempty" json:"public_url,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty" json:"path_style,omitempty"`
}

// Dedup selects the duplicate filter.
type Dedup struct {
	Kind string   `yaml:"kind" json:"kind"`
	Dir  string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	TTL  Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// Backend configures a model provider. Which fields apply depends on the
// schema.
type Backend struct {
	Schema  string `yaml:"schema" json:"schema"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`

	// Chat.
	MaxTokens     int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature   float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	UseSystemRole bool    `yaml:"use_system_role,omitempty" json:"use_system_role,omitempty"`

	// TTS.
	Voice        string  `yaml:"voice,omitempty" json:"voice,omitempty"`
	Format       string  `yaml:"format,omitempty" json:"format,omitempty"`
	Speed        float64 `yaml:"speed,omitempty" json:"speed,omitempty"`
	Instructions string  `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	LanguageCode string  `yaml:"language_code,omitempty" json:"language_code,omitempty"`

	// ASR.
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
	Prompt   string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// Provider returns the first schema segment, e.g. "openai".
func (b *Backend) Provider() string {
	p, _, _ := strings.Cut(b.Schema, "/")
	return p
}

// Persona builds the system prompt.
type Persona struct {
	Prompt           string `yaml:"prompt" json:"prompt"`
	InstructionsFile string `yaml:"instructions_file,omitempty" json:"instructions_file,omitempty"`
	// Template overrides the default prompt layout.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// Welcome configures the greeting reply.
type Welcome struct {
	Keywords []string `yaml:"keywords" json:"keywords"`
	Text     string   `yaml:"text" json:"text"`
	ImageURL string   `yaml:"image_url,omitempty" json:"image_url,omitempty"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Duration is a time.Duration written as "3s" or "1m30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ResolvePath picks the config file: flag value, then $CHATRELAY_CONFIG,
// then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads, expands, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.expandEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandEnv() {
	for _, p := range []*string{
		&c.Gateway.URL,
		&c.Gateway.Token,
		&c.Storage.S3.Endpoint,
		&c.Storage.S3.AccessKeyID,
		&c.Storage.S3.SecretAccessKey,
		&c.Chat.APIKey,
		&c.Chat.BaseURL,
	} {
		*p = expandEnv(*p)
	}
	for _, b := range []*Backend{c.TTS, c.ASR} {
		if b != nil {
			b.APIKey = expandEnv(b.APIKey)
			b.BaseURL = expandEnv(b.BaseURL)
		}
	}
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Gateway.Codec == "" {
		c.Gateway.Codec = "json"
	}
	if c.Gateway.RedialDelay == 0 {
		c.Gateway.RedialDelay = Duration(3 * time.Second)
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = Duration(30 * time.Second)
	}
	if c.Gateway.IgnoreGroups == nil {
		t := true
		c.Gateway.IgnoreGroups = &t
	}
	if c.Relay.TaskTimeout == 0 {
		c.Relay.TaskTimeout = Duration(2 * time.Minute)
	}
	if c.Relay.ShutdownTimeout == 0 {
		c.Relay.ShutdownTimeout = Duration(30 * time.Second)
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageLocal
	}
	if c.Storage.Kind == StorageLocal && c.Storage.Dir == "" {
		c.Storage.Dir = "audios"
	}
	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = "us-east-1"
	}
	if c.Dedup.Kind == "" {
		c.Dedup.Kind = DedupMemory
	}
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = Duration(24 * time.Hour)
	}
	if c.ASR != nil && c.ASR.Language == "" {
		c.ASR.Language = "es"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Gateway.URL == "" {
		fail("gateway.url is required")
	}
	switch strings.ToLower(c.Gateway.Codec) {
	case "json", "msgpack":
	default:
		fail("gateway.codec: unknown codec %q", c.Gateway.Codec)
	}
	if c.Relay.Capacity < 0 {
		fail("relay.capacity must not be negative")
	}
	switch c.Storage.Kind {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			fail("storage.s3.bucket is required")
		}
	default:
		fail("storage.kind: unknown kind %q", c.Storage.Kind)
	}
	switch c.Dedup.Kind {
	case DedupMemory, DedupNone:
	case DedupBadger:
		if c.Dedup.Dir == "" {
			fail("dedup.dir is required for badger")
		}
	default:
		fail("dedup.kind: unknown kind %q", c.Dedup.Kind)
	}

	validateBackend(fail, "chat", &c.Chat, SchemaOpenAIChat, SchemaGeminiChat)
	if c.TTS != nil {
		validateBackend(fail, "tts", c.TTS, SchemaOpenAITTS, SchemaGeminiTTS)
	}
	if c.ASR != nil {
		validateBackend(fail, "asr", c.ASR, SchemaOpenAIASR)
	}
	if c.Welcome != nil {
		if c.Welcome.Text == "" {
			fail("welcome.text is required")
		}
		if len(c.Welcome.Keywords) == 0 {
			fail("welcome.keywords is required")
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		fail("log.format: unknown format %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

func validateBackend(fail func(string, ...any), name string, b *Backend, schemas ...string) {
	known := false
	for _, s := range schemas {
		if b.Schema == s {
			known = true
		}
	}
	if !known {
		fail("%s.schema: %q is not one of %s", name, b.Schema, strings.Join(schemas, ", "))
		return
	}
	if b.APIKey == "" {
		fail("%s.api_key is required", name)
	}
	if strings.HasSuffix(b.Schema, "/chat/v1") && b.Model == "" {
		fail("%s.model is required", name)
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Gateway.Token = mask(c.Gateway.Token)
	out.Storage.S3.AccessKeyID = mask(c.Storage.S3.AccessKeyID)
	out.Storage.S3.SecretAccessKey = mask(c.Storage.S3.SecretAccessKey)
	out.Chat.APIKey = mask(c.Chat.APIKey)
	if c.TTS != nil {
		tts := *c.TTS
		tts.APIKey = mask(tts.APIKey)
		out.TTS = &tts
	}
	if c.ASR != nil {
		asr := *c.ASR
		asr.APIKey = mask(asr.APIKey)
		out.ASR = &asr
	}
	return &out
}
