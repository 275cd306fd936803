// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/koscakluka/ema-call/core/synthesis"
	"gopkg.in/yaml.v3"
)

const (
	LLMProviderGroq       = "groq"
	LLMProviderOpenRouter = "openrouter"
	LLMProviderOpenAI     = "openai"
	LLMProviderGemini     = "gemini"

	TTSProviderElevenLabs = "elevenlabs"
	TTSProviderDeepgram   = "deepgram"

	STTProviderAssemblyAI = "assemblyai"
	STTProviderDeepgram   = "deepgram"

	ProviderNone = "none"
)

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Session     SessionConfig   `yaml:"session"`
	Spans       SpansConfig     `yaml:"spans"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	STT         STTConfig       `yaml:"stt"`
	Bus         BusConfig       `yaml:"bus"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
	// MaxUtteranceBytes bounds the audio buffered for one utterance.
	MaxUtteranceBytes int `yaml:"max_utterance_bytes"`
}

func (c HTTPConfig) Addr() string {
	return c.Bind + ":" + strconv.Itoa(c.Port)
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// ExportLogs sends library logs through the OpenTelemetry log pipeline
	// to stderr.
	ExportLogs bool `yaml:"export_logs"`
}

type SessionConfig struct {
	SystemPrompt        string `yaml:"system_prompt"`
	HistoryLimit        int    `yaml:"history_limit"`
	MinTranscriptLength int    `yaml:"min_transcript_length"`
	LLMTimeoutMS        int    `yaml:"llm_timeout_ms"`
	FallbackMessage     string `yaml:"fallback_message"`
	Intensity           string `yaml:"intensity"`
	TargetLatencyMS     int    `yaml:"target_latency_ms"`
}

func (c SessionConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMS) * time.Millisecond
}

type SpansConfig struct {
	MinTokens         int    `yaml:"min_tokens"`
	Terminators       string `yaml:"terminators"`
	FlushOnWhitespace bool   `yaml:"flush_on_whitespace"`
}

type SynthesisConfig struct {
	Concurrency    int `yaml:"concurrency"`
	MinIntervalMS  int `yaml:"min_interval_ms"`
	MaxRetries     int `yaml:"max_retries"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
	CallTimeoutMS  int `yaml:"call_timeout_ms"`
}

func (c SynthesisConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

func (c SynthesisConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

func (c SynthesisConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	Voice      string `yaml:"voice"`
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
	Encoding   string `yaml:"encoding"`
}

type STTConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	Language   string `yaml:"language"`
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
	Encoding   string `yaml:"encoding"`
}

type BusConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Servers          []string `yaml:"servers"`
	Subject          string   `yaml:"subject"`
	Token            string   `yaml:"token"`
	ConnectTimeoutMS int      `yaml:"connect_timeout_ms"`
}

func (c BusConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func Default() Config {
	return Config{
		ServiceName: "ema-call",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:              "0.0.0.0",
			Port:              3000,
			MaxUtteranceBytes: 16 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			ExportLogs:   true,
		},
		Session: SessionConfig{
			HistoryLimit:        6,
			MinTranscriptLength: 3,
			LLMTimeoutMS:        15000,
			Intensity:           "medium",
			TargetLatencyMS:     300,
		},
		Spans: SpansConfig{
			MinTokens:   5,
			Terminators: ".!?\n।॥",
		},
		Synthesis: SynthesisConfig{
			Concurrency:    1,
			MinIntervalMS:  600,
			MaxRetries:     2,
			RetryBackoffMS: 1000,
			CallTimeoutMS:  12000,
		},
		LLM: LLMConfig{
			Provider:    LLMProviderOpenRouter,
			MaxTokens:   150,
			Temperature: 0.7,
		},
		TTS: TTSConfig{
			Provider:   TTSProviderElevenLabs,
			SampleRate: 16000,
			Encoding:   "mp3",
		},
		STT: STTConfig{
			Provider:   STTProviderAssemblyAI,
			Language:   "hi",
			SampleRate: 16000,
			Encoding:   "linear16",
		},
		Bus: BusConfig{
			Servers:          []string{"nats://localhost:4222"},
			Subject:          "ema.call.turn",
			ConnectTimeoutMS: 2000,
		},
	}
}

// Load reads path over Default, applies the environment and validates the
// result. An empty path loads the defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML with every API key masked.
func (c Config) Marshal() ([]byte, error) {
	masked := c
	masked.LLM.APIKey = mask(c.LLM.APIKey)
	masked.TTS.APIKey = mask(c.TTS.APIKey)
	masked.STT.APIKey = mask(c.STT.APIKey)
	masked.Bus.Token = mask(c.Bus.Token)
	return yaml.Marshal(masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "EMA_SERVICE_NAME")
	overrideString(&cfg.Environment, "EMA_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "EMA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "EMA_HTTP_PORT")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.MaxUtteranceBytes, "EMA_HTTP_MAX_UTTERANCE_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "EMA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "EMA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "EMA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.ExportLogs, "EMA_TELEMETRY_EXPORT_LOGS")
	overrideString(&cfg.Session.SystemPrompt, "EMA_SESSION_SYSTEM_PROMPT")
	overrideInt(&cfg.Session.HistoryLimit, "EMA_SESSION_HISTORY_LIMIT")
	overrideInt(&cfg.Session.MinTranscriptLength, "EMA_SESSION_MIN_TRANSCRIPT_LENGTH")
	overrideInt(&cfg.Session.LLMTimeoutMS, "EMA_SESSION_LLM_TIMEOUT_MS")
	overrideString(&cfg.Session.FallbackMessage, "EMA_SESSION_FALLBACK_MESSAGE")
	overrideString(&cfg.Session.Intensity, "EMA_SESSION_INTENSITY")
	overrideInt(&cfg.Spans.MinTokens, "EMA_SPANS_MIN_TOKENS")
	overrideString(&cfg.Spans.Terminators, "EMA_SPANS_TERMINATORS")
	overrideBool(&cfg.Spans.FlushOnWhitespace, "EMA_SPANS_FLUSH_ON_WHITESPACE")
	overrideInt(&cfg.Synthesis.Concurrency, "EMA_SYNTHESIS_CONCURRENCY")
	overrideInt(&cfg.Synthesis.MinIntervalMS, "EMA_SYNTHESIS_MIN_INTERVAL_MS")
	overrideInt(&cfg.Synthesis.MaxRetries, "EMA_SYNTHESIS_MAX_RETRIES")
	overrideInt(&cfg.Synthesis.RetryBackoffMS, "EMA_SYNTHESIS_RETRY_BACKOFF_MS")
	overrideInt(&cfg.Synthesis.CallTimeoutMS, "EMA_SYNTHESIS_CALL_TIMEOUT_MS")
	overrideString(&cfg.LLM.Provider, "EMA_LLM_PROVIDER")
	overrideString(&cfg.LLM.Model, "EMA_LLM_MODEL")
	overrideString(&cfg.LLM.BaseURL, "EMA_LLM_BASE_URL")
	overrideInt(&cfg.LLM.MaxTokens, "EMA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "EMA_LLM_TEMPERATURE")
	overrideString(&cfg.TTS.Provider, "EMA_TTS_PROVIDER")
	overrideString(&cfg.TTS.Voice, "EMA_TTS_VOICE")
	overrideString(&cfg.TTS.Voice, "ELEVENLABS_VOICE_ID")
	overrideString(&cfg.TTS.Model, "EMA_TTS_MODEL")
	overrideString(&cfg.STT.Provider, "EMA_STT_PROVIDER")
	overrideString(&cfg.STT.Language, "EMA_STT_LANGUAGE")
	overrideString(&cfg.STT.Model, "EMA_STT_MODEL")
	overrideBool(&cfg.Bus.Enabled, "EMA_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "EMA_BUS_SERVERS")
	overrideString(&cfg.Bus.Subject, "EMA_BUS_SUBJECT")
	overrideString(&cfg.Bus.Token, "EMA_BUS_TOKEN")

	overrideAPIKey(&cfg.LLM.APIKey, "EMA_LLM_API_KEY", llmKeyEnv[cfg.LLM.Provider])
	overrideAPIKey(&cfg.TTS.APIKey, "EMA_TTS_API_KEY", ttsKeyEnv[cfg.TTS.Provider])
	overrideAPIKey(&cfg.STT.APIKey, "EMA_STT_API_KEY", sttKeyEnv[cfg.STT.Provider])
}

var (
	llmKeyEnv = map[string]string{
		LLMProviderGroq:       "GROQ_API_KEY",
		LLMProviderOpenRouter: "OPENROUTER_API_KEY",
		LLMProviderOpenAI:     "OPENAI_API_KEY",
		LLMProviderGemini:     "GEMINI_API_KEY",
	}
	ttsKeyEnv = map[string]string{
		TTSProviderElevenLabs: "ELEVENLABS_API_KEY",
		TTSProviderDeepgram:   "DEEPGRAM_API_KEY",
	}
	sttKeyEnv = map[string]string{
		STTProviderAssemblyAI: "ASSEMBLYAI_API_KEY",
		STTProviderDeepgram:   "DEEPGRAM_API_KEY",
	}
)

// overrideAPIKey prefers the generic variable and falls back to the
// provider's own one when the key is still unset.
func overrideAPIKey(target *string, genericKey, providerKey string) {
	overrideString(target, genericKey)
	if *target == "" && providerKey != "" {
		overrideString(target, providerKey)
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate checks the structure of the configuration. Missing credentials
// are reported separately by MissingCredentials.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if c.HTTP.MaxUtteranceBytes <= 0 {
		return errors.New("http.max_utterance_bytes must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if c.Session.HistoryLimit <= 0 {
		return errors.New("session.history_limit must be positive")
	}
	if c.Session.MinTranscriptLength < 0 {
		return errors.New("session.min_transcript_length must be >= 0")
	}
	if c.Session.LLMTimeoutMS <= 0 {
		return errors.New("session.llm_timeout_ms must be positive")
	}
	switch strings.ToLower(c.Session.Intensity) {
	case "low", "medium", "high":
	default:
		return errors.New("session.intensity must be one of low|medium|high")
	}
	if c.Spans.MinTokens <= 0 {
		return errors.New("spans.min_tokens must be positive")
	}
	if c.Synthesis.Concurrency <= 0 {
		return errors.New("synthesis.concurrency must be >= 1")
	}
	if c.Synthesis.MinIntervalMS < 0 {
		return errors.New("synthesis.min_interval_ms must be >= 0")
	}
	if c.Synthesis.MaxRetries < 0 || c.Synthesis.MaxRetries > synthesis.MaxRetries {
		return fmt.Errorf("synthesis.max_retries must be between 0 and %d", synthesis.MaxRetries)
	}
	if c.Synthesis.RetryBackoffMS <= 0 {
		return errors.New("synthesis.retry_backoff_ms must be positive")
	}
	if c.Synthesis.CallTimeoutMS <= 0 {
		return errors.New("synthesis.call_timeout_ms must be positive")
	}
	switch c.LLM.Provider {
	case LLMProviderGroq, LLMProviderOpenRouter, LLMProviderOpenAI, LLMProviderGemini:
	default:
		return errors.New("llm.provider must be one of groq|openrouter|openai|gemini")
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.max_tokens must be positive")
	}
	switch c.TTS.Provider {
	case TTSProviderElevenLabs, TTSProviderDeepgram, ProviderNone:
	default:
		return errors.New("tts.provider must be one of elevenlabs|deepgram|none")
	}
	switch c.STT.Provider {
	case STTProviderAssemblyAI, STTProviderDeepgram, ProviderNone:
	default:
		return errors.New("stt.provider must be one of assemblyai|deepgram|none")
	}
	if c.Bus.Enabled {
		if len(c.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if c.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty when the bus is enabled")
		}
	}
	return nil
}

// MissingCredentials lists the configured providers that have no API key.
func (c Config) MissingCredentials() []string {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm."+c.LLM.Provider)
	}
	if c.TTS.Provider != ProviderNone && c.TTS.APIKey == "" {
		missing = append(missing, "tts."+c.TTS.Provider)
	}
	if c.STT.Provider != ProviderNone && c.STT.APIKey == "" {
		missing = append(missing, "stt."+c.STT.Provider)
	}
	return missing
}
