package main

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-call/core/audio"
	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/core/llms/gemini"
	"github.com/koscakluka/ema-call/core/llms/groq"
	"github.com/koscakluka/ema-call/core/llms/openai"
	"github.com/koscakluka/ema-call/core/speechtotext"
	"github.com/koscakluka/ema-call/core/speechtotext/assemblyai"
	deepgramstt "github.com/koscakluka/ema-call/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-call/core/texttospeech"
	deepgramtts "github.com/koscakluka/ema-call/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-call/core/texttospeech/elevenlabs"
	"github.com/koscakluka/ema-call/internal/config"
)

const openAIBaseURL = "https://api.openai.com/v1"

func newLLM(ctx context.Context, cfg config.LLMConfig) (llms.StreamingLLM, error) {
	switch cfg.Provider {
	case config.LLMProviderGroq:
		var opts []groq.ClientOption
		opts = append(opts, groq.WithModel(cfg.Model))
		if cfg.BaseURL != "" {
			opts = append(opts, groq.WithURL(cfg.BaseURL))
		}
		return groq.NewClient(cfg.APIKey, opts...), nil
	case config.LLMProviderOpenRouter:
		return openai.NewClient(cfg.APIKey, openai.WithBaseURL(cfg.BaseURL), openai.WithModel(cfg.Model)), nil
	case config.LLMProviderOpenAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openAIBaseURL
		}
		return openai.NewClient(cfg.APIKey, openai.WithBaseURL(baseURL), openai.WithModel(cfg.Model)), nil
	case config.LLMProviderGemini:
		client, err := gemini.NewClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// newSynthesizer returns nil without error when synthesis is disabled, in
// which case every reply is sent as text.
func newSynthesizer(cfg config.TTSConfig) (texttospeech.Synthesizer, []texttospeech.SynthesisOption, error) {
	if cfg.Provider == config.ProviderNone {
		return nil, nil, nil
	}

	encoding, err := audio.ParseEncodingInfo(cfg.Encoding, cfg.SampleRate)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid tts encoding: %w", err)
	}
	opts := []texttospeech.SynthesisOption{texttospeech.WithEncodingInfo(encoding)}

	switch cfg.Provider {
	case config.TTSProviderElevenLabs:
		client := elevenlabs.NewClient(cfg.APIKey,
			elevenlabs.WithVoiceID(cfg.Voice),
			elevenlabs.WithModelID(cfg.Model),
		)
		return client, opts, nil
	case config.TTSProviderDeepgram:
		client, err := deepgramtts.NewTextToSpeechClient(cfg.APIKey, cfg.Voice, deepgramtts.WithEncodingInfo(encoding))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create deepgram synthesizer: %w", err)
		}
		return client, opts, nil
	default:
		return nil, nil, fmt.Errorf("unknown tts provider %q", cfg.Provider)
	}
}

// newTranscriber returns nil without error when speech recognition is
// disabled; clients then have to send transcriptions themselves.
func newTranscriber(cfg config.STTConfig) (speechtotext.Transcriber, []speechtotext.TranscriptionOption, error) {
	if cfg.Provider == config.ProviderNone {
		return nil, nil, nil
	}

	encoding, err := audio.ParseEncodingInfo(cfg.Encoding, cfg.SampleRate)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid stt encoding: %w", err)
	}
	opts := []speechtotext.TranscriptionOption{
		speechtotext.WithEncodingInfo(encoding),
		speechtotext.WithLanguage(cfg.Language),
	}

	switch cfg.Provider {
	case config.STTProviderAssemblyAI:
		return assemblyai.NewClient(cfg.APIKey), opts, nil
	case config.STTProviderDeepgram:
		return deepgramstt.NewTranscriptionClient(cfg.APIKey, deepgramstt.WithModel(cfg.Model)), opts, nil
	default:
		return nil, nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}
