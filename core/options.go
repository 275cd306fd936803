package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-call/core/latency"
	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/core/requests"
	"github.com/koscakluka/ema-call/core/spans"
	"github.com/koscakluka/ema-call/core/speechtotext"
	"github.com/koscakluka/ema-call/core/synthesis"
	"github.com/koscakluka/ema-call/core/texttospeech"
)

const (
	DefaultMinTranscriptLength = 3
	DefaultLLMTimeout          = 15 * time.Second
	DefaultFallbackMessage     = "माफ़ कीजिए, अभी आपका अनुरोध पूरा नहीं हो सका। कृपया फिर से कोशिश करें।"
	DefaultSystemPrompt        = `You are a helpful Hindi-speaking sales and customer service representative.
Your personality is friendly, professional, and natural, like a real person.
Keep responses short (2-3 sentences maximum).
Use natural Hindi expressions and colloquialisms.
Show empathy and understanding.
Be concise and direct.
Respond in Hindi unless asked otherwise.`
)

type OrchestratorOption func(*Orchestrator)

func WithStreamingLLM(client llms.StreamingLLM) OrchestratorOption {
	return func(o *Orchestrator) {
		o.llm = client
	}
}

// WithSynthesisQueue routes spans through queue. Without one every reply
// falls back to text.
func WithSynthesisQueue(queue *synthesis.Queue) OrchestratorOption {
	return func(o *Orchestrator) {
		o.synthesisQueue = queue
	}
}

// WithSpeechToText enables OnUtteranceAudio.
func WithSpeechToText(client speechtotext.Transcriber, opts ...speechtotext.TranscriptionOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.speechToText = client
		o.transcriptionOptions = append(o.transcriptionOptions, opts...)
	}
}

// WithRequestCorrelator shares a correlator with the transport so both ends
// agree on which request is current.
func WithRequestCorrelator(correlator *requests.Correlator) OrchestratorOption {
	return func(o *Orchestrator) {
		if correlator != nil {
			o.correlator = correlator
		}
	}
}

func WithLatencyTracker(tracker *latency.Tracker) OrchestratorOption {
	return func(o *Orchestrator) {
		if tracker != nil {
			o.latency = tracker
		}
	}
}

func WithSystemPrompt(prompt string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.systemPrompt = prompt
	}
}

// WithPromptOptions are passed on every LLM call, after the system prompt
// and history.
func WithPromptOptions(opts ...llms.StreamingPromptOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.promptOptions = append(o.promptOptions, opts...)
	}
}

// WithHistoryLimit caps the number of remembered turns, counting user and
// assistant turns separately.
func WithHistoryLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.turns = newTurns(limit)
		}
	}
}

// WithMinTranscriptLength sets how many characters a trimmed transcript
// needs before it starts a generation.
func WithMinTranscriptLength(length int) OrchestratorOption {
	return func(o *Orchestrator) {
		if length >= 0 {
			o.minTranscriptLength = length
		}
	}
}

func WithSpanPolicy(policy spans.Policy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.spanPolicy = policy
	}
}

func WithLLMTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.llmTimeout = timeout
		}
	}
}

// WithFallbackMessage replaces the apology sent when a generation fails.
func WithFallbackMessage(message string) OrchestratorOption {
	return func(o *Orchestrator) {
		if message != "" {
			o.fallbackMessage = message
		}
	}
}

// WithIntensity sets the delivery hint passed to speech synthesis.
func WithIntensity(intensity texttospeech.Intensity) OrchestratorOption {
	return func(o *Orchestrator) {
		o.intensity = intensity
	}
}

// WithTurnCompletedHook is called after every finished generation, outside
// of the session lock.
func WithTurnCompletedHook(hook func(ctx context.Context, turn CompletedTurn)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onTurnCompleted = hook
	}
}
