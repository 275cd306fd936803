package llms

const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.7
)

// StreamingPromptOptions holds everything a provider needs to build a
// streaming chat request besides the prompt itself.
type StreamingPromptOptions struct {
	Instructions string
	Turns        []Turn
	MaxTokens    int
	Temperature  float64
}

func NewStreamingPromptOptions(opts ...StreamingPromptOption) StreamingPromptOptions {
	options := StreamingPromptOptions{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type StreamingPromptOption func(*StreamingPromptOptions)

// WithSystemPrompt sets the system prompt for the request.
// Repeating this option will overwrite the previous system prompt.
func WithSystemPrompt(prompt string) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Instructions = prompt
	}
}

// WithTurns adds prior conversation turns to the request.
// Repeating this option will sequentially add more turns.
func WithTurns(turns ...Turn) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Turns = append(opts.Turns, turns...)
	}
}

func WithMaxTokens(maxTokens int) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.MaxTokens = maxTokens
	}
}

func WithTemperature(temperature float64) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Temperature = temperature
	}
}
