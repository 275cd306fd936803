package protocol

import (
	"fmt"

	"github.com/koscakluka/ema-call/core/synthesis"
	"github.com/vmihailenco/msgpack/v5"
)

// AudioFrame is one synthesized fragment, sent as a msgpack encoded binary
// websocket message.
type AudioFrame struct {
	RequestID string `msgpack:"requestId" json:"requestId"`
	Sequence  int    `msgpack:"sequence" json:"sequence"`
	IsFinal   bool   `msgpack:"isFinal" json:"isFinal"`
	Timestamp int64  `msgpack:"timestamp" json:"timestamp" jsonschema:"description=Unix milliseconds"`
	Audio     []byte `msgpack:"audio" json:"audio"`
}

func NewAudioFrame(fragment synthesis.AudioFragment) AudioFrame {
	return AudioFrame{
		RequestID: fragment.RequestID,
		Sequence:  fragment.Sequence,
		IsFinal:   fragment.IsFinal,
		Timestamp: fragment.Timestamp.UnixMilli(),
		Audio:     fragment.Audio,
	}
}

func (f AudioFrame) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio frame: %w", err)
	}
	return data, nil
}

func UnmarshalAudioFrame(data []byte) (AudioFrame, error) {
	var frame AudioFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("failed to decode audio frame: %w", err)
	}
	return frame, nil
}
