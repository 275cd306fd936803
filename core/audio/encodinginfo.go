package audio

import "fmt"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

// ParseEncodingInfo builds the encoding named in configuration. An empty
// format selects linear16 and a non-positive rate the default rate.
func ParseEncodingInfo(format string, sampleRate int) (EncodingInfo, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if format == "" {
		format = DefaultFormat
	}

	switch encoding := encodingFormat(format); encoding {
	case EncodingMulaw, EncodingALaw, EncodingLinear16, EncodingMP3:
		return EncodingInfo{SampleRate: sampleRate, Format: encoding}, nil
	default:
		return EncodingInfo{}, fmt.Errorf("unsupported audio encoding %q", format)
	}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
	EncodingMP3      encodingFormat = "mp3"
)
