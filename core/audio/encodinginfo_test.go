package audio

import "testing"

func TestParseEncodingInfo(t *testing.T) {
	info, err := ParseEncodingInfo("mp3", 22050)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Format != EncodingMP3 || info.SampleRate != 22050 {
		t.Fatalf("unexpected encoding %+v", info)
	}

	info, err = ParseEncodingInfo("", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info != GetDefaultEncodingInfo() {
		t.Fatalf("expected defaults, got %+v", info)
	}

	if _, err := ParseEncodingInfo("opus", 48000); err == nil {
		t.Fatalf("expected unsupported encoding to fail")
	}
}
