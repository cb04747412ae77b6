package util

import (
	"errors"
	"testing"
	"time"
)

func TestParseProbeOutput(t *testing.T) {
	info, err := parseProbeOutput(`{
		"streams": [{"codec_type": "video", "codec_name": "mjpeg"}, {"codec_type": "audio", "codec_name": "mp3", "duration": "9.1"}],
		"format": {"duration": "12.3456", "size": "20480"}
	}`)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if info.Codec != "mp3" || info.Size != 20480 || info.Duration != 12346*time.Millisecond {
		t.Fatalf("unexpected info %+v", info)
	}

	info, err = parseProbeOutput(`{"streams": [{"codec_type": "audio", "codec_name": "mp3", "duration": "4.5"}], "format": {"duration": "N/A"}}`)
	if err != nil {
		t.Fatalf("stream duration fallback: %v", err)
	}
	if info.Duration != 4500*time.Millisecond || info.Size != 0 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestParseProbeOutput_Errors(t *testing.T) {
	if _, err := parseProbeOutput(`{"streams": [{"codec_type": "video"}], "format": {"duration": "3"}}`); !errors.Is(err, errNoAudioStream) {
		t.Fatalf("expected errNoAudioStream, got %v", err)
	}
	if _, err := parseProbeOutput(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "0"}}`); err == nil {
		t.Fatalf("zero duration must be rejected")
	}
	if _, err := parseProbeOutput(`not json`); err == nil {
		t.Fatalf("garbage must be rejected")
	}
}
