package util

import (
	"bytes"
	"io"
	"testing"
)

func TestSniffContentType(t *testing.T) {
	cases := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"id3 tagged mp3", append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...), MimeAudioMPEG, false},
		{"bare mpeg frame", append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 64)...), MimeAudioMPEG, false},
		{"plain text", []byte("definitely not audio"), "text/plain; charset=utf-8", true},
		{"invalid layer bits", append([]byte{0xFF, 0xF9, 0x90, 0x64}, make([]byte, 64)...), "application/octet-stream", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := bytes.NewReader(tc.data)
			got, err := SniffContentType(r, []string{MimeAudioMPEG})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}

			// 读取位置必须回到开头
			rest, _ := io.ReadAll(r)
			if len(rest) != len(tc.data) {
				t.Fatalf("reader not rewound: %d of %d bytes left", len(rest), len(tc.data))
			}
		})
	}
}
