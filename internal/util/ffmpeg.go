package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

var errNoAudioStream = errors.New("probe: no audio stream")

// AudioInfo 音频文件元数据
type AudioInfo struct {
	Duration time.Duration `json:"duration"`
	Codec    string        `json:"codec"`
	Size     int64         `json:"size"`
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// GetAudioInfo 使用 ffprobe 读取音频时长和编码
func GetAudioInfo(audioPath string) (*AudioInfo, error) {
	fileInfo, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	jsonOutput, err := ffmpeg.Probe(audioPath)
	if err != nil {
		return nil, fmt.Errorf("probe audio: %w", err)
	}

	info, err := parseProbeOutput(jsonOutput)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", audioPath, err)
	}
	if info.Size <= 0 {
		info.Size = fileInfo.Size()
	}
	return info, nil
}

// parseProbeOutput 优先取 format 时长，没有时用音频流自己的时长
func parseProbeOutput(jsonOutput string) (*AudioInfo, error) {
	var result probeOutput
	if err := json.Unmarshal([]byte(jsonOutput), &result); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}

	found := false
	info := &AudioInfo{}
	streamDuration := ""
	for _, stream := range result.Streams {
		if stream.CodecType == "audio" {
			found = true
			info.Codec = stream.CodecName
			streamDuration = stream.Duration
			break
		}
	}
	if !found {
		return nil, errNoAudioStream
	}

	raw := result.Format.Duration
	if raw == "" || raw == "N/A" {
		raw = streamDuration
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return nil, fmt.Errorf("invalid duration %q", raw)
	}
	info.Duration = time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)

	if size, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil {
		info.Size = size
	}
	return info, nil
}

// ProbeAudioDuration 只关心时长的简化版本，同步流程用它填 audio_duration_ms
func ProbeAudioDuration(audioPath string) (time.Duration, error) {
	info, err := GetAudioInfo(audioPath)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}
