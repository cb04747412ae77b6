package util

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// SniffContentType 读取文件头判断 MIME 类型，读完后把读取位置重置到开头。
// allowedTypes 可以是前缀（"audio/"）或完整类型。
func SniffContentType(reader io.ReadSeeker, allowedTypes []string) (string, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(reader, buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	mimeType := http.DetectContentType(buffer[:n])
	// 没有 ID3 标签的 mp3 以帧同步字开头，DetectContentType 识别不了
	if mimeType == "application/octet-stream" && isMPEGFrame(buffer[:n]) {
		mimeType = MimeAudioMPEG
	}

	for _, allowed := range allowedTypes {
		if strings.HasPrefix(mimeType, allowed) {
			return mimeType, nil
		}
	}

	return mimeType, errors.New("invalid file type: " + mimeType)
}

// isMPEGFrame 11 位同步字 + MPEG 版本/Layer 合法
func isMPEGFrame(b []byte) bool {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	bitrate := b[2] >> 4
	return version != 0x01 && layer != 0x00 && bitrate != 0x0F
}
