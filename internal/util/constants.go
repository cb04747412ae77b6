package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	MimeAudioMPEG = "audio/mpeg"
)

var (
	AllowedAudioExtensions = []string{".mp3"}
	LessonFileExtensions   = []string{".yaml", ".yml"}
)
