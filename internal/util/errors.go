package util

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailRegistered    = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrLessonNotFound     = errors.New("lesson not found")
	ErrLessonLocked       = errors.New("lesson not available yet")
	ErrSlideNotFound      = errors.New("slide not found")
	ErrSlideOutOfRange    = errors.New("slide index out of range")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrAudioUnavailable   = errors.New("audio unavailable")
	ErrInvalidAudioFile   = errors.New("invalid audio file")
	ErrJudgeUnavailable   = errors.New("answer judge unavailable")
	ErrProgressWrite      = errors.New("failed to persist progress")
	ErrInvalidLessonFile  = errors.New("invalid lesson file")
	ErrSyncAlreadyRunning = errors.New("content sync already running")
)
