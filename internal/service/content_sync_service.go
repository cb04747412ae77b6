package service

import (
	"bytes"
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"course_platform_backend/pkg/monitoring"
	"course_platform_backend/pkg/tracing"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// LessonFile 课程声明文件，一个 YAML 文件对应一节课
type LessonFile struct {
	Order       int         `yaml:"order"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Emoji       string      `yaml:"emoji"`
	Content     string      `yaml:"content"` // 仅用于没有幻灯片的课程
	Duration    int         `yaml:"duration"`
	Published   bool        `yaml:"published"`
	Available   bool        `yaml:"available"`
	Slides      []SlideFile `yaml:"slides"`
	Quiz        []QuizFile  `yaml:"quiz"`
}

type SlideFile struct {
	Title      string `yaml:"title"`
	Emoji      string `yaml:"emoji"`
	Content    string `yaml:"content"`
	DurationMs int    `yaml:"duration_ms"`
}

type QuizFile struct {
	Question   string `yaml:"question"`
	Answer     string `yaml:"answer"`
	Difficulty string `yaml:"difficulty"`
	Points     int    `yaml:"points"`
}

// DurationProber 读取本地音频文件时长
type DurationProber func(path string) (time.Duration, error)

type SyncFileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type SyncReport struct {
	Files        int             `json:"files"`
	Created      int             `json:"created"`
	Updated      int             `json:"updated"`
	Slides       int             `json:"slides"`
	Questions    int             `json:"questions"`
	ProbedAudio  int             `json:"probedAudio"`
	MissingAudio []string        `json:"missingAudio"`
	Errors       []SyncFileError `json:"errors"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
}

type SlideAudioStatus struct {
	SlideNumber     int    `json:"slideNumber"`
	Title           string `json:"title"`
	HasAudio        bool   `json:"hasAudio"`
	URL             string `json:"url,omitempty"`
	AudioDurationMs int    `json:"audioDurationMs"`
}

type ContentSyncService struct {
	DB         *gorm.DB
	LessonRepo *repository.LessonRepository
	QuizRepo   *repository.QuizRepository
	Audio      *AudioService
	Slides     *SlideService
	Cfg        *config.Config
	Probe      DurationProber

	mu sync.Mutex
}

func NewContentSyncService(
	db *gorm.DB,
	lessonRepo *repository.LessonRepository,
	quizRepo *repository.QuizRepository,
	audio *AudioService,
	slides *SlideService,
	cfg *config.Config,
) *ContentSyncService {
	return &ContentSyncService{
		DB:         db,
		LessonRepo: lessonRepo,
		QuizRepo:   quizRepo,
		Audio:      audio,
		Slides:     slides,
		Cfg:        cfg,
		Probe:      util.ProbeAudioDuration,
	}
}

type parsedLesson struct {
	file   string
	lesson LessonFile
}

type syncedLesson struct {
	id     uint
	order  int
	slides int
}

// SyncAll 把课程目录中的所有 YAML 文件导入数据库。单个文件出错不会中断其它文件，
// 错误记录在报告中。同一时间只允许一次同步。
func (s *ContentSyncService) SyncAll(ctx context.Context) (*SyncReport, error) {
	if !s.mu.TryLock() {
		return nil, util.ErrSyncAlreadyRunning
	}
	defer s.mu.Unlock()

	ctx, span := tracing.Start(ctx, "content.sync", attribute.String("content.dir", s.Cfg.Content.LessonsDir))
	defer span.End()

	report := &SyncReport{StartedAt: time.Now(), MissingAudio: []string{}, Errors: []SyncFileError{}}

	files, err := s.lessonFiles()
	if err != nil {
		monitoring.ContentSyncRuns.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		return nil, err
	}
	report.Files = len(files)

	parsed := s.parseAll(files, report)

	var synced []syncedLesson
	for _, p := range parsed {
		if err := ctx.Err(); err != nil {
			monitoring.ContentSyncRuns.WithLabelValues("error").Inc()
			return nil, err
		}
		result, created, err := s.syncLesson(ctx, p)
		if err != nil {
			logger.Log.Error("Failed to sync lesson file", zap.String("file", p.file), zap.Error(err))
			report.Errors = append(report.Errors, SyncFileError{File: p.file, Error: err.Error()})
			continue
		}
		if created {
			report.Created++
		} else {
			report.Updated++
		}
		report.Slides += result.slides
		report.Questions += len(p.lesson.Quiz)
		synced = append(synced, result)
	}

	s.probeAudio(ctx, synced, report)

	report.FinishedAt = time.Now()
	result := "ok"
	if len(report.Errors) > 0 {
		result = "partial"
	}
	monitoring.ContentSyncRuns.WithLabelValues(result).Inc()
	span.SetAttributes(
		attribute.Int("sync.files", report.Files),
		attribute.Int("sync.errors", len(report.Errors)),
	)

	logger.Log.Info("Lesson content synced",
		zap.Int("files", report.Files),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("slides", report.Slides),
		zap.Int("questions", report.Questions),
		zap.Int("missingAudio", len(report.MissingAudio)),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func (s *ContentSyncService) lessonFiles() ([]string, error) {
	dir := s.Cfg.Content.LessonsDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read lessons dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, allowed := range util.LessonFileExtensions {
			if ext == allowed {
				files = append(files, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// parseAll 并发解析，结果按 order 排序；order 重复的文件整体拒绝
func (s *ContentSyncService) parseAll(files []string, report *SyncReport) []parsedLesson {
	results := make([]*parsedLesson, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			lf, err := ParseLessonFile(f)
			if err != nil {
				errs[i] = err
				return nil
			}
			s.applyDefaults(lf)
			results[i] = &parsedLesson{file: f, lesson: *lf}
			return nil
		})
	}
	_ = g.Wait()

	byOrder := make(map[int][]*parsedLesson)
	for i, f := range files {
		if errs[i] != nil {
			report.Errors = append(report.Errors, SyncFileError{File: f, Error: errs[i].Error()})
			continue
		}
		byOrder[results[i].lesson.Order] = append(byOrder[results[i].lesson.Order], results[i])
	}

	var parsed []parsedLesson
	for order, list := range byOrder {
		if len(list) > 1 {
			for _, p := range list {
				report.Errors = append(report.Errors, SyncFileError{
					File:  p.file,
					Error: fmt.Sprintf("%v: order %d is used by %d files", util.ErrInvalidLessonFile, order, len(list)),
				})
			}
			continue
		}
		parsed = append(parsed, *list[0])
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].lesson.Order < parsed[j].lesson.Order })
	sort.SliceStable(report.Errors, func(i, j int) bool { return report.Errors[i].File < report.Errors[j].File })
	return parsed
}

// ParseLessonFile 解析并校验一个课程文件，未知字段视为错误
func ParseLessonFile(path string) (*LessonFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var lf LessonFile
	if err := dec.Decode(&lf); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidLessonFile, err)
	}

	if lf.Order <= 0 {
		return nil, fmt.Errorf("%w: order must be positive", util.ErrInvalidLessonFile)
	}
	if strings.TrimSpace(lf.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", util.ErrInvalidLessonFile)
	}
	for i, sl := range lf.Slides {
		if sl.DurationMs < 0 {
			return nil, fmt.Errorf("%w: slide %d has negative duration_ms", util.ErrInvalidLessonFile, i+1)
		}
	}
	for i, q := range lf.Quiz {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.Answer) == "" {
			return nil, fmt.Errorf("%w: quiz %d needs question and answer", util.ErrInvalidLessonFile, i+1)
		}
		switch model.Difficulty(strings.ToLower(q.Difficulty)) {
		case "", model.DifficultyEasy, model.DifficultyHard:
		default:
			return nil, fmt.Errorf("%w: quiz %d has unknown difficulty %q", util.ErrInvalidLessonFile, i+1, q.Difficulty)
		}
	}
	return &lf, nil
}

func (s *ContentSyncService) applyDefaults(lf *LessonFile) {
	defaultMs := s.Cfg.Playback.DefaultSlideDurationMs
	if defaultMs <= 0 {
		defaultMs = model.DefaultSlideDurationMs
	}

	totalMs := 0
	for i := range lf.Slides {
		if lf.Slides[i].DurationMs == 0 {
			lf.Slides[i].DurationMs = defaultMs
		}
		totalMs += lf.Slides[i].DurationMs
	}
	if lf.Duration <= 0 && totalMs > 0 {
		lf.Duration = (totalMs + 59999) / 60000
	}

	for i := range lf.Quiz {
		d := model.Difficulty(strings.ToLower(lf.Quiz[i].Difficulty))
		if d == "" {
			d = model.DifficultyEasy
		}
		lf.Quiz[i].Difficulty = string(d)
		if lf.Quiz[i].Points <= 0 {
			lf.Quiz[i].Points = 10
		}
	}
}

func (s *ContentSyncService) syncLesson(ctx context.Context, p parsedLesson) (syncedLesson, bool, error) {
	var (
		result  syncedLesson
		created bool
	)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lesson, err := s.LessonRepo.FindByOrder(tx, p.lesson.Order)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			lesson = &model.Lesson{Order: p.lesson.Order}
			created = true
		}

		lesson.Title = p.lesson.Title
		lesson.Description = p.lesson.Description
		lesson.Emoji = p.lesson.Emoji
		lesson.Duration = p.lesson.Duration
		lesson.Published = p.lesson.Published
		lesson.Available = p.lesson.Available
		if len(p.lesson.Slides) == 0 {
			lesson.Content = strings.TrimSpace(p.lesson.Content)
		}

		slides := make([]model.Slide, 0, len(p.lesson.Slides))
		for i, sf := range p.lesson.Slides {
			slides = append(slides, model.Slide{
				Index:             i + 1,
				Title:             sf.Title,
				Content:           strings.TrimSpace(sf.Content),
				Emoji:             sf.Emoji,
				NominalDurationMs: sf.DurationMs,
			})
		}
		if err := s.LessonRepo.SaveWithSlides(tx, lesson, slides); err != nil {
			return err
		}

		questions := make([]model.QuizQuestion, 0, len(p.lesson.Quiz))
		for _, qf := range p.lesson.Quiz {
			questions = append(questions, model.QuizQuestion{
				Question:      strings.TrimSpace(qf.Question),
				CorrectAnswer: strings.TrimSpace(qf.Answer),
				Difficulty:    model.Difficulty(qf.Difficulty),
				Points:        qf.Points,
			})
		}
		if err := s.QuizRepo.ReplaceForLesson(tx, lesson.ID, questions); err != nil {
			return err
		}

		result = syncedLesson{id: lesson.ID, order: lesson.Order, slides: len(slides)}
		return nil
	})
	return result, created, err
}

// probeAudio 失效缓存后重新解析音频，本地文件用 ffprobe 读取时长
func (s *ContentSyncService) probeAudio(ctx context.Context, synced []syncedLesson, report *SyncReport) {
	if s.Audio == nil {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())

	for _, l := range synced {
		l := l
		s.Audio.InvalidateLesson(ctx, l.id)
		for n := 1; n <= l.slides; n++ {
			n := n
			g.Go(func() error {
				durationMs := 0
				asset := s.Audio.ResolveAudio(gctx, l.id, n)
				if asset == nil {
					mu.Lock()
					report.MissingAudio = append(report.MissingAudio, fmt.Sprintf("lesson %d slide %d", l.order, n))
					mu.Unlock()
				} else if local, ok := s.Audio.Store.LocalPath(asset.Key); ok && s.Probe != nil {
					d, err := s.Probe(local)
					if err != nil {
						logger.Log.Warn("Failed to probe slide audio",
							zap.Uint("lessonId", l.id),
							zap.Int("slide", n),
							zap.Error(err),
						)
						return nil
					}
					durationMs = int(d.Milliseconds())
					mu.Lock()
					report.ProbedAudio++
					mu.Unlock()
				} else {
					return nil
				}

				if err := s.LessonRepo.UpdateSlideAudioDuration(l.id, n, durationMs); err != nil {
					logger.Log.Warn("Failed to store slide audio duration", zap.Uint("lessonId", l.id), zap.Int("slide", n), zap.Error(err))
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	sort.Strings(report.MissingAudio)
}

// AudioReport 列出课程每张幻灯片的音频情况
func (s *ContentSyncService) AudioReport(ctx context.Context, lessonID uint) ([]SlideAudioStatus, error) {
	slides, err := s.Slides.GetSlides(lessonID)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(slides))
	for _, sl := range slides {
		numbers = append(numbers, sl.Index)
	}
	assets := s.Audio.ResolveLesson(ctx, lessonID, numbers)

	statuses := make([]SlideAudioStatus, 0, len(slides))
	for _, sl := range slides {
		st := SlideAudioStatus{
			SlideNumber:     sl.Index,
			Title:           sl.Title,
			AudioDurationMs: sl.AudioDurationMs,
		}
		if a, ok := assets[sl.Index]; ok {
			st.HasAudio = true
			st.URL = a.URL
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func (s *ContentSyncService) concurrency() int {
	if s.Cfg.Content.ProbeConcurrency > 0 {
		return s.Cfg.Content.ProbeConcurrency
	}
	return 4
}

// UploadSlideAudio 上传或替换一张幻灯片的音频，本地存储时同步探测时长
func (s *ContentSyncService) UploadSlideAudio(ctx context.Context, lessonID uint, slideNumber int, file *multipart.FileHeader) (*AudioAsset, error) {
	if _, err := s.Slides.GetSlide(lessonID, slideNumber); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	allowed := false
	for _, e := range util.AllowedAudioExtensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: extension %q", util.ErrInvalidAudioFile, ext)
	}

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	// 深度验证 MIME 类型
	if _, err := util.SniffContentType(src, []string{util.MimeAudioMPEG}); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidAudioFile, err)
	}

	key := s.Audio.AudioKey(lessonID, slideNumber)
	if _, err := s.Audio.Store.Upload(ctx, key, src, file.Size, util.MimeAudioMPEG); err != nil {
		return nil, err
	}
	s.Audio.InvalidateLesson(ctx, lessonID)

	if local, ok := s.Audio.Store.LocalPath(key); ok && s.Probe != nil {
		if d, err := s.Probe(local); err != nil {
			logger.Log.Warn("Failed to probe uploaded audio", zap.Uint("lessonId", lessonID), zap.Int("slide", slideNumber), zap.Error(err))
		} else if err := s.LessonRepo.UpdateSlideAudioDuration(lessonID, slideNumber, int(d.Milliseconds())); err != nil {
			return nil, err
		}
	}

	asset := s.Audio.ResolveAudio(ctx, lessonID, slideNumber)
	if asset == nil {
		return nil, fmt.Errorf("%w: uploaded audio not visible in storage", util.ErrAudioUnavailable)
	}
	return asset, nil
}

// DeleteSlideAudio 删除后该幻灯片改为按时长计时推进
func (s *ContentSyncService) DeleteSlideAudio(ctx context.Context, lessonID uint, slideNumber int) error {
	if _, err := s.Slides.GetSlide(lessonID, slideNumber); err != nil {
		return err
	}

	key := s.Audio.AudioKey(lessonID, slideNumber)
	exists, err := s.Audio.Store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: lesson %d slide %d", util.ErrAudioUnavailable, lessonID, slideNumber)
	}

	if err := s.Audio.Store.Delete(ctx, key); err != nil {
		return err
	}
	s.Audio.InvalidateLesson(ctx, lessonID)
	return s.LessonRepo.UpdateSlideAudioDuration(lessonID, slideNumber, 0)
}
