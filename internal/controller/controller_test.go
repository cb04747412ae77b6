package controller

import (
	"bytes"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/middleware"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/service"
	"course_platform_backend/internal/testutil"
	"course_platform_backend/internal/util"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const lessonYAML = `order: 1
title: Intro
published: true
available: true
slides:
  - title: Hello
    content: Welcome.
    duration_ms: 1500
  - title: Next
    content: What comes next.
quiz:
  - question: What is this?
    answer: the intro lesson
`

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router     *gin.Engine
	db         *gorm.DB
	lessonsDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	lessonsDir := t.TempDir()
	cfg := &config.Config{
		JWT:     config.JWTConfig{Secret: "test-secret", ExpireTime: time.Hour},
		Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: t.TempDir()},
		Content: config.ContentConfig{LessonsDir: lessonsDir, AudioPrefix: "audio", ProbeConcurrency: 1},
	}

	userRepo := repository.NewUserRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	quizRepo := repository.NewQuizRepository(db)

	analytics := service.NewAnalyticsService(repository.NewAnalyticsRepository(db), nil, cfg.Analytics)
	t.Cleanup(analytics.Wait)

	auth := service.NewAuthService(userRepo, cfg)
	lessons := service.NewLessonService(lessonRepo)
	slides := service.NewSlideService(lessonRepo, cfg.Playback)
	audio := service.NewAudioService(service.NewStorageService(cfg), nil, cfg.Content)
	progress := service.NewProgressService(progressRepo, lessonRepo, analytics)
	quiz := service.NewQuizService(quizRepo, lessonRepo, service.NewScoringService(nil, cfg.Scoring), analytics)
	sync := service.NewContentSyncService(db, lessonRepo, quizRepo, audio, slides, cfg)
	sync.Probe = func(string) (time.Duration, error) { return 4 * time.Second, nil }

	authCtrl := NewAuthController(auth)
	lessonCtrl := NewLessonController(lessons, slides, audio, progress, nil)
	quizCtrl := NewQuizController(lessons, quiz)
	contentCtrl := NewContentController(lessons, sync, analytics)

	r := gin.New()
	r.POST("/api/register", authCtrl.Register)
	r.POST("/api/login", authCtrl.Login)

	api := r.Group("/api", middleware.AuthMiddleware(cfg.JWT.Secret))
	api.GET("/profile", authCtrl.GetProfile)
	api.GET("/lessons", lessonCtrl.ListLessons)
	api.GET("/lessons/:id/slides/:n/audio", lessonCtrl.GetSlideAudio)
	api.POST("/lessons/:id/complete", lessonCtrl.Complete)
	api.GET("/progress", lessonCtrl.GetProgress)
	api.GET("/lessons/:id/quiz", quizCtrl.ListQuestions)
	api.POST("/quiz/questions/:id/answer", quizCtrl.SubmitAnswer)

	admin := r.Group("/api/admin", middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RoleMiddleware(model.Admin))
	admin.PATCH("/lessons/:id", contentCtrl.UpdateLesson)
	admin.PUT("/lessons/:id/slides/:n/audio", contentCtrl.UploadSlideAudio)
	admin.DELETE("/lessons/:id/slides/:n/audio", contentCtrl.DeleteSlideAudio)
	admin.POST("/content/sync", contentCtrl.SyncContent)
	admin.GET("/analytics", contentCtrl.GetAnalyticsSummary)

	return &testServer{router: r, db: db, lessonsDir: lessonsDir}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return s.send(t, req, token)
}

func (s *testServer) send(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", req.Method, req.URL.Path, w.Body.String(), err)
		}
	}
	return w, env
}

// signup 注册并登录，role 为 admin 时直接改库提升权限
func (s *testServer) signup(t *testing.T, email string, role model.UserRole) string {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Name: "Ann", Email: email, Password: "password123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, env.Message)
	}
	if role == model.Admin {
		err := s.db.Model(&model.User{}).Where("email = ?", email).Update("role", model.Admin).Error
		if err != nil {
			t.Fatalf("promote: %v", err)
		}
	}

	w, env = s.do(t, http.MethodPost, "/api/login", "", LoginRequest{Email: email, Password: "password123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, env.Message)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("login token missing: %s", env.Data)
	}
	return data.Token
}

func (s *testServer) syncLessons(t *testing.T, adminToken string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.lessonsDir, "01-intro.yaml"), []byte(lessonYAML), 0644); err != nil {
		t.Fatalf("write lesson: %v", err)
	}
	w, env := s.do(t, http.MethodPost, "/api/admin/content/sync", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync: %d %s", w.Code, env.Message)
	}
	var report service.SyncReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Created != 1 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ann@Example.com", model.Student)

	w, env := s.do(t, http.MethodGet, "/api/profile", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("profile: %d %s", w.Code, env.Message)
	}
	var user model.User
	if err := json.Unmarshal(env.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Email != "ann@example.com" || user.Role != model.Student {
		t.Fatalf("unexpected profile %+v", user)
	}

	w, _ = s.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Name: "Ann", Email: "ann@example.com", Password: "password123"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", w.Code)
	}

	w, _ = s.do(t, http.MethodPost, "/api/login", "", LoginRequest{Email: "ann@example.com", Password: "wrong-password"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", w.Code)
	}

	w, _ = s.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "x", "email": "not-an-email", "password": "short"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid register: expected 400, got %d", w.Code)
	}

	w, _ = s.do(t, http.MethodGet, "/api/profile", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous profile: expected 401, got %d", w.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "student@example.com", model.Student)

	w, _ := s.do(t, http.MethodPost, "/api/admin/content/sync", token, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestLessonCompletionAndQuiz(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "admin@example.com", model.Admin)
	student := s.signup(t, "student@example.com", model.Student)
	s.syncLessons(t, admin)

	w, env := s.do(t, http.MethodGet, "/api/lessons", student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list lessons: %d", w.Code)
	}
	var lessons []model.Lesson
	if err := json.Unmarshal(env.Data, &lessons); err != nil || len(lessons) != 1 {
		t.Fatalf("unexpected lessons %s", env.Data)
	}
	lessonID := lessons[0].ID

	completePath := fmt.Sprintf("/api/lessons/%d/complete", lessonID)
	for i := 0; i < 2; i++ {
		if w, env := s.do(t, http.MethodPost, completePath, student, nil); w.Code != http.StatusOK {
			t.Fatalf("complete #%d: %d %s", i+1, w.Code, env.Message)
		}
	}

	w, env = s.do(t, http.MethodGet, "/api/progress", student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("progress: %d", w.Code)
	}
	var overview service.ProgressOverview
	if err := json.Unmarshal(env.Data, &overview); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if overview.Completed != 1 || len(overview.Lessons) != 1 {
		t.Fatalf("completion must be recorded once, got %+v", overview)
	}

	w, env = s.do(t, http.MethodGet, fmt.Sprintf("/api/lessons/%d/quiz", lessonID), student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("quiz: %d %s", w.Code, env.Message)
	}
	var questions []service.QuizQuestionView
	if err := json.Unmarshal(env.Data, &questions); err != nil || len(questions) != 1 {
		t.Fatalf("unexpected questions %s", env.Data)
	}
	if bytes.Contains(env.Data, []byte("the intro lesson")) {
		t.Fatalf("reference answer leaked: %s", env.Data)
	}

	answerPath := fmt.Sprintf("/api/quiz/questions/%d/answer", questions[0].ID)
	w, env = s.do(t, http.MethodPost, answerPath, student, SubmitAnswerRequest{Answer: "The Intro Lesson!"})
	if w.Code != http.StatusOK {
		t.Fatalf("answer: %d %s", w.Code, env.Message)
	}
	var result service.ScoreResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode score: %v", err)
	}
	if !result.IsCorrect || result.Score != 100 || result.Method != service.MethodExact {
		t.Fatalf("unexpected score %+v", result)
	}

	w, _ = s.do(t, http.MethodPost, answerPath, student, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty answer: expected 400, got %d", w.Code)
	}

	w, _ = s.do(t, http.MethodPost, "/api/quiz/questions/999/answer", student, SubmitAnswerRequest{Answer: "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown question: expected 404, got %d", w.Code)
	}
}

func TestUpdateLessonHidesUnpublished(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "admin@example.com", model.Admin)
	student := s.signup(t, "student@example.com", model.Student)
	s.syncLessons(t, admin)

	w, _ := s.do(t, http.MethodPatch, "/api/admin/lessons/1", admin, map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: expected 400, got %d", w.Code)
	}

	published := false
	w, env := s.do(t, http.MethodPatch, "/api/admin/lessons/1", admin, UpdateLessonRequest{Published: &published})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", w.Code, env.Message)
	}
	var lesson model.Lesson
	if err := json.Unmarshal(env.Data, &lesson); err != nil {
		t.Fatalf("decode lesson: %v", err)
	}
	if lesson.Published || !lesson.Available {
		t.Fatalf("patch must only touch published, got %+v", lesson)
	}

	_, env = s.do(t, http.MethodGet, "/api/lessons", student, nil)
	var lessons []model.Lesson
	if err := json.Unmarshal(env.Data, &lessons); err != nil {
		t.Fatalf("decode lessons: %v", err)
	}
	if len(lessons) != 0 {
		t.Fatalf("unpublished lesson visible to students: %+v", lessons)
	}

	w, _ = s.do(t, http.MethodPatch, "/api/admin/lessons/42", admin, UpdateLessonRequest{Published: &published})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown lesson: expected 404, got %d", w.Code)
	}
}

func TestHiddenLessonRefusesAnswersAndCompletion(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "admin@example.com", model.Admin)
	student := s.signup(t, "student@example.com", model.Student)
	s.syncLessons(t, admin)

	_, env := s.do(t, http.MethodGet, "/api/lessons/1/quiz", student, nil)
	var questions []service.QuizQuestionView
	if err := json.Unmarshal(env.Data, &questions); err != nil || len(questions) != 1 {
		t.Fatalf("unexpected questions %s", env.Data)
	}
	answerPath := fmt.Sprintf("/api/quiz/questions/%d/answer", questions[0].ID)

	available := false
	if w, env := s.do(t, http.MethodPatch, "/api/admin/lessons/1", admin, UpdateLessonRequest{Available: &available}); w.Code != http.StatusOK {
		t.Fatalf("lock: %d %s", w.Code, env.Message)
	}
	w, _ := s.do(t, http.MethodPost, "/api/lessons/1/complete", student, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("complete locked lesson: expected 403, got %d", w.Code)
	}
	if w, env := s.do(t, http.MethodPost, "/api/lessons/1/complete", admin, nil); w.Code != http.StatusOK {
		t.Fatalf("admin complete locked lesson: %d %s", w.Code, env.Message)
	}

	published := false
	if w, env := s.do(t, http.MethodPatch, "/api/admin/lessons/1", admin, UpdateLessonRequest{Published: &published}); w.Code != http.StatusOK {
		t.Fatalf("unpublish: %d %s", w.Code, env.Message)
	}
	w, _ = s.do(t, http.MethodPost, answerPath, student, SubmitAnswerRequest{Answer: "the intro lesson"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("answer on unpublished lesson: expected 404, got %d", w.Code)
	}
	w, _ = s.do(t, http.MethodPost, "/api/lessons/1/complete", student, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("complete unpublished lesson: expected 404, got %d", w.Code)
	}
	if w, env := s.do(t, http.MethodPost, answerPath, admin, SubmitAnswerRequest{Answer: "the intro lesson"}); w.Code != http.StatusOK {
		t.Fatalf("admin answer on unpublished lesson: %d %s", w.Code, env.Message)
	}
}

func newAudioUpload(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(content)
	writer.Close()

	req := httptest.NewRequest(http.MethodPut, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestSlideAudioUploadAndDelete(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "admin@example.com", model.Admin)
	student := s.signup(t, "student@example.com", model.Student)
	s.syncLessons(t, admin)

	mp3 := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64}, 64)...)

	w, _ := s.send(t, newAudioUpload(t, "/api/admin/lessons/1/slides/1/audio", "notes.txt", []byte("hello")), admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("wrong extension: expected 400, got %d", w.Code)
	}
	w, _ = s.send(t, newAudioUpload(t, "/api/admin/lessons/1/slides/1/audio", "fake.mp3", []byte("plain text, not audio")), admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad content: expected 400, got %d", w.Code)
	}
	w, _ = s.send(t, newAudioUpload(t, "/api/admin/lessons/1/slides/9/audio", "a.mp3", mp3), admin)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown slide: expected 404, got %d", w.Code)
	}

	w, env := s.send(t, newAudioUpload(t, "/api/admin/lessons/1/slides/1/audio", "a.mp3", mp3), admin)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, env.Message)
	}

	w, env = s.do(t, http.MethodGet, "/api/lessons/1/slides/1/audio", student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("slide audio: %d %s", w.Code, env.Message)
	}
	var asset service.AudioAsset
	if err := json.Unmarshal(env.Data, &asset); err != nil {
		t.Fatalf("decode asset: %v", err)
	}
	if asset.URL != "/uploads/audio/lesson-1/slide-1.mp3" {
		t.Fatalf("unexpected url %q", asset.URL)
	}

	if w, env := s.do(t, http.MethodDelete, "/api/admin/lessons/1/slides/1/audio", admin, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, env.Message)
	}
	w, _ = s.do(t, http.MethodDelete, "/api/admin/lessons/1/slides/1/audio", admin, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}

	_, env = s.do(t, http.MethodGet, "/api/lessons/1/slides/1/audio", student, nil)
	if string(env.Data) != "" && string(env.Data) != "null" {
		t.Fatalf("expected no audio after delete, got %s", env.Data)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "admin@example.com", model.Admin)

	w, _ := s.do(t, http.MethodGet, "/api/admin/analytics?days=0", admin, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("days=0: expected 400, got %d", w.Code)
	}

	w, env := s.do(t, http.MethodGet, "/api/admin/analytics?days=7", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("analytics: %d %s", w.Code, env.Message)
	}
	var summary map[string]int64
	if err := json.Unmarshal(env.Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary) < 3 {
		t.Fatalf("known event types must default to zero, got %v", summary)
	}
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctrl := NewHealthController(testutil.NewTestDB(t), nil, t.TempDir())

	r := gin.New()
	r.GET("/api/health", ctrl.HealthCheck)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var env struct {
		Data struct {
			Components map[string]string `json:"components"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.Components["redis"] != "disabled" || env.Data.Components["lessonsDir"] != "up" {
		t.Fatalf("unexpected components %v", env.Data.Components)
	}
}
