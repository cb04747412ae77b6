package model

type Difficulty string

const (
	DifficultyEasy Difficulty = "easy"
	DifficultyHard Difficulty = "hard"
)

// swagger:model QuizQuestion
type QuizQuestion struct {
	BaseModel
	LessonID      uint       `gorm:"uniqueIndex:idx_lesson_position;not null" json:"lessonId"`
	Position      int        `gorm:"uniqueIndex:idx_lesson_position;not null" json:"position"`
	Question      string     `gorm:"type:text;not null" json:"question"`
	CorrectAnswer string     `gorm:"type:text;not null" json:"-"`
	Difficulty    Difficulty `gorm:"size:10;default:easy" json:"difficulty"`
	Points        int        `gorm:"default:10" json:"points"`
}

func (QuizQuestion) TableName() string {
	return "quiz_questions"
}

// QuizAnswer 记录一次作答及评分结果
// swagger:model QuizAnswer
type QuizAnswer struct {
	BaseModel
	UserID     uint   `gorm:"index;not null" json:"userId"`
	QuestionID uint   `gorm:"index;not null" json:"questionId"`
	Answer     string `gorm:"type:text" json:"answer"`
	Score      int    `json:"score"`
	IsCorrect  bool   `json:"isCorrect"`
	Feedback   string `gorm:"type:text" json:"feedback"`
	Method     string `gorm:"size:20" json:"method"`
}

func (QuizAnswer) TableName() string {
	return "quiz_answers"
}
