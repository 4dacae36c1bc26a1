package models

import "time"

type Student struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	GradeLevel string    `json:"grade_level,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Question struct {
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
}

type Quiz struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	Topic     string     `json:"topic"`
	Questions []Question `json:"questions"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
}

type Attempt struct {
	ID        string    `json:"id"`
	QuizID    string    `json:"quiz_id"`
	StudentID string    `json:"student_id"`
	Correct   int       `json:"correct"`
	Total     int       `json:"total"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

type AttemptRank struct {
	StudentID  string  `json:"student_id"`
	Score      float64 `json:"score"`
	Percentile float64 `json:"percentile"`
}

type QuizStats struct {
	QuizID       string        `json:"quiz_id"`
	Attempts     int           `json:"attempts"`
	AverageScore float64       `json:"average_score"`
	Ranking      []AttemptRank `json:"ranking"`
}

type PerformanceSummary struct {
	StudentID    string   `json:"student_id"`
	Attempts     int      `json:"attempts"`
	AverageScore float64  `json:"average_score"`
	Percentile   float64  `json:"percentile"`
	WeakTopics   []string `json:"weak_topics"`
}

type LeaderboardEntry struct {
	StudentID    string  `json:"student_id"`
	Name         string  `json:"name"`
	AverageScore float64 `json:"average_score"`
	Attempts     int     `json:"attempts"`
}
