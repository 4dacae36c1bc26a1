package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/apierr"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/auth"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/models"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/routes"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/scores"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/stream"
)

func (s *Server) quizzesModule() routes.Module {
	return routes.Module{
		BasePath: "/v1/quizzes",
		Endpoints: []routes.Endpoint{
			{
				Policy: policy.Descriptor{
					Method: http.MethodPost,
					Auth:   policy.AuthRequired,
					Tier:   policy.TierStrict,
					KeyBy:  policy.KeyByUser,
					Roles:  []string{"teacher"},
				},
				Handler: s.createQuiz,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/{quiz_id}",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyByUser,
				},
				Handler: s.getQuiz,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodPost,
					PathSuffix: "/{quiz_id}/attempts",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierGameplay,
					KeyBy:      policy.KeyByUser,
					Roles:      []string{"student"},
				},
				Handler: s.submitAttempt,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/{quiz_id}/stats",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyByUser,
					Roles:      []string{"teacher"},
				},
				Handler: s.quizStats,
			},
		},
	}
}

type createQuizRequest struct {
	Subject   string            `json:"subject"`
	Topic     string            `json:"topic"`
	Questions []models.Question `json:"questions"`
}

func (s *Server) createQuiz(w http.ResponseWriter, r *http.Request) error {
	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.BadRequest("invalid json body")
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Subject == "" {
		return apierr.BadRequest("subject is required")
	}
	if req.Topic == "" {
		return apierr.BadRequest("topic is required")
	}
	if len(req.Questions) == 0 {
		return apierr.BadRequest("at least one question is required")
	}
	for i, q := range req.Questions {
		if strings.TrimSpace(q.Prompt) == "" {
			return apierr.BadRequest("question prompt is required")
		}
		if len(q.Options) < 2 {
			return apierr.BadRequest("questions need at least two options")
		}
		if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Options) {
			return apierr.BadRequest("answer_index out of range")
		}
		req.Questions[i].Prompt = strings.TrimSpace(q.Prompt)
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	quiz := models.Quiz{
		ID:        uuid.New().String(),
		Subject:   req.Subject,
		Topic:     req.Topic,
		Questions: req.Questions,
		CreatedBy: principal.ID,
		CreatedAt: time.Now().UTC(),
	}
	questionsJSON, err := json.Marshal(quiz.Questions)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO quizzes(id, subject, topic, questions, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, quiz.ID, quiz.Subject, quiz.Topic, questionsJSON, quiz.CreatedBy, quiz.CreatedAt)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, quiz)
	return nil
}

func (s *Server) loadQuiz(r *http.Request, quizID string) (models.Quiz, error) {
	var quiz models.Quiz
	var questionsJSON []byte
	err := s.DB.QueryRow(r.Context(), `
		SELECT id, subject, topic, questions, created_by, created_at
		FROM quizzes
		WHERE id = $1
	`, quizID).Scan(&quiz.ID, &quiz.Subject, &quiz.Topic, &questionsJSON, &quiz.CreatedBy, &quiz.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Quiz{}, apierr.NotFound("quiz not found")
	}
	if err != nil {
		return models.Quiz{}, err
	}
	if err := json.Unmarshal(questionsJSON, &quiz.Questions); err != nil {
		return models.Quiz{}, err
	}
	return quiz, nil
}

func (s *Server) getQuiz(w http.ResponseWriter, r *http.Request) error {
	quiz, err := s.loadQuiz(r, chi.URLParam(r, "quiz_id"))
	if err != nil {
		return err
	}
	// Students see the quiz without the answer key.
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && auth.HasRole(p, "student") {
		for i := range quiz.Questions {
			quiz.Questions[i].AnswerIndex = -1
		}
	}
	httpx.WriteJSON(w, http.StatusOK, quiz)
	return nil
}

type submitAttemptRequest struct {
	Answers []int `json:"answers"`
}

func (s *Server) submitAttempt(w http.ResponseWriter, r *http.Request) error {
	quiz, err := s.loadQuiz(r, chi.URLParam(r, "quiz_id"))
	if err != nil {
		return err
	}
	var req submitAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.BadRequest("invalid json body")
	}
	if len(req.Answers) != len(quiz.Questions) {
		return apierr.BadRequest("answers must cover every question exactly once")
	}
	correct := 0
	for i, answer := range req.Answers {
		if answer == quiz.Questions[i].AnswerIndex {
			correct++
		}
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	attempt := models.Attempt{
		ID:        uuid.New().String(),
		QuizID:    quiz.ID,
		StudentID: principal.ID,
		Correct:   correct,
		Total:     len(quiz.Questions),
		Score:     scores.Grade(correct, len(quiz.Questions)),
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO attempts(id, quiz_id, student_id, correct, total, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attempt.ID, attempt.QuizID, attempt.StudentID, attempt.Correct, attempt.Total, attempt.Score, attempt.CreatedAt)
	if err != nil {
		return err
	}
	if s.Events != nil {
		s.Events.Publish(stream.NewEvent(stream.EventAttemptRecorded, map[string]interface{}{
			"quiz_id":    attempt.QuizID,
			"student_id": attempt.StudentID,
			"score":      attempt.Score,
		}))
	}
	httpx.WriteJSON(w, http.StatusCreated, attempt)
	return nil
}

func (s *Server) quizStats(w http.ResponseWriter, r *http.Request) error {
	quiz, err := s.loadQuiz(r, chi.URLParam(r, "quiz_id"))
	if err != nil {
		return err
	}
	rows, err := s.DB.Query(r.Context(), `
		SELECT DISTINCT ON (student_id) student_id, score
		FROM attempts
		WHERE quiz_id = $1
		ORDER BY student_id, created_at DESC
	`, quiz.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	type attemptRow struct {
		studentID string
		score     float64
	}
	var attempts []attemptRow
	for rows.Next() {
		var row attemptRow
		if err := rows.Scan(&row.studentID, &row.score); err != nil {
			return err
		}
		attempts = append(attempts, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	stats := models.QuizStats{QuizID: quiz.ID, Attempts: len(attempts)}
	if len(attempts) > 0 {
		cohort := make([]float64, 0, len(attempts))
		sum := 0.0
		for _, a := range attempts {
			cohort = append(cohort, a.score)
			sum += a.score
		}
		stats.AverageScore = sum / float64(len(attempts))
		stats.Ranking = make([]models.AttemptRank, 0, len(attempts))
		for _, a := range attempts {
			stats.Ranking = append(stats.Ranking, models.AttemptRank{
				StudentID:  a.studentID,
				Score:      a.score,
				Percentile: scores.Percentile(a.score, cohort),
			})
		}
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
	return nil
}
