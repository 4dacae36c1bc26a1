package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/apierr"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/auth"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/models"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/routes"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/scores"
)

func (s *Server) performanceModule() routes.Module {
	return routes.Module{
		BasePath: "/v1/performance",
		Endpoints: []routes.Endpoint{
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/{student_id}",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyByUser,
				},
				Handler: s.studentPerformance,
			},
		},
	}
}

// studentPerformance aggregates a student's attempts into an overall average,
// a cohort percentile, and the topics they are weakest in. Students may only
// read their own summary; teachers may read anyone's.
func (s *Server) studentPerformance(w http.ResponseWriter, r *http.Request) error {
	studentID := chi.URLParam(r, "student_id")
	principal, _ := auth.PrincipalFromContext(r.Context())
	if !auth.HasRole(principal, "teacher") && principal.ID != studentID {
		return apierr.Forbidden("students may only read their own performance")
	}

	var exists bool
	if err := s.DB.QueryRow(r.Context(), `SELECT EXISTS(SELECT 1 FROM students WHERE id = $1)`, studentID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apierr.NotFound("student not found")
	}

	rows, err := s.DB.Query(r.Context(), `
		SELECT q.topic, a.score
		FROM attempts a
		JOIN quizzes q ON q.id = a.quiz_id
		WHERE a.student_id = $1
	`, studentID)
	if err != nil {
		return err
	}
	defer rows.Close()
	attempts := 0
	sum := 0.0
	topicSum := map[string]float64{}
	topicCount := map[string]int{}
	for rows.Next() {
		var topic string
		var score float64
		if err := rows.Scan(&topic, &score); err != nil {
			return err
		}
		attempts++
		sum += score
		topicSum[topic] += score
		topicCount[topic]++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	summary := models.PerformanceSummary{StudentID: studentID, Attempts: attempts, WeakTopics: []string{}}
	if attempts > 0 {
		summary.AverageScore = sum / float64(attempts)
		byTopic := make(map[string]float64, len(topicSum))
		for topic, total := range topicSum {
			byTopic[topic] = total / float64(topicCount[topic])
		}
		summary.WeakTopics = scores.WeakTopics(byTopic, s.WeakTopicThreshold)

		cohort, err := s.cohortAverages(r)
		if err != nil {
			return err
		}
		summary.Percentile = scores.Percentile(summary.AverageScore, cohort)
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
	return nil
}

// cohortAverages returns the per-student average score across the whole
// cohort, one entry per student with at least one attempt.
func (s *Server) cohortAverages(r *http.Request) ([]float64, error) {
	rows, err := s.DB.Query(r.Context(), `
		SELECT AVG(score)
		FROM attempts
		GROUP BY student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cohort []float64
	for rows.Next() {
		var avg float64
		if err := rows.Scan(&avg); err != nil {
			return nil, err
		}
		cohort = append(cohort, avg)
	}
	return cohort, rows.Err()
}
