package main

import (
	"net/http"
	"time"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/auth"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/models"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/routes"
)

func (s *Server) publicModule() routes.Module {
	return routes.Module{
		BasePath: "/v1/public",
		Endpoints: []routes.Endpoint{
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/leaderboard",
					Auth:       policy.AuthNone,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyByIP,
				},
				Handler: s.leaderboard,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/announcements",
					Auth:       policy.AuthOptional,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyDefault,
				},
				Handler: s.announcements,
			},
		},
	}
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) error {
	limit := queryInt(r, "limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}
	rows, err := s.DB.Query(r.Context(), `
		SELECT s.id, s.name, AVG(a.score), COUNT(*)
		FROM attempts a
		JOIN students s ON s.id = a.student_id
		GROUP BY s.id, s.name
		ORDER BY AVG(a.score) DESC, s.name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	entries := make([]models.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.StudentID, &e.Name, &e.AverageScore, &e.Attempts); err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
	return nil
}

type announcement struct {
	Subject   string    `json:"subject"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	Attempted bool      `json:"attempted,omitempty"`
}

// announcements lists recently published quizzes. A valid credential
// personalizes the list with attempt status; anonymous callers get the same
// list without it.
func (s *Server) announcements(w http.ResponseWriter, r *http.Request) error {
	principal, authenticated := auth.PrincipalFromContext(r.Context())
	rows, err := s.DB.Query(r.Context(), `
		SELECT id, subject, topic, created_at
		FROM quizzes
		ORDER BY created_at DESC
		LIMIT 5
	`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var quizIDs []string
	items := make([]announcement, 0, 5)
	for rows.Next() {
		var id string
		var a announcement
		if err := rows.Scan(&id, &a.Subject, &a.Topic, &a.CreatedAt); err != nil {
			return err
		}
		quizIDs = append(quizIDs, id)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if authenticated && len(quizIDs) > 0 {
		attempted := map[string]bool{}
		arows, err := s.DB.Query(r.Context(), `
			SELECT DISTINCT quiz_id
			FROM attempts
			WHERE student_id = $1 AND quiz_id = ANY($2)
		`, principal.ID, quizIDs)
		if err != nil {
			return err
		}
		for arows.Next() {
			var quizID string
			if err := arows.Scan(&quizID); err != nil {
				arows.Close()
				return err
			}
			attempted[quizID] = true
		}
		arows.Close()
		if err := arows.Err(); err != nil {
			return err
		}
		for i, quizID := range quizIDs {
			items[i].Attempted = attempted[quizID]
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items":        items,
		"personalized": authenticated,
	})
	return nil
}
