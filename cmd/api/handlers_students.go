package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/apierr"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/models"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/routes"
)

func (s *Server) studentsModule() routes.Module {
	return routes.Module{
		BasePath: "/v1/students",
		Endpoints: []routes.Endpoint{
			{
				Policy: policy.Descriptor{
					Method: http.MethodPost,
					Auth:   policy.AuthRequired,
					Tier:   policy.TierStrict,
					KeyBy:  policy.KeyByUser,
					Roles:  []string{"teacher"},
				},
				Handler: s.createStudent,
			},
			{
				Policy: policy.Descriptor{
					Method: http.MethodGet,
					Auth:   policy.AuthRequired,
					Tier:   policy.TierRead,
					KeyBy:  policy.KeyByUser,
					Roles:  []string{"teacher"},
				},
				Handler: s.listStudents,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/{student_id}",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyByUser,
				},
				Handler: s.getStudent,
			},
		},
	}
}

type createStudentRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	GradeLevel string `json:"grade_level"`
}

func (s *Server) createStudent(w http.ResponseWriter, r *http.Request) error {
	var req createStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.BadRequest("invalid json body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		return apierr.BadRequest("name is required")
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return apierr.BadRequest("a valid email is required")
	}
	student := models.Student{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Email:      req.Email,
		GradeLevel: strings.TrimSpace(req.GradeLevel),
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.DB.Exec(r.Context(), `
		INSERT INTO students(id, name, email, grade_level, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, student.ID, student.Name, student.Email, student.GradeLevel, student.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apierr.BadRequest("email is already registered")
		}
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, student)
	return nil
}

func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) error {
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 500 {
		return apierr.BadRequest("limit must be between 1 and 500")
	}
	rows, err := s.DB.Query(r.Context(), `
		SELECT id, name, email, grade_level, created_at
		FROM students
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	students := make([]models.Student, 0, limit)
	for rows.Next() {
		var st models.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Email, &st.GradeLevel, &st.CreatedAt); err != nil {
			return err
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": students, "count": len(students)})
	return nil
}

func (s *Server) getStudent(w http.ResponseWriter, r *http.Request) error {
	studentID := chi.URLParam(r, "student_id")
	var st models.Student
	err := s.DB.QueryRow(r.Context(), `
		SELECT id, name, email, grade_level, created_at
		FROM students
		WHERE id = $1
	`, studentID).Scan(&st.ID, &st.Name, &st.Email, &st.GradeLevel, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apierr.NotFound("student not found")
	}
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, st)
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
