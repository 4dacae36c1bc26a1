package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/routes"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/store"
)

func (s *Server) lecturesModule() routes.Module {
	return routes.Module{
		BasePath: "/v1/lectures",
		Endpoints: []routes.Endpoint{
			{
				Policy: policy.Descriptor{
					Method: http.MethodGet,
					Auth:   policy.AuthRequired,
					Tier:   policy.TierRead,
					KeyBy:  policy.KeyByUser,
					Roles:  []string{"teacher"},
				},
				Handler: s.listLectures,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/{lecture_id}/engagement",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyByUser,
					Roles:      []string{"teacher"},
				},
				Handler: s.lectureEngagement,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodDelete,
					PathSuffix: "/{lecture_id}",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierStrict,
					KeyBy:      policy.KeyByUser,
					Roles:      []string{"teacher"},
				},
				Handler: s.deleteLecture,
			},
		},
	}
}

func writeRawJSON(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) listLectures(w http.ResponseWriter, r *http.Request) error {
	body, err := s.Engagement.ListLectures(r.Context())
	if err != nil {
		return err
	}
	writeRawJSON(w, http.StatusOK, body)
	return nil
}

// lectureEngagement proxies the CV service's per-lecture report, caching it so
// dashboard refreshes do not hammer the pipeline.
func (s *Server) lectureEngagement(w http.ResponseWriter, r *http.Request) error {
	lectureID := chi.URLParam(r, "lecture_id")
	cacheKey := "engagement:" + lectureID
	if s.Cache != nil {
		if cached, err := s.Cache.Get(r.Context(), cacheKey); err == nil {
			writeRawJSON(w, http.StatusOK, json.RawMessage(cached))
			return nil
		} else if !errors.Is(err, store.ErrCacheMiss) {
			log.Printf("engagement cache read error: %v", err)
		}
	}
	body, err := s.Engagement.Report(r.Context(), lectureID)
	if err != nil {
		return err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(r.Context(), cacheKey, string(body), s.EngagementCacheTTL); err != nil {
			log.Printf("engagement cache write error: %v", err)
		}
	}
	writeRawJSON(w, http.StatusOK, body)
	return nil
}

func (s *Server) deleteLecture(w http.ResponseWriter, r *http.Request) error {
	lectureID := chi.URLParam(r, "lecture_id")
	if err := s.Engagement.DeleteLecture(r.Context(), lectureID); err != nil {
		return err
	}
	if s.Cache != nil {
		_ = s.Cache.Del(r.Context(), "engagement:"+lectureID)
	}
	if s.DB != nil {
		if _, err := s.DB.Exec(r.Context(), `DELETE FROM engagement_reports WHERE lecture_id = $1`, lectureID); err != nil {
			log.Printf("engagement report cleanup error for %s: %v", lectureID, err)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "lecture_id": lectureID})
	return nil
}
