package main

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/routes"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/stream"
)

func (s *Server) streamModule() routes.Module {
	return routes.Module{
		BasePath: "/v1/stream",
		Endpoints: []routes.Endpoint{
			{
				Policy: policy.Descriptor{
					Method: http.MethodGet,
					Auth:   policy.AuthRequired,
					Tier:   policy.TierRead,
					KeyBy:  policy.KeyByUser,
					Roles:  []string{"teacher"},
				},
				Handler: s.streamEvents,
			},
		},
	}
}

func (s *Server) opsModule() routes.Module {
	return routes.Module{
		BasePath: "/v1/metrics",
		Endpoints: []routes.Endpoint{
			{
				Policy: policy.Descriptor{
					Method: http.MethodGet,
					Auth:   policy.AuthRequired,
					Tier:   policy.TierRead,
					KeyBy:  policy.KeyByUser,
					Roles:  []string{"teacher"},
				},
				Handler: s.metricsSnapshot,
			},
			{
				Policy: policy.Descriptor{
					Method:     http.MethodGet,
					PathSuffix: "/prometheus",
					Auth:       policy.AuthRequired,
					Tier:       policy.TierRead,
					KeyBy:      policy.KeyByUser,
					Roles:      []string{"teacher"},
				},
				Handler: s.metricsPrometheus,
			},
		},
	}
}

// streamEvents upgrades the connection and forwards hub events until the
// client goes away. Errors after the handshake are connection-level, not API
// errors, so the handler never returns one past that point.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		// Accept already wrote the handshake failure.
		return nil
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ch := s.Events.Subscribe(32)
	defer s.Events.Unsubscribe(ch)

	ctx := r.Context()
	if err := wsjson.Write(ctx, conn, stream.NewEvent(stream.EventRefresh, nil)); err != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) error {
	httpx.WriteJSON(w, http.StatusOK, s.Metrics.Snapshot())
	return nil
}

func (s *Server) metricsPrometheus(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.Metrics.PrometheusText()))
	return nil
}
