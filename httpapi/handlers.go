package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"netmonitor/errkind"
	"netmonitor/ingest"
	"netmonitor/query"
	"netmonitor/store"
)

func (s *Server) handleActiveTab(w http.ResponseWriter, r *http.Request) {
	var rep ingest.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errkind.ErrValidation, err))
		return
	}
	domainID, err := s.recorder.Record(r.Context(), rep)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"domain_id": domainID,
	})
}

func (s *Server) handleBrowserStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.health.Health(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"daemon_running":    st.Running,
		"accepting_reports": st.Running,
		"degraded":          st.Degraded,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := intParam(q.Get("since"), 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	until, err := intParam(q.Get("until"), 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sum, err := s.queries.Summary(r.Context(), since, until)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, sum)
}

// timelineRequest parses the shared period/since/until/buckets query
// parameters.
func timelineRequest(r *http.Request) (query.TimelineRequest, error) {
	q := r.URL.Query()
	var req query.TimelineRequest

	if p := q.Get("period"); p != "" {
		period, err := query.ParsePeriod(p)
		if err != nil {
			return req, err
		}
		req.Period = period
	} else {
		since, err := intParam(q.Get("since"), 0)
		if err != nil {
			return req, err
		}
		until, err := intParam(q.Get("until"), 0)
		if err != nil {
			return req, err
		}
		if since == 0 || until == 0 {
			return req, fmt.Errorf("%w: need period or since+until", errkind.ErrValidation)
		}
		req.Since, req.Until = since, until
	}

	buckets, err := intParam(r.URL.Query().Get("buckets"), 0)
	if err != nil {
		return req, err
	}
	req.Buckets = int(buckets)
	return req, nil
}

func intParam(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", errkind.ErrValidation, s)
	}
	return n, nil
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	req, err := timelineRequest(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	points, err := s.queries.Timeline(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"timeline": points})
}

func (s *Server) handleBandwidth(w http.ResponseWriter, r *http.Request) {
	bw, err := s.queries.Bandwidth(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, bw)
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy, order, err := query.ParseSort(q.Get("sort_by"), q.Get("order"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), 50)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	since, err := intParam(q.Get("since"), 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	apps, err := s.store.ListAppUsage(r.Context(), since, int(limit), sortBy, order)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"applications": apps})
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s %q", errkind.ErrValidation, name, raw)
	}
	return id, nil
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "appID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	app, err := s.store.GetApplication(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, app)
}

func (s *Server) handleAppTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "appID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, err := s.store.GetApplication(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	req, err := timelineRequest(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	req.AppID = id

	points, err := s.queries.Timeline(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"app_id": id, "timeline": points})
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 50)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	since, err := intParam(q.Get("since"), 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	parentOnly := q.Get("parent_only") == "true"

	domains, err := s.store.ListDomainUsage(r.Context(), since, int(limit), parentOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "domainID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	d, err := s.store.GetDomain(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, d)
}

func (s *Server) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	n, err := idParam(r, "n")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	period := query.Period7d
	if p := r.URL.Query().Get("period"); p != "" {
		if period, err = query.ParsePeriod(p); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	parentOnly := r.URL.Query().Get("parent_only") == "true"

	domains, err := s.queries.TopDomains(r.Context(), period, int(n), parentOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) handleListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListConfig(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"effective": s.cfg.Current(),
		"stored":    entries,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, err := s.store.GetConfigValue(r.Context(), key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, store.ConfigEntry{Key: key, Value: v})
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errkind.ErrValidation, err))
		return
	}

	cfg, err := s.cfg.Apply(key, body.Value)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	now := time.Now().UTC().Unix()
	if err := s.store.SetConfigValue(r.Context(), key, body.Value, now); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok", "effective": cfg})
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.store.DeleteConfigValue(r.Context(), key); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.cfg.Reload()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Info("httpapi: config reloaded")
	s.respond(w, http.StatusOK, map[string]any{"status": "ok", "effective": cfg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.health.Health(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	code := http.StatusOK
	if st.Degraded {
		code = http.StatusServiceUnavailable
	}
	s.respond(w, code, st)
}
