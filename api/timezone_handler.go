package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

func (a *API) listTimeZones(w http.ResponseWriter, r *http.Request) {
	zones := a.s.TimeZones()
	resp := make([]TimeZoneResponse, 0, len(zones))
	for _, tz := range zones {
		groups, err := a.s.Store().Groups(r.Context(), tz)
		if err != nil {
			writeError(w, err)
			return
		}
		m, err := a.s.Manager(tz)
		if err != nil {
			writeError(w, err)
			return
		}
		resp = append(resp, TimeZoneResponse{
			TimeZone:   tz,
			Groups:     len(groups),
			ActiveRuns: len(m.ActiveRuns()),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	tz := pathParam(r, "tz")
	if _, err := a.s.Manager(tz); err != nil {
		writeError(w, err)
		return
	}
	groups, err := a.s.Store().Groups(r.Context(), tz)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]GroupResponse, 0, len(groups))
	for _, g := range groups {
		resp = append(resp, groupResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := a.s.Store().Group(r.Context(), pathParam(r, "name"), pathParam(r, "tz"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groupResponse(g))
}

func (a *API) nextOccurrences(w http.ResponseWriter, r *http.Request) {
	tz, name := pathParam(r, "tz"), pathParam(r, "name")
	count, err := intQuery(r, "count", 5)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if count == 0 || count > maxLimit {
		badRequest(w, fmt.Sprintf("count must be between 1 and %d", maxLimit))
		return
	}

	next, err := a.s.NextOccurrences(r.Context(), tz, name, count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NextResponse{Group: name, TimeZone: tz, Next: next})
}

func (a *API) trigger(w http.ResponseWriter, r *http.Request) {
	tz := pathParam(r, "tz")
	at := a.now()
	if s := r.URL.Query().Get("at"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(w, "invalid at: "+err.Error())
			return
		}
		at = parsed
	}

	started, err := a.s.Trigger(r.Context(), tz, at)
	if err != nil && started == 0 {
		writeError(w, err)
		return
	}
	if err != nil {
		a.logger.Warn("manual trigger partially failed",
			slog.String("timezone", tz),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{TimeZone: tz, At: at.Truncate(time.Minute), Started: started})
}

// stats reports the live coordinators and throttled jobs per time zone,
// and the event broker counters when one is served.
func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{TimeZones: []ZoneStats{}}
	for _, tz := range a.s.TimeZones() {
		m, err := a.s.Manager(tz)
		if err != nil {
			writeError(w, err)
			return
		}
		zs := ZoneStats{TimeZone: tz, ActiveRuns: len(m.ActiveRuns())}
		if t := a.s.Throttle(); t != nil {
			zs.ActiveJobs = t.ActiveCount(tz)
		}
		resp.TimeZones = append(resp.TimeZones, zs)
	}
	if a.broker != nil {
		st := a.broker.Stats()
		resp.Stream = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
