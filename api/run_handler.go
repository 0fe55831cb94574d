package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(r, "limit", defaultLimit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if limit == 0 || limit > maxLimit {
		badRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxLimit))
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	status := queue.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		badRequest(w, "invalid status: "+string(status))
		return
	}

	runs, err := a.s.Store().ListGroups(r.Context(), queue.ListOpts{
		Limit:        limit,
		Offset:       offset,
		TimeZone:     q.Get("tz"),
		JobGroupName: q.Get("group"),
		Status:       status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*queue.Group{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseQueueGroupID(pathParam(r, "runID"))
	if err != nil {
		badRequest(w, "invalid run id: "+err.Error())
		return
	}
	run, err := a.s.Store().GetGroup(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) listRunJobs(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseQueueGroupID(pathParam(r, "runID"))
	if err != nil {
		badRequest(w, "invalid run id: "+err.Error())
		return
	}
	if _, err := a.s.Store().GetGroup(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	jobs, err := a.s.Store().ListJobs(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}
