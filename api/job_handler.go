package api

import (
	"log/slog"
	"net/http"

	"github.com/xraph/batchflow/id"
)

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseQueueJobID(pathParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id: "+err.Error())
		return
	}
	j, err := a.s.Store().GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(j))
}

// resumeJob releases the dependents of a paused job.
func (a *API) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseQueueJobID(pathParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id: "+err.Error())
		return
	}
	j, err := a.s.Resume(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	a.logger.Info("job resumed",
		slog.String("job_id", jobID.String()),
		slog.String("job_name", j.JobName),
	)
	writeJSON(w, http.StatusOK, jobResponse(j))
}
