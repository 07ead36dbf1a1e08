package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
)

// jobView pairs the job with its progress bar payload.
type jobView struct {
	*jobdomain.Job
	Progress jobdomain.Progress `json:"progress"`
}

func newJobView(job *jobdomain.Job) jobView {
	return jobView{Job: job, Progress: job.Progress()}
}

// StartSessionRerun queues a batch job; the rerun worker picks it up.
func (s *Server) StartSessionRerun(c *gin.Context) {
	sessionID, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	var req actorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.rerun.StartSessionRerun(c.Request.Context(), sessionID, actorID(c, req.ActorID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": newJobView(job)})
}

func (s *Server) ListRerunJobs(c *gin.Context) {
	sessionID, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	jobs, err := s.rerun.ListJobs(c.Request.Context(), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, newJobView(&jobs[i]))
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetRerunJob(c *gin.Context) {
	id, ok := pathID(c, jobdomain.ParseID)
	if !ok {
		return
	}

	job, err := s.rerun.GetJob(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newJobView(job)})
}

func (s *Server) CancelRerunJob(c *gin.Context) {
	id, ok := pathID(c, jobdomain.ParseID)
	if !ok {
		return
	}

	var req actorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.rerun.CancelJob(c.Request.Context(), id, actorID(c, req.ActorID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newJobView(job)})
}
