package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	xhttp "github.com/relaytext/campaign-engine/pkg/http"
)

type JobService interface {
	Create(ctx context.Context, req model.JobCreateRequest) (*model.Job, error)
	Get(ctx context.Context, id int64) (*model.Job, error)
	Cancel(ctx context.Context, id int64) error
}

type JobHandler struct {
	svc JobService
}

func RegisterJobRoutes(e *router.Group, h *JobHandler) {
	e.POST("/jobs", h.CreateJob)
	e.GET("/jobs/{id}", h.GetJob)
	e.DELETE("/jobs/{id}", h.CancelJob)
}

func NewJobHandler(jobService JobService) *JobHandler {
	return &JobHandler{
		svc: jobService,
	}
}

type createJobRequest struct {
	Kind           string          `json:"kind"`
	CampaignID     int64           `json:"campaign_id"`
	OrganizationID int64           `json:"organization_id"`
	Payload        json.RawMessage `json:"payload"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *JobHandler) CreateJob(ctx *xhttp.RequestCtx) {
	var req createJobRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	job, err := h.svc.Create(ctx, model.JobCreateRequest{
		Kind:           model.JobKind(req.Kind),
		CampaignID:     req.CampaignID,
		OrganizationID: req.OrganizationID,
		Payload:        req.Payload,
	})
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, job)
}

func (h *JobHandler) GetJob(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid job id")
		return
	}

	job, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, job)
}

func (h *JobHandler) CancelJob(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid job id")
		return
	}

	if err := h.svc.Cancel(ctx, id); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "cancelled"})
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}
