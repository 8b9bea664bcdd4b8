package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	xhttp "github.com/relaytext/campaign-engine/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) Create(ctx context.Context, req model.JobCreateRequest) (*model.Job, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *MockJobService) Get(ctx context.Context, id int64) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *MockJobService) Cancel(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestJobHandler_CreateJob(t *testing.T) {
	t.Run("successful job creation", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		reqBody := createJobRequest{
			Kind:           "assignTexters",
			CampaignID:     42,
			OrganizationID: 7,
			Payload:        json.RawMessage(`{"texters":[]}`),
		}
		bodyBytes, _ := json.Marshal(reqBody)

		expectedJob := &model.Job{
			ID:             123,
			Kind:           model.JobKindAssignTexters,
			CampaignID:     42,
			OrganizationID: 7,
		}

		svc.On("Create", mock.Anything, mock.MatchedBy(func(req model.JobCreateRequest) bool {
			return req.Kind == model.JobKindAssignTexters && req.CampaignID == 42 && req.OrganizationID == 7
		})).Return(expectedJob, nil)

		ctx := setupTestContext("POST", "/jobs", bodyBytes)
		handler.CreateJob(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var response model.Job
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, int64(123), response.ID)
		assert.Equal(t, model.JobKindAssignTexters, response.Kind)

		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		ctx := setupTestContext("POST", "/jobs", []byte("invalid json"))
		handler.CreateJob(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var response map[string]string
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Contains(t, response["error"], "invalid JSON")
	})

	t.Run("service error", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		reqBody := createJobRequest{Kind: "bogusKind", CampaignID: 1, OrganizationID: 1}
		bodyBytes, _ := json.Marshal(reqBody)

		svc.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("unsupported job kind"))

		ctx := setupTestContext("POST", "/jobs", bodyBytes)
		handler.CreateJob(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var response map[string]string
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, "unsupported job kind", response["error"])

		svc.AssertExpectations(t)
	})
}

func TestJobHandler_GetJob(t *testing.T) {
	t.Run("successful get", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		expectedJob := &model.Job{
			ID:            55,
			Kind:          model.JobKindExportCampaign,
			CampaignID:    42,
			Progress:      80,
			ResultMessage: "exporting messages",
		}

		svc.On("Get", mock.Anything, int64(55)).Return(expectedJob, nil)

		ctx := setupTestContext("GET", "/jobs/55", nil)
		ctx.SetUserValue("id", "55")
		handler.GetJob(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response model.Job
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, int64(55), response.ID)
		assert.Equal(t, 80, response.Progress)

		svc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		svc.On("Get", mock.Anything, int64(99)).Return(nil, repository.ErrJobNotFound)

		ctx := setupTestContext("GET", "/jobs/99", nil)
		ctx.SetUserValue("id", "99")
		handler.GetJob(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		ctx := setupTestContext("GET", "/jobs/abc", nil)
		ctx.SetUserValue("id", "abc")
		handler.GetJob(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestJobHandler_CancelJob(t *testing.T) {
	t.Run("successful cancel", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		svc.On("Cancel", mock.Anything, int64(55)).Return(nil)

		ctx := setupTestContext("DELETE", "/jobs/55", nil)
		ctx.SetUserValue("id", "55")
		handler.CancelJob(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response map[string]string
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, "cancelled", response["status"])

		svc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		svc := new(MockJobService)
		handler := NewJobHandler(svc)

		svc.On("Cancel", mock.Anything, int64(99)).Return(repository.ErrJobNotFound)

		ctx := setupTestContext("DELETE", "/jobs/99", nil)
		ctx.SetUserValue("id", "99")
		handler.CancelJob(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})
}

func TestHelperFunctions(t *testing.T) {
	t.Run("readJSON", func(t *testing.T) {
		data := map[string]string{"key": "value"}
		bodyBytes, _ := json.Marshal(data)
		ctx := setupTestContext("POST", "/", bodyBytes)

		var result map[string]string
		err := readJSON(ctx, &result)
		require.NoError(t, err)
		assert.Equal(t, "value", result["key"])
	})

	t.Run("writeJSON", func(t *testing.T) {
		ctx := setupTestContext("GET", "/", nil)
		writeJSON(ctx, 200, map[string]string{"message": "test"})

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Header.Peek("Content-Type")), "application/json")

		var result map[string]string
		err := json.Unmarshal(ctx.Response.Body(), &result)
		require.NoError(t, err)
		assert.Equal(t, "test", result["message"])
	})

	t.Run("writeError", func(t *testing.T) {
		ctx := setupTestContext("GET", "/", nil)
		writeError(ctx, 404, "not found")

		assert.Equal(t, 404, ctx.Response.StatusCode())

		var result map[string]string
		err := json.Unmarshal(ctx.Response.Body(), &result)
		require.NoError(t, err)
		assert.Equal(t, "not found", result["error"])
	})
}
