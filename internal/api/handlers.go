package api

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/review"
	"github.com/miradorstack/teleops-rca/internal/services"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

// Handler adapts RCAService to the RCAEngine API.
type Handler struct {
	svc    *services.RCAService
	logger *slog.Logger
}

var _ RCAEngineServer = (*Handler)(nil)

// NewHandler wraps svc.
func NewHandler(svc *services.RCAService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: utils.Component(logger, "api")}
}

func (h *Handler) fail(method string, err error) error {
	if utils.IsKind(err, utils.KindInternal) {
		h.logger.Error("request failed", slog.String("method", method), slog.Any("error", err))
	} else {
		h.logger.Debug("request rejected", slog.String("method", method), slog.Any("error", err))
	}
	return toStatus(err)
}

func (h *Handler) Correlate(ctx context.Context, req *CorrelateRequest) (*CorrelateResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	result, err := h.svc.Correlate(ctx, req.Alerts)
	if err != nil {
		return nil, h.fail("Correlate", err)
	}
	return toCorrelateResponse(result), nil
}

func (h *Handler) GenerateBaselineRCA(ctx context.Context, req *IncidentRequest) (*ArtifactResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	artifact, err := h.svc.GenerateBaselineRCA(ctx, req.IncidentID)
	if err != nil {
		return nil, h.fail("GenerateBaselineRCA", err)
	}
	return &ArtifactResponse{Artifact: artifact}, nil
}

func (h *Handler) GenerateGroundedRCA(ctx context.Context, req *IncidentRequest) (*ArtifactResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	artifact, err := h.svc.GenerateGroundedRCA(ctx, req.IncidentID)
	if err != nil {
		return nil, h.fail("GenerateGroundedRCA", err)
	}
	return &ArtifactResponse{Artifact: artifact}, nil
}

func (h *Handler) GetLatestArtifact(ctx context.Context, req *LatestArtifactRequest) (*ArtifactResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	artifact, err := h.svc.GetLatestArtifact(ctx, req.IncidentID, req.Reasoner, req.Status)
	if err != nil {
		return nil, h.fail("GetLatestArtifact", err)
	}
	return &ArtifactResponse{Artifact: artifact}, nil
}

// ReviewArtifact uses the authenticated subject as reviewer when a token was verified.
// An explicit reviewer id that differs from the subject is refused.
func (h *Handler) ReviewArtifact(ctx context.Context, req *ReviewRequest) (*ReviewResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	reviewer := req.ReviewerID
	if subject, ok := ReviewerFromContext(ctx); ok {
		if reviewer != "" && reviewer != subject {
			return nil, status.Errorf(codes.PermissionDenied, "token subject %s cannot review as %s", subject, reviewer)
		}
		reviewer = subject
	}
	entry, err := h.svc.ReviewArtifact(ctx, review.Request{
		ArtifactID: req.ArtifactID,
		Decision:   req.Decision,
		ReviewerID: reviewer,
		Note:       req.Note,
	})
	if err != nil {
		return nil, h.fail("ReviewArtifact", err)
	}
	return &ReviewResponse{Entry: entry}, nil
}

func (h *Handler) QueryAudit(ctx context.Context, req *AuditRequest) (*AuditResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	entries, err := h.svc.QueryAudit(ctx, review.Query{
		IncidentID: req.IncidentID,
		ArtifactID: req.ArtifactID,
		Decision:   req.Decision,
		ReviewerID: req.ReviewerID,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, h.fail("QueryAudit", err)
	}
	return &AuditResponse{Entries: entries}, nil
}

func (h *Handler) ListIncidents(ctx context.Context, req *ListIncidentsRequest) (*ListIncidentsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	incidents, err := h.svc.ListIncidents(ctx, services.IncidentFilter{Status: req.Status, Tag: req.Tag, Limit: req.Limit})
	if err != nil {
		return nil, h.fail("ListIncidents", err)
	}
	return &ListIncidentsResponse{Incidents: incidents}, nil
}

func (h *Handler) ListArtifacts(ctx context.Context, req *IncidentRequest) (*ListArtifactsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	artifacts, err := h.svc.ListArtifacts(ctx, req.IncidentID)
	if err != nil {
		return nil, h.fail("ListArtifacts", err)
	}
	if artifacts == nil {
		artifacts = []models.Artifact{}
	}
	return &ListArtifactsResponse{Artifacts: artifacts}, nil
}

func (h *Handler) Overview(ctx context.Context, _ *OverviewRequest) (*OverviewResponse, error) {
	overview, err := h.svc.Overview(ctx)
	if err != nil {
		return nil, h.fail("Overview", err)
	}
	return &OverviewResponse{Overview: overview}, nil
}
