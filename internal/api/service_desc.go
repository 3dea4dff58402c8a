package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "teleops.rca.v1.RCAEngine"

// RCAEngineServer is the server API for the RCAEngine service. The gRPC client
// implements the same interface, so callers can switch between in-process and remote
// use.
type RCAEngineServer interface {
	Correlate(context.Context, *CorrelateRequest) (*CorrelateResponse, error)
	GenerateBaselineRCA(context.Context, *IncidentRequest) (*ArtifactResponse, error)
	GenerateGroundedRCA(context.Context, *IncidentRequest) (*ArtifactResponse, error)
	GetLatestArtifact(context.Context, *LatestArtifactRequest) (*ArtifactResponse, error)
	ReviewArtifact(context.Context, *ReviewRequest) (*ReviewResponse, error)
	QueryAudit(context.Context, *AuditRequest) (*AuditResponse, error)
	ListIncidents(context.Context, *ListIncidentsRequest) (*ListIncidentsResponse, error)
	ListArtifacts(context.Context, *IncidentRequest) (*ListArtifactsResponse, error)
	Overview(context.Context, *OverviewRequest) (*OverviewResponse, error)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unaryMethod[Req, Resp any](name string, call func(RCAEngineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RCAEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RCAEngineServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RCAEngineServiceDesc describes the RCAEngine service for grpc.Server registration.
var RCAEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RCAEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Correlate", RCAEngineServer.Correlate),
		unaryMethod("GenerateBaselineRCA", RCAEngineServer.GenerateBaselineRCA),
		unaryMethod("GenerateGroundedRCA", RCAEngineServer.GenerateGroundedRCA),
		unaryMethod("GetLatestArtifact", RCAEngineServer.GetLatestArtifact),
		unaryMethod("ReviewArtifact", RCAEngineServer.ReviewArtifact),
		unaryMethod("QueryAudit", RCAEngineServer.QueryAudit),
		unaryMethod("ListIncidents", RCAEngineServer.ListIncidents),
		unaryMethod("ListArtifacts", RCAEngineServer.ListArtifacts),
		unaryMethod("Overview", RCAEngineServer.Overview),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "teleops/rca/v1/rca.json",
}

// RegisterRCAEngineServer registers srv on s.
func RegisterRCAEngineServer(s grpc.ServiceRegistrar, srv RCAEngineServer) {
	s.RegisterService(&RCAEngineServiceDesc, srv)
}

// Client calls a remote RCAEngine over the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

var _ RCAEngineServer = (*Client)(nil)

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Correlate(ctx context.Context, in *CorrelateRequest) (*CorrelateResponse, error) {
	return invoke[CorrelateResponse](ctx, c.cc, "Correlate", in)
}

func (c *Client) GenerateBaselineRCA(ctx context.Context, in *IncidentRequest) (*ArtifactResponse, error) {
	return invoke[ArtifactResponse](ctx, c.cc, "GenerateBaselineRCA", in)
}

func (c *Client) GenerateGroundedRCA(ctx context.Context, in *IncidentRequest) (*ArtifactResponse, error) {
	return invoke[ArtifactResponse](ctx, c.cc, "GenerateGroundedRCA", in)
}

func (c *Client) GetLatestArtifact(ctx context.Context, in *LatestArtifactRequest) (*ArtifactResponse, error) {
	return invoke[ArtifactResponse](ctx, c.cc, "GetLatestArtifact", in)
}

func (c *Client) ReviewArtifact(ctx context.Context, in *ReviewRequest) (*ReviewResponse, error) {
	return invoke[ReviewResponse](ctx, c.cc, "ReviewArtifact", in)
}

func (c *Client) QueryAudit(ctx context.Context, in *AuditRequest) (*AuditResponse, error) {
	return invoke[AuditResponse](ctx, c.cc, "QueryAudit", in)
}

func (c *Client) ListIncidents(ctx context.Context, in *ListIncidentsRequest) (*ListIncidentsResponse, error) {
	return invoke[ListIncidentsResponse](ctx, c.cc, "ListIncidents", in)
}

func (c *Client) ListArtifacts(ctx context.Context, in *IncidentRequest) (*ListArtifactsResponse, error) {
	return invoke[ListArtifactsResponse](ctx, c.cc, "ListArtifacts", in)
}

func (c *Client) Overview(ctx context.Context, in *OverviewRequest) (*OverviewResponse, error) {
	return invoke[OverviewResponse](ctx, c.cc, "Overview", in)
}
