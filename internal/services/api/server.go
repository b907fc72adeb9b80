package api

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/registry"
	"github.com/LeonardoBeccarini/waternet/internal/schedule"
)

const ServiceName = "waternet.v1.Engine"

// Codec carries the request and response structs as JSON on the gRPC wire.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

type EngineServer interface {
	ListSources(context.Context, *ListSourcesRequest) (*ListSourcesResponse, error)
	GetSensor(context.Context, *GetSensorRequest) (*GetSensorResponse, error)
	ListSchedules(context.Context, *ListSchedulesRequest) (*ListSchedulesResponse, error)
	RequestSchedule(context.Context, *RequestScheduleRequest) (*RequestScheduleResponse, error)
	RemoveSchedule(context.Context, *RemoveScheduleRequest) (*RemoveScheduleResponse, error)
	RegisterSource(context.Context, *RegisterSourceRequest) (*RegisterSourceResponse, error)
}

func unary[Req, Resp any](method string, call func(EngineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(EngineServer), ctx, req.(*Req))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListSources", EngineServer.ListSources),
		unary("GetSensor", EngineServer.GetSensor),
		unary("ListSchedules", EngineServer.ListSchedules),
		unary("RequestSchedule", EngineServer.RequestSchedule),
		unary("RemoveSchedule", EngineServer.RemoveSchedule),
		unary("RegisterSource", EngineServer.RegisterSource),
	},
	Streams: []grpc.StreamDesc{},
}

// NewGRPCServer returns a server with the engine registered on it.
func NewGRPCServer(e *Engine, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(Codec{})}, opts...)...)
	s.RegisterService(&ServiceDesc, &Server{engine: e})
	return s
}

// Server adapts Engine to EngineServer.
type Server struct {
	engine *Engine
}

var _ EngineServer = (*Server)(nil)

func (s *Server) ListSources(ctx context.Context, _ *ListSourcesRequest) (*ListSourcesResponse, error) {
	return &ListSourcesResponse{Sources: s.engine.ListSources(ctx)}, nil
}

func (s *Server) GetSensor(ctx context.Context, in *GetSensorRequest) (*GetSensorResponse, error) {
	if in.Source == "" || in.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "source and name are required")
	}
	kind := entities.Kind(in.Kind)
	if kind != "" && !kind.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown sensor kind %q", in.Kind)
	}
	sensor, err := s.engine.GetSensor(ctx, in.Source, kind, in.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return sensorResponse(sensor), nil
}

func (s *Server) ListSchedules(ctx context.Context, in *ListSchedulesRequest) (*ListSchedulesResponse, error) {
	return &ListSchedulesResponse{Entries: s.engine.ListSchedules(ctx, in.Source)}, nil
}

func (s *Server) RequestSchedule(ctx context.Context, in *RequestScheduleRequest) (*RequestScheduleResponse, error) {
	entries, err := s.engine.RequestSchedule(ctx, in.Source, in.StartTime, in.Volumes)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &RequestScheduleResponse{Entries: entries}
	if len(entries) > 0 {
		out.PlanID = entries[0].PlanID
	}
	return out, nil
}

func (s *Server) RemoveSchedule(ctx context.Context, in *RemoveScheduleRequest) (*RemoveScheduleResponse, error) {
	n, err := s.engine.RemoveSchedule(ctx, in.Source)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RemoveScheduleResponse{Removed: n}, nil
}

func (s *Server) RegisterSource(ctx context.Context, in *RegisterSourceRequest) (*RegisterSourceResponse, error) {
	src, created, err := s.engine.RegisterSource(ctx, in.Name, in.FlowSensors, in.PressureSensors, in.Valves)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegisterSourceResponse{Source: src, Created: created}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, schedule.ErrValidation), errors.Is(err, registry.ErrInvalidName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
