package app

import (
	"context"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/waternet/internal/services/api"
)

// EngineClient is the part of api.Client the gateway calls.
type EngineClient interface {
	ListSources(ctx context.Context, in *api.ListSourcesRequest, opts ...grpc.CallOption) (*api.ListSourcesResponse, error)
	GetSensor(ctx context.Context, in *api.GetSensorRequest, opts ...grpc.CallOption) (*api.GetSensorResponse, error)
	ListSchedules(ctx context.Context, in *api.ListSchedulesRequest, opts ...grpc.CallOption) (*api.ListSchedulesResponse, error)
	RequestSchedule(ctx context.Context, in *api.RequestScheduleRequest, opts ...grpc.CallOption) (*api.RequestScheduleResponse, error)
	RemoveSchedule(ctx context.Context, in *api.RemoveScheduleRequest, opts ...grpc.CallOption) (*api.RemoveScheduleResponse, error)
	RegisterSource(ctx context.Context, in *api.RegisterSourceRequest, opts ...grpc.CallOption) (*api.RegisterSourceResponse, error)
}

// Upstream runs every engine call through the breaker.
type Upstream struct {
	client  EngineClient
	breaker *gobreaker.CircuitBreaker
}

func NewUpstream(client EngineClient, breaker *gobreaker.CircuitBreaker) *Upstream {
	return &Upstream{client: client, breaker: breaker}
}

func call[Resp any](u *Upstream, fn func() (*Resp, error)) (*Resp, error) {
	res, err := u.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return res.(*Resp), nil
}

func (u *Upstream) ListSources(ctx context.Context) (*api.ListSourcesResponse, error) {
	return call(u, func() (*api.ListSourcesResponse, error) {
		return u.client.ListSources(ctx, &api.ListSourcesRequest{})
	})
}

func (u *Upstream) GetSensor(ctx context.Context, in *api.GetSensorRequest) (*api.GetSensorResponse, error) {
	return call(u, func() (*api.GetSensorResponse, error) { return u.client.GetSensor(ctx, in) })
}

func (u *Upstream) ListSchedules(ctx context.Context, in *api.ListSchedulesRequest) (*api.ListSchedulesResponse, error) {
	return call(u, func() (*api.ListSchedulesResponse, error) { return u.client.ListSchedules(ctx, in) })
}

func (u *Upstream) RequestSchedule(ctx context.Context, in *api.RequestScheduleRequest) (*api.RequestScheduleResponse, error) {
	return call(u, func() (*api.RequestScheduleResponse, error) { return u.client.RequestSchedule(ctx, in) })
}

func (u *Upstream) RemoveSchedule(ctx context.Context, in *api.RemoveScheduleRequest) (*api.RemoveScheduleResponse, error) {
	return call(u, func() (*api.RemoveScheduleResponse, error) { return u.client.RemoveSchedule(ctx, in) })
}

func (u *Upstream) RegisterSource(ctx context.Context, in *api.RegisterSourceRequest) (*api.RegisterSourceResponse, error) {
	return call(u, func() (*api.RegisterSourceResponse, error) { return u.client.RegisterSource(ctx, in) })
}
