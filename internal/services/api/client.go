package api

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls a remote Engine.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens a connection that speaks the engine's JSON codec.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})))
	return grpc.NewClient(target, opts...)
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSources(ctx context.Context, in *ListSourcesRequest, opts ...grpc.CallOption) (*ListSourcesResponse, error) {
	return invoke[ListSourcesRequest, ListSourcesResponse](ctx, c.cc, "ListSources", in, opts...)
}

func (c *Client) GetSensor(ctx context.Context, in *GetSensorRequest, opts ...grpc.CallOption) (*GetSensorResponse, error) {
	return invoke[GetSensorRequest, GetSensorResponse](ctx, c.cc, "GetSensor", in, opts...)
}

func (c *Client) ListSchedules(ctx context.Context, in *ListSchedulesRequest, opts ...grpc.CallOption) (*ListSchedulesResponse, error) {
	return invoke[ListSchedulesRequest, ListSchedulesResponse](ctx, c.cc, "ListSchedules", in, opts...)
}

func (c *Client) RequestSchedule(ctx context.Context, in *RequestScheduleRequest, opts ...grpc.CallOption) (*RequestScheduleResponse, error) {
	return invoke[RequestScheduleRequest, RequestScheduleResponse](ctx, c.cc, "RequestSchedule", in, opts...)
}

func (c *Client) RemoveSchedule(ctx context.Context, in *RemoveScheduleRequest, opts ...grpc.CallOption) (*RemoveScheduleResponse, error) {
	return invoke[RemoveScheduleRequest, RemoveScheduleResponse](ctx, c.cc, "RemoveSchedule", in, opts...)
}

func (c *Client) RegisterSource(ctx context.Context, in *RegisterSourceRequest, opts ...grpc.CallOption) (*RegisterSourceResponse, error) {
	return invoke[RegisterSourceRequest, RegisterSourceResponse](ctx, c.cc, "RegisterSource", in, opts...)
}
