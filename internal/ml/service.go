// Package ml exposes forecasting models over gRPC.
//
// The Forecaster service exchanges google.protobuf.Struct messages so that
// model servers in any language and Go clients need no shared generated code:
//
//	Predict  {window: [[f, ...], ...]} -> {value: f}
//	Describe {}                        -> {steps: n, features: n, test_mae: f}
package ml

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "satlomas.forecaster.v1.Forecaster"
	predictMethod  = "/" + serviceName + "/Predict"
	describeMethod = "/" + serviceName + "/Describe"
)

type ForecasterServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Describe(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ForecasterServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ForecasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "satlomas/forecaster/v1/forecaster.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForecasterServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForecasterServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForecasterServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForecasterServer).Describe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func windowToStruct(window [][]float64) (*structpb.Struct, error) {
	steps := make([]any, len(window))
	for i, step := range window {
		values := make([]any, len(step))
		for j, v := range step {
			values[j] = v
		}
		steps[i] = values
	}
	return structpb.NewStruct(map[string]any{"window": steps})
}

func windowFromStruct(in *structpb.Struct) ([][]float64, error) {
	field, ok := in.GetFields()["window"]
	if !ok {
		return nil, fmt.Errorf("request has no window")
	}
	steps := field.GetListValue().GetValues()
	if len(steps) == 0 {
		return nil, fmt.Errorf("window must be a non-empty list of lists")
	}
	window := make([][]float64, len(steps))
	for i, step := range steps {
		list := step.GetListValue()
		if list == nil {
			return nil, fmt.Errorf("window step %d is not a list", i)
		}
		window[i] = make([]float64, len(list.GetValues()))
		for j, v := range list.GetValues() {
			if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, fmt.Errorf("window value [%d][%d] is not a number", i, j)
			}
			window[i][j] = v.GetNumberValue()
		}
	}
	return window, nil
}

func numberField(in *structpb.Struct, name string) (float64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("response has no %s", name)
	}
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return 0, fmt.Errorf("response field %s is not a number", name)
	}
	return v.GetNumberValue(), nil
}
