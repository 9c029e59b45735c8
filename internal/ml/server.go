package ml

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dymaxionlabs/satlomas/internal/model"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type packageServer struct {
	pkg *model.Package
}

// NewServer returns a gRPC server answering Forecaster calls with pkg.
func NewServer(pkg *model.Package) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(logCalls))
	s.RegisterService(&ForecasterServiceDesc, &packageServer{pkg: pkg})
	return s
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, pkg *model.Package) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s := NewServer(pkg)
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	logrus.Infof("forecaster listening on %s", lis.Addr())
	return s.Serve(lis)
}

func (s *packageServer) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	window, err := windowFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	predictor, err := s.pkg.Predictor()
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	value, err := predictor.Predict(ctx, window)
	if errors.Is(err, model.ErrShapeMismatch) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"value": value})
}

func (s *packageServer) Describe(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"steps":    s.pkg.Steps,
		"features": s.pkg.Features,
		"test_mae": s.pkg.TestMAE,
	})
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		logrus.Warnf("%s failed: %v", info.FullMethod, err)
	} else {
		logrus.Debugf("%s ok", info.FullMethod)
	}
	return resp, err
}
