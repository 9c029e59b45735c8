package ml

import (
	"context"
	"fmt"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/model"
	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(10*1024*1024),
			grpc.MaxCallSendMsgSize(10*1024*1024),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server: %w", err)
	}
	return conn, nil
}

type Description struct {
	Steps    int
	Features int
	TestMAE  float64
}

func Describe(ctx context.Context, conn grpc.ClientConnInterface) (Description, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, describeMethod, &structpb.Struct{}, out); err != nil {
		return Description{}, fmt.Errorf("error calling Describe: %w", err)
	}
	steps, err := numberField(out, "steps")
	if err != nil {
		return Description{}, err
	}
	features, err := numberField(out, "features")
	if err != nil {
		return Description{}, err
	}
	mae, err := numberField(out, "test_mae")
	if err != nil {
		return Description{}, err
	}
	return Description{Steps: int(steps), Features: int(features), TestMAE: mae}, nil
}

// RemotePackage describes the service at addr as a remote package. The input
// shape and test error come from the service; scaler must be the one its
// model was trained with.
func RemotePackage(ctx context.Context, conn grpc.ClientConnInterface, addr string, scaler *timeseries.MinMaxScaler, targetColumn int) (*model.Package, error) {
	desc, err := Describe(ctx, conn)
	if err != nil {
		return nil, err
	}
	pkg := &model.Package{
		Kind:         model.KindRemote,
		Remote:       addr,
		Scaler:       scaler,
		TargetColumn: targetColumn,
		Steps:        desc.Steps,
		Features:     desc.Features,
		TestMAE:      desc.TestMAE,
		CreatedAt:    time.Now().UTC(),
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// RemotePredictor forwards predictions to a Forecaster service.
type RemotePredictor struct {
	conn     grpc.ClientConnInterface
	steps    int
	features int
}

// NewRemotePredictor asks the service for its input shape.
func NewRemotePredictor(ctx context.Context, conn grpc.ClientConnInterface) (*RemotePredictor, error) {
	desc, err := Describe(ctx, conn)
	if err != nil {
		return nil, err
	}
	return &RemotePredictor{conn: conn, steps: desc.Steps, features: desc.Features}, nil
}

func (r *RemotePredictor) InputShape() (int, int) {
	return r.steps, r.features
}

func (r *RemotePredictor) Predict(ctx context.Context, window [][]float64) (float64, error) {
	if len(window) != r.steps {
		return 0, fmt.Errorf("%w: got %d steps, want %d", model.ErrShapeMismatch, len(window), r.steps)
	}
	req, err := windowToStruct(window)
	if err != nil {
		return 0, fmt.Errorf("failed to encode window: %w", err)
	}
	out := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, predictMethod, req, out); err != nil {
		return 0, fmt.Errorf("error calling Predict: %w", err)
	}
	return numberField(out, "value")
}

// Connect attaches a RemotePredictor to remote packages. The returned close
// function is a no-op for local packages.
func Connect(ctx context.Context, pkg *model.Package) (func() error, error) {
	if pkg.Kind != model.KindRemote {
		return func() error { return nil }, nil
	}
	conn, err := Dial(pkg.Remote)
	if err != nil {
		return nil, err
	}
	predictor, err := NewRemotePredictor(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	steps, features := predictor.InputShape()
	if steps != pkg.Steps || features != pkg.Features {
		conn.Close()
		return nil, fmt.Errorf("%w: service expects (%d, %d), package declares (%d, %d)",
			model.ErrShapeMismatch, steps, features, pkg.Steps, pkg.Features)
	}
	pkg.Attach(predictor)
	return conn.Close, nil
}
