package ml

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/dymaxionlabs/satlomas/internal/model"
	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func sumPackage() *model.Package {
	return &model.Package{
		Kind:     model.KindLinear,
		Linear:   &model.Linear{Steps: 2, Features: 1, Weights: []float64{1, 1}, Bias: 0.5},
		Scaler:   &timeseries.MinMaxScaler{Columns: []string{"temp"}, Min: []float64{0}, Max: []float64{10}},
		Steps:    2,
		Features: 1,
		TestMAE:  0.25,
	}
}

func startServer(t *testing.T, pkg *model.Package) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(pkg)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDescribe(t *testing.T) {
	conn := startServer(t, sumPackage())

	desc, err := Describe(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, Description{Steps: 2, Features: 1, TestMAE: 0.25}, desc)
}

func TestRemotePredictor(t *testing.T) {
	ctx := context.Background()
	conn := startServer(t, sumPackage())

	remote, err := NewRemotePredictor(ctx, conn)
	require.NoError(t, err)
	steps, features := remote.InputShape()
	assert.Equal(t, 2, steps)
	assert.Equal(t, 1, features)

	value, err := remote.Predict(ctx, [][]float64{{0.25}, {0.5}})
	require.NoError(t, err)
	assert.Equal(t, 1.25, value)

	_, err = remote.Predict(ctx, [][]float64{{0.25}})
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestRemotePackagePrediction(t *testing.T) {
	ctx := context.Background()
	conn := startServer(t, sumPackage())
	remote, err := NewRemotePredictor(ctx, conn)
	require.NoError(t, err)

	pkg := sumPackage()
	pkg.Kind = model.KindRemote
	pkg.Linear = nil
	pkg.Attach(remote)

	predictions, mae, err := model.PredictWithModel(ctx, []float64{1, 2}, pkg, 2)
	require.NoError(t, err)
	// 0.1 + 0.2 + 0.5 scaled -> 8, then 0.2 + 0.8 + 0.5 -> 15
	require.Len(t, predictions, 2)
	assert.InDelta(t, 8, predictions[0], 1e-9)
	assert.InDelta(t, 15, predictions[1], 1e-9)
	assert.Equal(t, 0.25, mae)
}

func TestPredictRejectsMalformedWindow(t *testing.T) {
	conn := startServer(t, sumPackage())

	for name, req := range map[string]map[string]any{
		"missing": {},
		"flat":    {"window": []any{1.0, 2.0}},
		"string":  {"window": []any{[]any{"a"}, []any{1.0}}},
		"shape":   {"window": []any{[]any{1.0, 2.0}, []any{1.0, 2.0}}},
	} {
		t.Run(name, func(t *testing.T) {
			in, err := structpb.NewStruct(req)
			require.NoError(t, err)
			err = conn.Invoke(context.Background(), predictMethod, in, new(structpb.Struct))
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestConnectLocalPackageIsNoop(t *testing.T) {
	closeFn, err := Connect(context.Background(), sumPackage())
	require.NoError(t, err)
	assert.NoError(t, closeFn())
}

func TestRemotePackage(t *testing.T) {
	ctx := context.Background()
	conn := startServer(t, sumPackage())
	scaler := &timeseries.MinMaxScaler{Columns: []string{"temp"}, Min: []float64{0}, Max: []float64{10}}

	pkg, err := RemotePackage(ctx, conn, "forecaster:50051", scaler, 0)
	require.NoError(t, err)
	assert.Equal(t, model.KindRemote, pkg.Kind)
	assert.Equal(t, "forecaster:50051", pkg.Remote)
	assert.Equal(t, 2, pkg.Steps)
	assert.Equal(t, 1, pkg.Features)
	assert.Equal(t, 0.25, pkg.TestMAE)

	path := filepath.Join(t.TempDir(), "remote.json")
	require.NoError(t, model.SavePackage(path, pkg))
	loaded, err := model.LoadPackage(path)
	require.NoError(t, err)
	assert.Equal(t, model.KindRemote, loaded.Kind)
	assert.Equal(t, "forecaster:50051", loaded.Remote)

	// The loaded package predicts through the service once attached.
	remote, err := NewRemotePredictor(ctx, conn)
	require.NoError(t, err)
	loaded.Attach(remote)
	predictions, _, err := model.PredictWithModel(ctx, []float64{1, 2}, loaded, 1)
	require.NoError(t, err)
	assert.InDelta(t, 8, predictions[0], 1e-9)

	_, err = RemotePackage(ctx, conn, "forecaster:50051", scaler, 1)
	assert.ErrorContains(t, err, "target column")
}
