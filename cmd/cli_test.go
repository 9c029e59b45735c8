package main

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/dymaxionlabs/satlomas/internal/ml"
	"github.com/dymaxionlabs/satlomas/internal/model"
	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseFloats(t *testing.T) {
	values, err := parseFloats(" 1.5, 2,,-3 ")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2, -3}, values)

	_, err = parseFloats("1,abc")
	assert.ErrorContains(t, err, `"abc"`)
}

func TestParseRanges(t *testing.T) {
	ranges, err := parseRanges("0,3000,10,20")
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{0, 3000}, {10, 20}}, ranges)

	_, err = parseRanges("1,2,3")
	assert.Error(t, err)
	_, err = parseRanges("")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "satlomas "+version)
}

func TestDeleteIncompleteCommand(t *testing.T) {
	dir := t.TempDir()
	incomplete := filepath.Join(dir, "S2A_MSIL2A_20200101.SAFE")
	require.NoError(t, os.MkdirAll(filepath.Join(incomplete, "GRANULE"), 0755))
	other := filepath.Join(dir, "notes")
	require.NoError(t, os.MkdirAll(other, 0755))

	out, err := execute(t, "delete-incomplete-l2a", dir)
	require.NoError(t, err)
	assert.Contains(t, out, incomplete)
	assert.NoDirExists(t, incomplete)
	assert.DirExists(t, other)
}

func TestDateFlagsAreValidated(t *testing.T) {
	_, err := execute(t, "modis", "--from", "2020-02-01", "--to", "2020-01-01")
	assert.ErrorContains(t, err, "is before")

	_, err = execute(t, "fetch-weather", "--from", "2020/01/01", "--to", "2020-01-02")
	assert.ErrorContains(t, err, "expected YYYY-MM-DD")
}

func TestFetchWeatherRequiresLocation(t *testing.T) {
	_, err := execute(t, "fetch-weather", "--from", "2020-01-01", "--to", "2020-01-02")
	assert.ErrorContains(t, err, "--aoi or --lat")
}

func TestPackageRemoteCommand(t *testing.T) {
	served := &model.Package{
		Kind:     model.KindLinear,
		Linear:   &model.Linear{Steps: 2, Features: 1, Weights: []float64{1, 1}},
		Scaler:   &timeseries.MinMaxScaler{Columns: []string{"temp"}, Min: []float64{0}, Max: []float64{10}},
		Steps:    2,
		Features: 1,
		TestMAE:  0.5,
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := ml.NewServer(served)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dir := t.TempDir()
	scalerPath := filepath.Join(dir, "scaler.json")
	raw, err := json.Marshal(served.Scaler)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(scalerPath, raw, 0644))
	pkgPath := filepath.Join(dir, "remote.json")

	addr := lis.Addr().String()
	_, err = execute(t, "package-remote", addr, "--scaler", scalerPath, "--out", pkgPath)
	require.NoError(t, err)

	pkg, err := model.LoadPackage(pkgPath)
	require.NoError(t, err)
	assert.Equal(t, model.KindRemote, pkg.Kind)
	assert.Equal(t, addr, pkg.Remote)
	assert.Equal(t, 0.5, pkg.TestMAE)

	out, err := execute(t, "predict", pkgPath, "--datapoint", "1,2", "--steps", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "t+1\t3.0000")
}
