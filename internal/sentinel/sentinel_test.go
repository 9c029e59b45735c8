package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dymaxionlabs/satlomas/internal/cache"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aoiCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"plot_id": "1"},
     "geometry": {"type": "Polygon", "coordinates": [[[-77,-12],[-76,-12],[-76,-11],[-77,-11],[-77,-12]]]}},
    {"type": "Feature", "properties": {"plot_id": "2"},
     "geometry": {"type": "Polygon", "coordinates": [[[-75,-12],[-74,-12],[-74,-11],[-75,-11],[-75,-12]]]}}
  ]
}`

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAOI(t *testing.T) {
	dir := t.TempDir()

	geom, err := LoadAOI(writeFile(t, filepath.Join(dir, "fc.geojson"), aoiCollection))
	require.NoError(t, err)
	mp, ok := geom.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)

	geom, err = LoadAOI(writeFile(t, filepath.Join(dir, "geom.geojson"), `{"type":"Point","coordinates":[-77,-12]}`))
	require.NoError(t, err)
	assert.Equal(t, "POINT(-77 -12)", ToWKT(geom))

	_, err = LoadAOI(writeFile(t, filepath.Join(dir, "empty.geojson"), `{"type":"FeatureCollection","features":[]}`))
	assert.Error(t, err)
}

func TestFeatureGeometryAndCentroid(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "plots.geojson"), aoiCollection)

	geom, err := FeatureGeometry(path, "plot_id", "2")
	require.NoError(t, err)
	lat, lon, err := Centroid(geom)
	require.NoError(t, err)
	assert.InDelta(t, -11.5, lat, 1e-9)
	assert.InDelta(t, -74.5, lon, 1e-9)

	_, err = FeatureGeometry(path, "plot_id", "3")
	assert.ErrorContains(t, err, "geometry not found")
}

func TestCatalogSearchFollowsNextLink(t *testing.T) {
	var calls int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"Id":"b","Name":"S1A_IW_GRDH_1SDV_20181102T104301_X.SAFE","ContentLength":2,"ContentDate":{"Start":"2018-11-02T10:43:01Z"}}]}`)
			return
		}
		filter := r.URL.Query().Get("$filter")
		assert.Contains(t, filter, "Collection/Name eq 'SENTINEL-1'")
		assert.Contains(t, filter, "att/Name eq 'orbitDirection' and att/OData.CSC.StringAttribute/Value eq 'ASCENDING'")
		assert.Contains(t, filter, "OData.CSC.Intersects(area=geography'SRID=4326;POLYGON(")
		assert.Contains(t, filter, "ContentDate/Start ge 2018-11-01T00:00:00.000Z")
		fmt.Fprintf(w, `{"value":[{"Id":"a","Name":"S1A_IW_GRDH_1SDV_20181101T104301_X.SAFE","ContentLength":1,"ContentDate":{"Start":"2018-11-01T10:43:01Z"}}],"@odata.nextLink":"%s?page=2"}`, srv.URL)
	}))
	defer srv.Close()

	catalog := &Catalog{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Cache:      cache.NewFileCacheAt[[]Product](t.TempDir(), time.Hour),
	}
	q := Query{
		Collection:     "SENTINEL-1",
		AOI:            orb.Polygon{{{-77, -12}, {-76, -12}, {-76, -11}, {-77, -12}}},
		From:           time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC),
		To:             time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		ProductType:    "GRD",
		OrbitDirection: "ASCENDING",
	}

	products, err := catalog.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "S1A_IW_GRDH_1SDV_20181101T104301_X", products[0].Name)
	assert.Equal(t, int64(2), products[1].Size)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	// second search is served from the cache
	_, err = catalog.Search(context.Background(), q)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCatalogSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad filter", http.StatusBadRequest)
	}))
	defer srv.Close()

	catalog := &Catalog{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := catalog.Search(context.Background(), Query{Collection: "SENTINEL-2"})
	assert.ErrorContains(t, err, "400")
}

func TestProductListRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteProductList(&buf, []Product{{Name: "p1", ID: "a"}, {Name: "p2", ID: "b"}}))
	assert.True(t, strings.HasPrefix(buf.String(), "name,id,"))

	names, err := ReadProductList(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, names)

	names, err = ReadProductList(strings.NewReader("p3\np4,extra\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p4"}, names)
}

func TestProductPrefixes(t *testing.T) {
	prefix, err := S1ProductPrefix("S1A_IW_GRDH_1SDV_20181101T104301_20181101T104326_024386_02AB7B_9A5C")
	require.NoError(t, err)
	assert.Equal(t, "GRD/2018/11/1/IW/", prefix)

	prefix, err = S2ProductPrefix("S2A_MSIL1C_20190105T152631_N0207_R025_T18LTM_20190105T184939")
	require.NoError(t, err)
	assert.Equal(t, "products/2019/1/5/S2A_MSIL1C_20190105T152631_N0207_R025_T18LTM_20190105T184939/", prefix)

	_, err = S1ProductPrefix("S1A_IW")
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string]string
	gets    int32
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if in.RequestPayer != types.RequestPayerRequester {
		return nil, fmt.Errorf("missing request payer")
	}
	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				p := prefix + rest[:i+1]
				if !seen[p] {
					seen[p] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(p)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	atomic.AddInt32(&f.gets, 1)
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, fmt.Errorf("no such key %s", aws.ToString(in.Key))
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestDownloadS1(t *testing.T) {
	id := "S1A_IW_GRDH_1SDV_20181101T104301_20181101T104326_024386_02AB7B_9A5C"
	fake := &fakeS3{objects: map[string]string{
		"GRD/2018/11/1/IW/DV/OTHER/manifest.safe":          "other",
		"GRD/2018/11/1/IW/DV/" + id + "/manifest.safe":     "manifest",
		"GRD/2018/11/1/IW/DV/" + id + "/measurement/vv.tif": "vv",
	}}
	d := &Downloader{Client: fake, Workers: 2}
	out := t.TempDir()

	require.NoError(t, d.DownloadS1(context.Background(), id, out))
	data, err := os.ReadFile(filepath.Join(out, id, "measurement", "vv.tif"))
	require.NoError(t, err)
	assert.Equal(t, "vv", string(data))
	assert.FileExists(t, filepath.Join(out, id, "manifest.safe"))
	assert.EqualValues(t, 2, fake.gets)

	// present products are skipped
	require.NoError(t, d.DownloadS1(context.Background(), id, out))
	assert.EqualValues(t, 2, fake.gets)
}

func TestDownloadS2(t *testing.T) {
	id := "S2A_MSIL1C_20190105T152631_N0207_R025_T18LTM_20190105T184939"
	fake := &fakeS3{objects: map[string]string{
		"products/2019/1/5/" + id + "/metadata.xml": "<xml/>",
	}}
	d := &Downloader{Client: fake}
	out := t.TempDir()

	require.NoError(t, d.DownloadS2(context.Background(), id, out))
	assert.FileExists(t, filepath.Join(out, id, "metadata.xml"))

	err := d.DownloadS2(context.Background(), "S2B_MSIL1C_20190106T152631_N0207_R025_T18LTM_20190106T184939", out)
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"token","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRequestImageRetriesAndFallsBack(t *testing.T) {
	tokens := tokenServer(t)
	var attempts int32
	process := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		output := payload["output"].(map[string]any)
		assert.EqualValues(t, 2500, output["width"])
		assert.EqualValues(t, 1387, output["height"])
		switch n {
		case 1:
			http.Error(w, `{"error":{"status":403}}`, http.StatusForbidden)
		case 2:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		default:
			w.Write([]byte("TIFF"))
		}
	}))
	defer process.Close()

	client := &ProcessClient{
		URL:         process.URL,
		TokenURL:    tokens.URL,
		Credentials: []Credential{{ClientID: "id1", ClientSecret: "s1"}, {ClientID: "id2", ClientSecret: "s2"}},
		Retries:     3,
	}
	geom := orb.Polygon{{{-77, -12}, {-76, -12}, {-76, -11.875}, {-77, -12}}}
	content, err := client.RequestImage(context.Background(), time.Now().AddDate(0, 0, -7), time.Now(), geom, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "TIFF", string(content))
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestRequestImageGivesUp(t *testing.T) {
	tokens := tokenServer(t)
	process := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer process.Close()

	client := &ProcessClient{URL: process.URL, TokenURL: tokens.URL, Credentials: []Credential{{ClientID: "id", ClientSecret: "s"}}, Retries: 2}
	_, err := client.RequestImage(context.Background(), time.Now(), time.Now(), orb.Point{-77, -12}, RequestOptions{})
	assert.ErrorContains(t, err, "after 2 attempts")
}

func makeL2A(t *testing.T, dir string, counts map[string]int) string {
	t.Helper()
	for res, n := range counts {
		for i := 0; i < n; i++ {
			writeFile(t, filepath.Join(dir, "GRANULE", "L2A_T18LTM", "IMG_DATA", res, fmt.Sprintf("B%02d.jp2", i)), "")
		}
	}
	return dir
}

func TestDeleteIncompleteL2A(t *testing.T) {
	base := t.TempDir()
	complete := makeL2A(t, filepath.Join(base, "A.SAFE"), map[string]int{"R10m": 7, "R20m": 13, "R60m": 15})
	incomplete := makeL2A(t, filepath.Join(base, "B.SAFE"), map[string]int{"R10m": 7, "R20m": 12, "R60m": 15})

	assert.True(t, IsCompleteL2A(complete))
	assert.False(t, IsCompleteL2A(incomplete))

	deleted, err := DeleteIncompleteL2A(base)
	require.NoError(t, err)
	assert.Equal(t, []string{incomplete}, deleted)
	assert.DirExists(t, complete)
	assert.NoDirExists(t, incomplete)
}

func writeRaster(t *testing.T, path string, values []float64) {
	t.Helper()
	godal.RegisterAll()
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, 2, 2)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform([6]float64{-77, 0.5, 0, -11, 0, -0.5}))
	require.NoError(t, ds.Bands()[0].Write(0, 0, values, 2, 2))
	require.NoError(t, ds.Close())
}

func TestInspectImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.tif")
	writeRaster(t, path, []float64{0, 1, 2, 3})

	info, err := InspectImage(path)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Width)
	assert.Equal(t, 0.75, info.ValidFraction)

	lon, lat := PixelToLonLat(info.GeoTransform, 1, 1)
	assert.Equal(t, -76.25, lon)
	assert.Equal(t, -11.75, lat)
	col, row := LonLatToPixel(info.GeoTransform, lon, lat)
	assert.Equal(t, 1, col)
	assert.Equal(t, 1, row)

	empty := filepath.Join(dir, "empty.tif")
	writeRaster(t, empty, []float64{0, 0, 0, 0})
	_, err = InspectImage(empty)
	assert.ErrorIs(t, err, ErrImageNotFound)
}
