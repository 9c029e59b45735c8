package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/properties"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrImageNotFound = errors.New("image not found")

const (
	DefaultProcessURL = "https://sh.dataspace.copernicus.eu/api/v1/process"
	maxOutputPixels   = 2500
)

// DefaultEvalscript returns the 10 m bands used by the scene preprocessing.
const DefaultEvalscript = `
    //VERSION=3
    function setup() {
      return {
        input: ["B04", "B03", "B02", "B08"],
        output: {
          id: "default",
          bands: 4,
          sampleType: SampleType.FLOAT32,
        },
      }
    }

    function evaluatePixel(sample) {
      return [sample.B04, sample.B03, sample.B02, sample.B08];
    }
  `

type Credential struct {
	ClientID     string
	ClientSecret string
}

// ProcessClient requests rendered images from the Sentinel Hub Process API.
// Each credential is tried in turn until one succeeds.
type ProcessClient struct {
	URL         string
	TokenURL    string
	Credentials []Credential
	Retries     int
	RetryWait   time.Duration
}

type RequestOptions struct {
	Evalscript string
	// DataType is the collection, sentinel-2-l2a by default.
	DataType   string
	Mosaicking string
	// Resolution in metres per pixel, 10 by default.
	Resolution float64
}

// NewProcessClient reads comma separated client ids and secrets from the
// environment.
func NewProcessClient() (*ProcessClient, error) {
	clientIDs := properties.CopernicusClientIDs()
	clientSecrets := properties.CopernicusClientSecrets()
	tokenURL := properties.CopernicusTokenURL()
	if clientIDs == "" || clientSecrets == "" || tokenURL == "" {
		return nil, fmt.Errorf("missing required environment variables: COPERNICUS_CLIENT_ID, COPERNICUS_CLIENT_SECRET, or COPERNICUS_TOKEN_URL")
	}
	ids := strings.Split(clientIDs, ",")
	secrets := strings.Split(clientSecrets, ",")
	if len(ids) != len(secrets) {
		return nil, fmt.Errorf("mismatched number of client IDs and secrets")
	}
	client := &ProcessClient{URL: DefaultProcessURL, TokenURL: tokenURL, Retries: 10, RetryWait: 5 * time.Second}
	for i := range ids {
		client.Credentials = append(client.Credentials, Credential{ClientID: ids[i], ClientSecret: secrets[i]})
	}
	return client, nil
}

func calculatePixels(distance float64, resolution float64) int {
	pixels := distance * (111_000.0 / resolution)
	if pixels < 1 {
		return 1
	}
	if pixels > maxOutputPixels {
		return maxOutputPixels
	}
	return int(pixels)
}

func (opts RequestOptions) withDefaults() RequestOptions {
	if opts.Evalscript == "" {
		opts.Evalscript = DefaultEvalscript
	}
	if opts.DataType == "" {
		opts.DataType = "sentinel-2-l2a"
	}
	if opts.Mosaicking == "" {
		opts.Mosaicking = "mostRecent"
	}
	if opts.Resolution <= 0 {
		opts.Resolution = 10
	}
	return opts
}

func buildProcessRequest(startDate, endDate time.Time, geometry orb.Geometry, opts RequestOptions) ([]byte, error) {
	bound := geometry.Bound()
	widthPixels := calculatePixels(bound.Max.X()-bound.Min.X(), opts.Resolution)
	heightPixels := calculatePixels(bound.Max.Y()-bound.Min.Y(), opts.Resolution)

	requestPayload := map[string]interface{}{
		"input": map[string]interface{}{
			"bounds": map[string]interface{}{
				"geometry": geojson.NewGeometry(geometry),
			},
			"data": []map[string]interface{}{
				{
					"dataFilter": map[string]interface{}{
						"timeRange": map[string]string{
							"from": startDate.Format(time.RFC3339),
							"to":   endDate.Format(time.RFC3339),
						},
						"mosaickingOrder": opts.Mosaicking,
					},
					"type": opts.DataType,
				},
			},
		},
		"output": map[string]interface{}{
			"width":  widthPixels,
			"height": heightPixels,
			"responses": []map[string]interface{}{
				{
					"identifier": "default",
					"format": map[string]string{
						"type": "image/tiff",
					},
				},
			},
		},
		"evalscript": opts.Evalscript,
	}

	requestBody, err := json.Marshal(requestPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	return requestBody, nil
}

// RequestImage returns the GeoTIFF bytes covering geometry between the two
// dates.
func (c *ProcessClient) RequestImage(ctx context.Context, startDate, endDate time.Time, geometry orb.Geometry, opts RequestOptions) ([]byte, error) {
	if len(c.Credentials) == 0 {
		return nil, fmt.Errorf("no Copernicus credentials configured")
	}
	requestBody, err := buildProcessRequest(startDate, endDate, geometry, opts.withDefaults())
	if err != nil {
		return nil, err
	}

	retries := max(c.Retries, 1)
	var lastErr error
	for i, cred := range c.Credentials {
		config := &clientcredentials.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			TokenURL:     c.TokenURL,
		}
		httpClient := config.Client(ctx)

		content, err := c.post(ctx, httpClient, requestBody, retries)
		if err == nil {
			if len(content) == 0 {
				return nil, ErrImageNotFound
			}
			return content, nil
		}
		logrus.Warnf("credential %d failed: %v", i+1, err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *ProcessClient) post(ctx context.Context, httpClient *http.Client, requestBody []byte, retries int) ([]byte, error) {
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(requestBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		var response *http.Response
		response, err = httpClient.Do(req)
		if err == nil && response.StatusCode == http.StatusOK {
			defer response.Body.Close()
			content, err := io.ReadAll(response.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read response body: %w", err)
			}
			return content, nil
		}

		if response != nil {
			body, _ := io.ReadAll(response.Body)
			response.Body.Close()
			bodyStr := string(body)
			if response.StatusCode == http.StatusForbidden || strings.Contains(bodyStr, "403") {
				return nil, fmt.Errorf("unauthorized access, check your client ID and secret")
			}
			err = fmt.Errorf("status %d: %s", response.StatusCode, strings.TrimSpace(bodyStr))
		}
		logrus.Debugf("attempt %d failed: %v", attempt, err)

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryWait):
			}
		}
	}
	return nil, fmt.Errorf("failed to request image after %d attempts: %w", retries, err)
}
