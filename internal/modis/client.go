package modis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/properties"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL = "https://e4ftl01.cr.usgs.gov"
	// DefaultLoginHost is the Earthdata login host granules redirect to.
	DefaultLoginHost = "urs.earthdata.nasa.gov"

	Platform = "MOLA"
	Product  = "MYD13Q1.006"
	// Tile covering the Peruvian coast.
	Tile = "h10v10"

	userAgent = "satlomas-modis"
)

type Client struct {
	BaseURL string
	// LoginHost is the only host besides the archive that receives the
	// credentials on a redirect.
	LoginHost   string
	Username    string
	Password    string
	HTTPClient  *http.Client
	Concurrency int
}

// NewClient builds a client authenticated with the Earthdata credentials
// from the environment.
func NewClient() (*Client, error) {
	username, password := properties.EarthdataUsername(), properties.EarthdataPassword()
	if username == "" || password == "" {
		return nil, fmt.Errorf("missing required environment variables: EARTHDATA_USERNAME or EARTHDATA_PASSWORD")
	}
	return newClient(DefaultBaseURL, username, password), nil
}

func newClient(baseURL, username, password string) *Client {
	c := &Client{BaseURL: baseURL, LoginHost: DefaultLoginHost, Username: username, Password: password, Concurrency: 4}
	jar, _ := cookiejar.New(nil)
	c.HTTPClient = &http.Client{
		Jar:           jar,
		Timeout:       30 * time.Minute,
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// checkRedirect carries the credentials of an authenticated request through
// the Earthdata login bounce. Any other hop goes without them.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if via[0].Header.Get("Authorization") == "" || !c.trustedHost(req.URL) {
		req.Header.Del("Authorization")
		return nil
	}
	req.SetBasicAuth(c.Username, c.Password)
	return nil
}

func (c *Client) trustedHost(u *url.URL) bool {
	if c.LoginHost != "" && strings.EqualFold(u.Hostname(), c.LoginHost) {
		return true
	}
	base, err := url.Parse(c.BaseURL)
	return err == nil && strings.EqualFold(u.Host, base.Host)
}

type FileQuery struct {
	Platform string
	Product  string
	Tile     string
	Year     int
	DOYStart int
	// DOYEnd is exclusive, -1 covers the rest of the year.
	DOYEnd int
	OutDir string
	// Skip drops the dates whose granule is already in OutDir.
	Skip   bool
	GetXML bool
}

func (c *Client) get(ctx context.Context, rawURL string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if auth {
		req.SetBasicAuth(c.Username, c.Password)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("can't start download of %s: status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

// presentGranules returns the YYYYDOY keys of the product granules already
// in dir.
func presentGranules(dir, product string) map[string]bool {
	prefix := strings.Split(product, ".")[0]
	matches, _ := filepath.Glob(filepath.Join(dir, prefix+"*hdf"))
	keys := make(map[string]bool, len(matches))
	for _, m := range matches {
		if key, ok := granuleKey(filepath.Base(m)); ok {
			keys[key] = true
		}
	}
	return keys
}

func (c *Client) availableDates(ctx context.Context, productURL string, q FileQuery) ([]string, error) {
	resp, err := c.get(ctx, productURL, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	listed, err := ParseDirectoryDates(resp.Body)
	if err != nil {
		return nil, err
	}

	var present map[string]bool
	if q.Skip {
		present = presentGranules(q.OutDir, q.Product)
	}
	wanted := make(map[string]bool)
	for _, d := range DatesForRange(q.Year, q.DOYStart, q.DOYEnd) {
		wanted[d] = true
	}
	var dates []string
	for _, d := range listed {
		if !wanted[d] {
			continue
		}
		if key, ok := archiveDateKey(d); ok && present[key] {
			continue
		}
		dates = append(dates, d)
	}
	slices.Sort(dates)
	return slices.Compact(dates), nil
}

// GetFiles downloads the tile granules of the latest available date in the
// query range. It returns the local paths of every granule of that date,
// including those already present.
func (c *Client) GetFiles(ctx context.Context, q FileQuery) ([]string, error) {
	if err := os.MkdirAll(q.OutDir, 0755); err != nil {
		return nil, err
	}
	productURL := fmt.Sprintf("%s/%s/%s/", strings.TrimSuffix(c.BaseURL, "/"), q.Platform, q.Product)
	dates, err := c.availableDates(ctx, productURL, q)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: %s %d days %d-%d", ErrNoDates, q.Product, q.Year, q.DOYStart, q.DOYEnd)
	}
	date := dates[len(dates)-1]
	dateURL := productURL + date + "/"

	resp, err := c.get(ctx, dateURL, false)
	if err != nil {
		return nil, err
	}
	names, err := ParseTileFiles(resp.Body, q.Tile, q.GetXML)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	var paths []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for _, name := range names {
		path := filepath.Join(q.OutDir, name)
		paths = append(paths, path)
		if _, err := os.Stat(path); err == nil {
			logrus.Infof("File %s already present. Skipping", name)
			continue
		}
		g.Go(func() error {
			return c.download(gctx, dateURL+name, path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logrus.Infof("finished downloading %d MODIS files for %s", len(paths), date)
	return paths, nil
}

func (c *Client) download(ctx context.Context, rawURL, path string) error {
	resp, err := c.get(ctx, rawURL, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	logrus.Infof("Starting download on %s (%d bytes)", path, resp.ContentLength)

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DownloadVIImages fetches the vegetation index granules between from and
// to, one request per calendar year, and returns the sorted local paths.
func (c *Client) DownloadVIImages(ctx context.Context, outDir string, from, to time.Time) ([]string, error) {
	var all []string
	for _, interval := range SplitDateInterval(from, to) {
		logrus.Infof("Download MODIS hdf files %s - %s", interval.From.Format(time.DateOnly), interval.To.Format(time.DateOnly))
		files, err := c.GetFiles(ctx, FileQuery{
			Platform: Platform,
			Product:  Product,
			Tile:     Tile,
			Year:     interval.To.Year(),
			DOYStart: interval.From.YearDay(),
			DOYEnd:   interval.To.YearDay(),
			OutDir:   outDir,
		})
		if errors.Is(err, ErrNoDates) {
			logrus.Warn(err)
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
	}
	if len(all) == 0 {
		return nil, ErrNoDates
	}
	slices.Sort(all)
	return all, nil
}
