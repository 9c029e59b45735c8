package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/cache"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCatalogURL = "https://catalogue.dataspace.copernicus.eu/odata/v1/Products"
	catalogPageSize   = 100
	catalogCacheTTL   = 24 * time.Hour
)

// Query selects catalogue products. Zero fields are not filtered on.
type Query struct {
	Collection     string
	AOI            orb.Geometry
	From           time.Time
	To             time.Time
	ProductType    string
	Polarisation   string
	OrbitDirection string
	MaxCloudCover  float64
	HasCloudFilter bool
}

type Product struct {
	Name      string    `csv:"name" json:"name"`
	ID        string    `csv:"id" json:"id"`
	Start     time.Time `csv:"start" json:"start"`
	Size      int64     `csv:"size" json:"size"`
	Footprint string    `csv:"-" json:"footprint"`
}

type Catalog struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      cache.CacheService[[]Product]
}

func NewCatalog() *Catalog {
	return &Catalog{
		BaseURL:    DefaultCatalogURL,
		HTTPClient: &http.Client{Timeout: time.Minute},
		Cache:      cache.NewFileCache[[]Product]("catalog", catalogCacheTTL),
	}
}

func (q Query) filter() string {
	clauses := []string{fmt.Sprintf("Collection/Name eq '%s'", q.Collection)}
	if q.AOI != nil {
		clauses = append(clauses, fmt.Sprintf("OData.CSC.Intersects(area=geography'SRID=4326;%s')", ToWKT(q.AOI)))
	}
	if !q.From.IsZero() {
		clauses = append(clauses, "ContentDate/Start ge "+q.From.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	if !q.To.IsZero() {
		clauses = append(clauses, "ContentDate/Start lt "+q.To.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	for name, value := range map[string]string{
		"productType":          q.ProductType,
		"polarisationChannels": q.Polarisation,
		"orbitDirection":       q.OrbitDirection,
	} {
		if value == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf(
			"Attributes/OData.CSC.StringAttribute/any(att:att/Name eq '%s' and att/OData.CSC.StringAttribute/Value eq '%s')",
			name, value))
	}
	if q.HasCloudFilter {
		clauses = append(clauses, fmt.Sprintf(
			"Attributes/OData.CSC.DoubleAttribute/any(att:att/Name eq 'cloudCover' and att/OData.CSC.DoubleAttribute/Value le %.2f)",
			q.MaxCloudCover))
	}
	// map iteration order is random
	slices.Sort(clauses[1:])
	return strings.Join(clauses, " and ")
}

type odataPage struct {
	Value []struct {
		ID            string `json:"Id"`
		Name          string `json:"Name"`
		ContentLength int64  `json:"ContentLength"`
		ContentDate   struct {
			Start time.Time `json:"Start"`
		} `json:"ContentDate"`
		Footprint string `json:"Footprint"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Search returns every product matching q, following result pages.
func (c *Catalog) Search(ctx context.Context, q Query) ([]Product, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	filter := q.filter()

	var key string
	if c.Cache != nil {
		key = c.Cache.GenerateKey(c.BaseURL, filter)
		if products, ok := c.Cache.Get(key); ok {
			logrus.Infof("using cached catalogue results (%d products)", len(products))
			return products, nil
		}
	}

	params := url.Values{}
	params.Set("$filter", filter)
	params.Set("$orderby", "ContentDate/Start asc")
	params.Set("$top", fmt.Sprint(catalogPageSize))
	next := c.BaseURL + "?" + params.Encode()

	var products []Product
	for next != "" {
		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, v := range page.Value {
			products = append(products, Product{
				ID:        v.ID,
				Name:      strings.TrimSuffix(v.Name, ".SAFE"),
				Start:     v.ContentDate.Start,
				Size:      v.ContentLength,
				Footprint: v.Footprint,
			})
		}
		logrus.Debugf("catalogue page with %d products", len(page.Value))
		next = page.NextLink
	}

	if c.Cache != nil {
		if err := c.Cache.Set(key, products); err != nil {
			logrus.Warnf("failed to cache catalogue results: %v", err)
		}
	}
	return products, nil
}

func (c *Catalog) fetchPage(ctx context.Context, pageURL string) (*odataPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalogue request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalogue request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("catalogue returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page odataPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode catalogue response: %w", err)
	}
	return &page, nil
}
