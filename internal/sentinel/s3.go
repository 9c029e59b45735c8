package sentinel

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dymaxionlabs/satlomas/internal/properties"
	"github.com/gammazero/workerpool"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

const (
	S1Bucket = "sentinel-s1-l1c"
	S2Bucket = "sentinel-s2-l1c"

	defaultDownloadWorkers = 16
)

// S3API is the subset of the S3 client used for downloads.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Downloader copies Sentinel products out of the requester-pays open data
// buckets.
type Downloader struct {
	Client   S3API
	Workers  int
	Progress bool
}

func NewDownloader(ctx context.Context) (*Downloader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(properties.AWSRegion()))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Downloader{Client: s3.NewFromConfig(cfg), Workers: defaultDownloadWorkers}, nil
}

// productDate parses the acquisition time found in field idx of an
// underscore separated product id.
func productDate(productID string, idx int) (time.Time, error) {
	fields := strings.Split(productID, "_")
	if len(fields) <= idx {
		return time.Time{}, fmt.Errorf("invalid product id %q", productID)
	}
	t, err := time.Parse("20060102T150405", fields[idx])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date in product id %q: %w", productID, err)
	}
	return t, nil
}

func datePath(t time.Time) string {
	return strconv.Itoa(t.Year()) + "/" + strconv.Itoa(int(t.Month())) + "/" + strconv.Itoa(t.Day())
}

// S1ProductPrefix returns the GRD prefix holding the product of that day.
func S1ProductPrefix(productID string) (string, error) {
	t, err := productDate(productID, 4)
	if err != nil {
		return "", err
	}
	return "GRD/" + datePath(t) + "/IW/", nil
}

// S2ProductPrefix returns the products/ prefix of a Level-1C product.
func S2ProductPrefix(productID string) (string, error) {
	t, err := productDate(productID, 2)
	if err != nil {
		return "", err
	}
	return "products/" + datePath(t) + "/" + productID + "/", nil
}

func alreadyDownloaded(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// DownloadS1 copies every object of productID into outDir/productID. The
// product is looked up in each mission directory under its date prefix.
func (d *Downloader) DownloadS1(ctx context.Context, productID, outDir string) error {
	dst := filepath.Join(outDir, productID)
	if alreadyDownloaded(dst) {
		logrus.Infof("%s already downloaded", dst)
		return nil
	}
	prefix, err := S1ProductPrefix(productID)
	if err != nil {
		return err
	}
	dirs, err := d.listDirs(ctx, S1Bucket, prefix)
	if err != nil {
		return err
	}

	var keys []string
	var srcPrefix string
	for _, dir := range dirs {
		srcPrefix = dir + productID + "/"
		keys, err = d.listKeys(ctx, S1Bucket, srcPrefix)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			break
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s not found under s3://%s/%s", ErrImageNotFound, productID, S1Bucket, prefix)
	}
	return d.copyObjects(ctx, S1Bucket, srcPrefix, keys, dst)
}

// DownloadS2 copies every object of a Level-1C product into
// outDir/productID.
func (d *Downloader) DownloadS2(ctx context.Context, productID, outDir string) error {
	dst := filepath.Join(outDir, productID)
	if alreadyDownloaded(dst) {
		logrus.Infof("%s already downloaded", dst)
		return nil
	}
	prefix, err := S2ProductPrefix(productID)
	if err != nil {
		return err
	}
	keys, err := d.listKeys(ctx, S2Bucket, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s not found under s3://%s/%s", ErrImageNotFound, productID, S2Bucket, prefix)
	}
	return d.copyObjects(ctx, S2Bucket, prefix, keys, dst)
}

func (d *Downloader) listDirs(ctx context.Context, bucket, prefix string) ([]string, error) {
	var dirs []string
	paginator := s3.NewListObjectsV2Paginator(d.Client, &s3.ListObjectsV2Input{
		Bucket:       aws.String(bucket),
		Prefix:       aws.String(prefix),
		Delimiter:    aws.String("/"),
		RequestPayer: types.RequestPayerRequester,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, p := range page.CommonPrefixes {
			dirs = append(dirs, aws.ToString(p.Prefix))
		}
	}
	return dirs, nil
}

func (d *Downloader) listKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(d.Client, &s3.ListObjectsV2Input{
		Bucket:       aws.String(bucket),
		Prefix:       aws.String(prefix),
		RequestPayer: types.RequestPayerRequester,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (d *Downloader) copyObjects(ctx context.Context, bucket, prefix string, keys []string, dst string) error {
	workers := d.Workers
	if workers < 1 {
		workers = defaultDownloadWorkers
	}
	var (
		mu          sync.Mutex
		firstErr    error
		progressBar *progressbar.ProgressBar
	)
	if d.Progress {
		progressBar = progressbar.Default(int64(len(keys)), "Downloading "+filepath.Base(dst))
	}

	wp := workerpool.New(workers)
	for _, key := range keys {
		wp.Submit(func() {
			rel := strings.TrimPrefix(key, prefix)
			err := d.getObject(ctx, bucket, key, filepath.Join(dst, filepath.FromSlash(rel)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if progressBar != nil {
				progressBar.Add(1)
			}
		})
	}
	wp.StopWait()

	if firstErr != nil {
		return fmt.Errorf("error downloading %s: %w", filepath.Base(dst), firstErr)
	}
	logrus.Infof("downloaded %d objects into %s", len(keys), dst)
	return nil
}

func (d *Downloader) getObject(ctx context.Context, bucket, key, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := d.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		RequestPayer: types.RequestPayerRequester,
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, out.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
