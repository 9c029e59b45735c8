package sentinel

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Expected number of .jp2 files per resolution in a complete L2A product.
var l2aBandCounts = map[string]int{
	"R10m": 7,
	"R20m": 13,
	"R60m": 15,
}

// IsCompleteL2A reports whether every resolution directory of the product
// holds the expected number of images.
func IsCompleteL2A(productPath string) bool {
	for res, want := range l2aBandCounts {
		files, err := filepath.Glob(filepath.Join(productPath, "GRANULE", "*", "IMG_DATA", res, "*.jp2"))
		if err != nil || len(files) != want {
			return false
		}
	}
	return true
}

// DeleteIncompleteL2A removes the incomplete *.SAFE products in baseDir and
// returns their paths.
func DeleteIncompleteL2A(baseDir string) ([]string, error) {
	products, err := filepath.Glob(filepath.Join(baseDir, "*.SAFE"))
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, p := range products {
		if IsCompleteL2A(p) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", p, err)
		}
		logrus.Infof("%s deleted", p)
		deleted = append(deleted, p)
	}
	return deleted, nil
}
