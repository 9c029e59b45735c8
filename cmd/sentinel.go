package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dymaxionlabs/satlomas/internal/notification"
	"github.com/dymaxionlabs/satlomas/internal/sentinel"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the Copernicus catalogue and write the product list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := getDate(cmd, "from")
		if err != nil {
			return err
		}
		to, err := getDate(cmd, "to")
		if err != nil {
			return err
		}
		aoi, err := sentinel.LoadAOI(getString(cmd, "aoi"))
		if err != nil {
			return err
		}
		query := sentinel.Query{
			Collection:     strings.ToUpper(getString(cmd, "collection")),
			AOI:            aoi,
			From:           from,
			To:             to.AddDate(0, 0, 1),
			ProductType:    getString(cmd, "product-type"),
			Polarisation:   getString(cmd, "polarisation"),
			OrbitDirection: strings.ToUpper(getString(cmd, "orbit-direction")),
		}
		if cloud := getFloat(cmd, "max-cloud"); cloud >= 0 {
			query.MaxCloudCover, query.HasCloudFilter = cloud, true
		}

		products, err := sentinel.NewCatalog().Search(cmd.Context(), query)
		if err != nil {
			return err
		}
		out := getString(cmd, "out")
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return err
		}
		file, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := sentinel.WriteProductList(file, products); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
		color.Green("%d products written to %s", len(products), out)
		return nil
	},
}

type downloadFunc func(d *sentinel.Downloader, cmd *cobra.Command, productID, outDir string) error

func downloadCommand(use, short string, download downloadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " LIST OUTDIR",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := sentinel.ReadProductListFile(args[0])
			if err != nil {
				return err
			}
			downloader, err := sentinel.NewDownloader(cmd.Context())
			if err != nil {
				return err
			}
			downloader.Progress = true

			var missing []string
			for _, id := range products {
				err := download(downloader, cmd, id, args[1])
				if errors.Is(err, sentinel.ErrImageNotFound) {
					logrus.Warn(err)
					missing = append(missing, id)
					continue
				}
				if err != nil {
					return err
				}
			}
			color.Green("%d of %d products downloaded into %s", len(products)-len(missing), len(products), args[1])
			if len(missing) > 0 {
				color.Yellow("Not found: %s", strings.Join(missing, ", "))
				msg := fmt.Sprintf("SatLomas CLI\n\n%s: %d products not found\n\n%s", cmd.Name(), len(missing), strings.Join(missing, "\n"))
				if err := notification.SendDiscordWarnNotification(msg); err != nil {
					logrus.Warnf("failed to send notification: %v", err)
				}
			}
			return nil
		},
	}
}

var downloadS1Cmd = downloadCommand("download-s1", "Download Sentinel-1 GRD products from the open data bucket",
	func(d *sentinel.Downloader, cmd *cobra.Command, id, outDir string) error {
		return d.DownloadS1(cmd.Context(), id, outDir)
	})

var downloadS2Cmd = downloadCommand("download-s2", "Download Sentinel-2 L1C products from the open data bucket",
	func(d *sentinel.Downloader, cmd *cobra.Command, id, outDir string) error {
		return d.DownloadS2(cmd.Context(), id, outDir)
	})

var requestS2Cmd = &cobra.Command{
	Use:   "request-s2",
	Short: "Request a Sentinel-2 image of an AOI from the Process API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := getDate(cmd, "date")
		if err != nil {
			return err
		}
		aoi, err := sentinel.LoadAOI(getString(cmd, "aoi"))
		if err != nil {
			return err
		}
		client, err := sentinel.NewProcessClient()
		if err != nil {
			return err
		}
		from := date.AddDate(0, 0, -getInt(cmd, "days"))
		to := date.AddDate(0, 0, 1)
		content, err := client.RequestImage(cmd.Context(), from, to, aoi, sentinel.RequestOptions{
			Resolution: getFloat(cmd, "resolution"),
		})
		if err != nil {
			return err
		}

		out := getString(cmd, "out")
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(out, content, 0644); err != nil {
			return fmt.Errorf("failed to save image: %w", err)
		}
		info, err := sentinel.InspectImage(out)
		if err != nil {
			os.Remove(out)
			return err
		}
		color.Green("Image saved to %s (%dx%d, %d bands, %.0f%% valid)", out, info.Width, info.Height, info.Bands, info.ValidFraction*100)
		return nil
	},
}

var deleteIncompleteCmd = &cobra.Command{
	Use:   "delete-incomplete-l2a DIR",
	Short: "Delete L2A products missing band images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, err := sentinel.DeleteIncompleteL2A(args[0])
		if err != nil {
			return err
		}
		for _, p := range deleted {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		color.Green("%d incomplete products deleted", len(deleted))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd, downloadS1Cmd, downloadS2Cmd, requestS2Cmd, deleteIncompleteCmd)

	searchCmd.Flags().String("collection", "SENTINEL-2", "SENTINEL-1 or SENTINEL-2")
	searchCmd.Flags().String("aoi", "", "GeoJSON file with the area of interest")
	searchCmd.Flags().String("from", "", "First acquisition date (YYYY-MM-DD)")
	searchCmd.Flags().String("to", "", "Last acquisition date (YYYY-MM-DD)")
	searchCmd.Flags().String("product-type", "", "Product type, e.g. GRD or S2MSI2A")
	searchCmd.Flags().String("polarisation", "", "Sentinel-1 polarisation, e.g. VV&VH")
	searchCmd.Flags().String("orbit-direction", "", "ASCENDING or DESCENDING")
	searchCmd.Flags().Float64("max-cloud", -1, "Maximum cloud cover percentage")
	searchCmd.Flags().StringP("out", "o", "products.csv", "Product list to write")
	bindFlags(searchCmd, "collection", "aoi", "from", "to", "product-type", "polarisation", "orbit-direction", "max-cloud", "out")

	requestS2Cmd.Flags().String("aoi", "", "GeoJSON file with the area of interest")
	requestS2Cmd.Flags().String("date", "", "Acquisition date (YYYY-MM-DD)")
	requestS2Cmd.Flags().Int("days", 5, "Days before date to include in the mosaic")
	requestS2Cmd.Flags().Float64("resolution", 10, "Output resolution in metres")
	requestS2Cmd.Flags().StringP("out", "o", "image.tif", "GeoTIFF to write")
	bindFlags(requestS2Cmd, "aoi", "date", "days", "resolution", "out")
}
