package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dymaxionlabs/satlomas/internal/chips"
	"github.com/dymaxionlabs/satlomas/internal/modis"
	"github.com/dymaxionlabs/satlomas/internal/preprocess"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var modisCmd = &cobra.Command{
	Use:   "modis",
	Short: "Download MODIS vegetation index granules from the Earthdata archive",
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
		if to.Before(from) {
			return fmt.Errorf("--to %s is before --from %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
		}
		client, err := modis.NewClient()
		if err != nil {
			return err
		}
		out := getString(cmd, "out")
		files, err := client.DownloadVIImages(cmd.Context(), out, from, to)
		if err != nil {
			return err
		}
		color.Green("%d granules in %s", len(files), out)

		if tifDir := getString(cmd, "extract"); tifDir != "" {
			tifs, err := modis.ExtractSubdatasetsAsGTiffs(files, tifDir)
			if err != nil {
				return err
			}
			color.Green("%d GeoTIFFs extracted into %s", len(tifs), tifDir)
		}
		return nil
	},
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess-s2 INPUT OUTPUT",
	Short: "Build index and band stacks from Sentinel-2 L2A products and mosaic them",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := preprocess.Options{
			AOI:     getString(cmd, "aoi"),
			Workers: getInt(cmd, "workers"),
		}
		if err := preprocess.Run(cmd.Context(), args[0], args[1], opts); err != nil {
			return err
		}
		color.Green("Mosaics written to %s", args[1])
		return nil
	},
}

var chipsCmd = &cobra.Command{
	Use:   "chips RASTER",
	Short: "Cut a raster into rescaled byte chips",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := chips.ExtractOptions{
			Size:        chips.Size{Width: getInt(cmd, "size"), Height: getInt(cmd, "size")},
			Step:        chips.Size{Width: getInt(cmd, "step"), Height: getInt(cmd, "step")},
			Whole:       getBool(cmd, "whole"),
			RescaleMode: getString(cmd, "rescale-mode"),
			SkipEmpty:   getBool(cmd, "skip-empty"),
		}
		if raw := getString(cmd, "rescale-range"); raw != "" {
			ranges, err := parseRanges(raw)
			if err != nil {
				return err
			}
			opts.RescaleRange = ranges
		}

		out := getString(cmd, "out")
		result, err := chips.Extract(args[0], out, opts)
		if err != nil {
			return err
		}
		color.Green("%d chips written to %s", len(result), out)

		basename := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		if path := getString(cmd, "geojson"); path != "" {
			if err := chips.WriteChipsGeoJSON(path, result, "tif", basename); err != nil {
				return err
			}
		}
		if path := getString(cmd, "manifest"); path != "" {
			if err := chips.WriteManifest(path, result, "tif", basename); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modisCmd, preprocessCmd, chipsCmd)

	modisCmd.Flags().String("from", "", "First date (YYYY-MM-DD)")
	modisCmd.Flags().String("to", "", "Last date (YYYY-MM-DD)")
	modisCmd.Flags().StringP("out", "o", "modis", "Directory receiving the granules")
	modisCmd.Flags().String("extract", "", "Extract the NDVI and reliability subdatasets as GeoTIFF into this directory")
	bindFlags(modisCmd, "from", "to", "out", "extract")

	preprocessCmd.Flags().String("aoi", "", "Vector file used to clip the mosaics")
	preprocessCmd.Flags().Int("workers", 2, "Scenes processed at once")
	bindFlags(preprocessCmd, "aoi", "workers")

	chipsCmd.Flags().Int("size", 256, "Chip size in pixels")
	chipsCmd.Flags().Int("step", 0, "Window step in pixels, defaults to size")
	chipsCmd.Flags().Bool("whole", false, "Only keep windows fully inside the raster")
	chipsCmd.Flags().String("rescale-mode", chips.RescalePercentiles, "percentiles or values")
	chipsCmd.Flags().String("rescale-range", "", "Comma separated (min,max) pairs, one per band in values mode")
	chipsCmd.Flags().Bool("skip-empty", false, "Skip chips without valid pixels")
	chipsCmd.Flags().StringP("out", "o", "chips", "Directory receiving the chips")
	chipsCmd.Flags().String("geojson", "", "Also write the chip footprints as GeoJSON")
	chipsCmd.Flags().String("manifest", "", "Also write a CSV listing every chip and its bounds")
	bindFlags(chipsCmd, "size", "step", "whole", "rescale-mode", "rescale-range", "skip-empty", "out", "geojson", "manifest")
}
