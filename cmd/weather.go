package main

import (
	"errors"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/sentinel"
	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/dymaxionlabs/satlomas/internal/weather"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var fetchWeatherCmd = &cobra.Command{
	Use:   "fetch-weather",
	Short: "Fetch an hourly weather variable from the Open-Meteo archive as station observations",
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

		lat, lon := getFloat(cmd, "lat"), getFloat(cmd, "lon")
		if aoiPath := getString(cmd, "aoi"); aoiPath != "" {
			aoi, err := sentinel.LoadAOI(aoiPath)
			if err != nil {
				return err
			}
			if lat, lon, err = sentinel.Centroid(aoi); err != nil {
				return err
			}
		} else if lat == 0 && lon == 0 {
			return errors.New("either --aoi or --lat and --lon are required")
		}
		logrus.Infof("Fetching weather at %.4f, %.4f", lat, lon)

		series, err := weather.NewClient().FetchHourly(cmd.Context(), lat, lon, from, to, getString(cmd, "var"))
		if err != nil {
			return err
		}
		if getBool(cmd, "daily") {
			series = weather.DailyMeans(series)
		}

		cols := timeseries.DefaultColumns()
		cols.Value = series.Variable
		cols.Sensor = getString(cmd, "sensor-col")
		obs := weather.ToObservations(series, getString(cmd, "sensor"))
		out := getString(cmd, "out")
		if err := timeseries.WriteObservationsFile(out, obs, cols, time.DateOnly); err != nil {
			return err
		}
		color.Green("%d observations written to %s", len(obs), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchWeatherCmd)

	fetchWeatherCmd.Flags().Float64("lat", 0, "Latitude")
	fetchWeatherCmd.Flags().Float64("lon", 0, "Longitude")
	fetchWeatherCmd.Flags().String("aoi", "", "GeoJSON file whose centroid is used instead of --lat/--lon")
	fetchWeatherCmd.Flags().String("from", "", "First date (YYYY-MM-DD)")
	fetchWeatherCmd.Flags().String("to", "", "Last date (YYYY-MM-DD)")
	fetchWeatherCmd.Flags().String("var", "temperature_2m", "Open-Meteo hourly variable")
	fetchWeatherCmd.Flags().String("sensor", "A620", "Sensor name written on every row")
	fetchWeatherCmd.Flags().String("sensor-col", "inme", "Name of the sensor column")
	fetchWeatherCmd.Flags().Bool("daily", false, "Average the hourly values per day")
	fetchWeatherCmd.Flags().StringP("out", "o", "weather.csv", "CSV file to write")
	bindFlags(fetchWeatherCmd, "lat", "lon", "aoi", "from", "to", "var", "sensor", "sensor-col", "daily", "out")
}
