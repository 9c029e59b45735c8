package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "satlomas",
	Short: "Satellite and weather processing tools for the lomas ecosystems",
	Long: `Download and preprocess Sentinel-1/2 and MODIS imagery, cut rasters
into chips, and train and serve weather station forecasters.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setLogLevels()
	},
}

func setLogLevels() {
	if viper.GetBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	} else if viper.GetBool("verbose") {
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
}

func init() {
	viper.SetEnvPrefix("SATLOMAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug output")
	for _, name := range []string{"verbose", "debug"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			logrus.Exit(1)
		}
	}
}

// bindFlags binds the named local flags of cmd under "{cmd}.{flag}" so
// they can also be set through SATLOMAS_{CMD}_{FLAG}.
func bindFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(flagKey(cmd, name), cmd.Flags().Lookup(name)); err != nil {
			logrus.Exit(1)
		}
	}
}

func flagKey(cmd *cobra.Command, name string) string {
	return cmd.Name() + "." + name
}

func getString(cmd *cobra.Command, name string) string {
	return viper.GetString(flagKey(cmd, name))
}

func getInt(cmd *cobra.Command, name string) int {
	return viper.GetInt(flagKey(cmd, name))
}

func getFloat(cmd *cobra.Command, name string) float64 {
	return viper.GetFloat64(flagKey(cmd, name))
}

func getBool(cmd *cobra.Command, name string) bool {
	return viper.GetBool(flagKey(cmd, name))
}

func getDate(cmd *cobra.Command, name string) (time.Time, error) {
	raw := getString(cmd, name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("--%s is required", name)
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q, expected YYYY-MM-DD", name, raw)
	}
	return t, nil
}

// parseFloats parses a comma separated list of numbers.
func parseFloats(raw string) ([]float64, error) {
	var values []float64
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", field)
		}
		values = append(values, v)
	}
	return values, nil
}

func parseRanges(raw string) ([][2]float64, error) {
	values, err := parseFloats(raw)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 || len(values)%2 != 0 {
		return nil, fmt.Errorf("ranges must be pairs of numbers, got %q", raw)
	}
	ranges := make([][2]float64, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		ranges = append(ranges, [2]float64{values[i], values[i+1]})
	}
	return ranges, nil
}
