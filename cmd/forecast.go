package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dymaxionlabs/satlomas/internal/config"
	"github.com/dymaxionlabs/satlomas/internal/dataset"
	"github.com/dymaxionlabs/satlomas/internal/ml"
	"github.com/dymaxionlabs/satlomas/internal/model"
	"github.com/dymaxionlabs/satlomas/internal/notification"
	"github.com/dymaxionlabs/satlomas/output"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train CONFIG",
	Short: "Train a forecaster from a training configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadLSTMTrainingConfig(args[0])
		if err != nil {
			return err
		}
		run, err := model.Train(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		r := run.Results
		color.Green("Training finished: train MAE %.4f, test MAE %.4f, test R2 %.4f", r.TrainMAE, r.TestMAE, r.TestR2)
		fmt.Fprintf(cmd.OutOrStdout(), "package: %s\nresults: %s\n", run.PackagePath, run.ResultsPath)
		if err := notification.SendDiscordSuccessNotification(fmt.Sprintf("SatLomas CLI\n\nModel trained for %s (test MAE %.4f)\n\nPackage: %s", r.Sensor, r.TestMAE, run.PackagePath)); err != nil {
			logrus.Warnf("failed to send notification: %v", err)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export CONFIG",
	Short: "Export the train, validation and test windows of a configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadLSTMTrainingConfig(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid training config: %w", err)
		}
		prepared, err := model.Prepare(cfg)
		if err != nil {
			return err
		}
		out := getString(cmd, "out")
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return err
		}
		if err := dataset.ExportSplitsParquet(out, prepared.Splits); err != nil {
			return err
		}
		if csvPath := getString(cmd, "csv"); csvPath != "" {
			file, err := os.Create(csvPath)
			if err != nil {
				return err
			}
			if err := dataset.WriteFrameCSV(file, prepared.Reframed); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
		}
		color.Green("Splits exported to %s", out)
		return nil
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict PACKAGE",
	Short: "Forecast the next steps from a window of past values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg, err := model.LoadPackage(args[0])
		if err != nil {
			return err
		}
		datapoint, err := parseFloats(getString(cmd, "datapoint"))
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		closeConn, err := ml.Connect(ctx, pkg)
		if err != nil {
			return err
		}
		defer closeConn()

		predict := model.PredictWithModel
		if getBool(cmd, "scaled") {
			predict = model.PredictScaledWithModel
		}
		predictions, testMAE, err := predict(ctx, datapoint, pkg, getInt(cmd, "steps"))
		if err != nil {
			return err
		}
		for i, p := range predictions {
			fmt.Fprintf(cmd.OutOrStdout(), "t+%d\t%.4f\n", i+1, p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "test MAE\t%.4f\n", testMAE)

		if plot := getString(cmd, "plot"); plot != "" {
			history := make([]float64, 0, pkg.Steps)
			for i := 0; i < len(datapoint); i += max(pkg.Features, 1) {
				v := datapoint[i]
				if getBool(cmd, "scaled") {
					v = pkg.Scaler.InverseTransformColumn(0, v)
				}
				history = append(history, v)
			}
			if err := output.RenderForecastChart(plot, history, predictions, output.ChartOptions{Title: filepath.Base(args[0])}); err != nil {
				return err
			}
			color.Green("Chart saved to %s", plot)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve PACKAGE",
	Short: "Serve a model package over gRPC",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg, err := model.LoadPackage(args[0])
		if err != nil {
			return err
		}
		if pkg.Kind == model.KindRemote {
			return fmt.Errorf("%s points to a remote forecaster and cannot be served", args[0])
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		addr := fmt.Sprintf(":%d", getInt(cmd, "port"))
		color.Green("Serving %s on %s", args[0], addr)
		return ml.Serve(ctx, addr, pkg)
	},
}

var packageRemoteCmd = &cobra.Command{
	Use:   "package-remote ADDR",
	Short: "Write a model package that forecasts through a running forecaster service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scaler, err := model.LoadScaler(getString(cmd, "scaler"))
		if err != nil {
			return err
		}
		conn, err := ml.Dial(args[0])
		if err != nil {
			return err
		}
		defer conn.Close()

		pkg, err := ml.RemotePackage(cmd.Context(), conn, args[0], scaler, getInt(cmd, "target-column"))
		if err != nil {
			return err
		}
		out := getString(cmd, "out")
		if err := model.SavePackage(out, pkg); err != nil {
			return err
		}
		color.Green("Remote package for %s written to %s (%d steps, %d features)", args[0], out, pkg.Steps, pkg.Features)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trainCmd, exportCmd, predictCmd, serveCmd, packageRemoteCmd)

	exportCmd.Flags().StringP("out", "o", "splits.parquet", "Parquet file receiving the windows")
	exportCmd.Flags().String("csv", "", "Also write the supervised frame as CSV")
	bindFlags(exportCmd, "out", "csv")

	predictCmd.Flags().String("datapoint", "", "Comma separated past values, oldest first")
	predictCmd.Flags().IntP("steps", "n", 1, "Number of future steps to forecast")
	predictCmd.Flags().String("plot", "", "Write a PNG chart of the forecast")
	predictCmd.Flags().Bool("scaled", false, "The datapoint is already scaled to [0, 1]")
	bindFlags(predictCmd, "datapoint", "steps", "plot", "scaled")

	serveCmd.Flags().IntP("port", "p", 50051, "Port to listen on")
	bindFlags(serveCmd, "port")

	packageRemoteCmd.Flags().String("scaler", "", "Scaler JSON written when the served model was trained")
	packageRemoteCmd.Flags().Int("target-column", 0, "Scaler column of the forecast variable")
	packageRemoteCmd.Flags().StringP("out", "o", "remote.json", "Package file to write")
	bindFlags(packageRemoteCmd, "scaler", "target-column", "out")
}
