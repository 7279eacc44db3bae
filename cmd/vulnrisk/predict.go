// ABOUTME: The predict command scores a CSV of engineered feature rows directly.
// ABOUTME: Prints {"model":...,"predictions":[...]} with one value per row, or a JSON error object.

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/telemetry"

	"github.com/spf13/cobra"
)

func newPredictCmd(config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <features.csv> [model]",
		Short: "Score rows of engineered features with a model",
		Long: `Predict reads a CSV whose columns are model features, selects the
features the model declares and prints one prediction per row. No
matching or feature engineering is applied; a missing feature fails.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID := ""
			if len(args) > 1 {
				modelID = args[1]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			prediction, err := runPredict(ctx, config, args[0], modelID)
			out := json.NewEncoder(cmd.OutOrStdout())
			if err != nil {
				out.Encode(map[string]string{"error": err.Error()})
				return &reportedError{err}
			}
			return out.Encode(prediction)
		},
	}
}

func runPredict(ctx context.Context, config *Config, featureFile, modelID string) (*engine.Prediction, error) {
	logger, err := newLogger(config, os.Stderr)
	if err != nil {
		return nil, err
	}

	if config.Tracing {
		shutdown, err := telemetry.InitTracer(version, os.Stderr)
		if err != nil {
			return nil, err
		}
		defer shutdown(context.Background())
	}

	frame, err := table.ReadCSVFile(featureFile)
	if err != nil {
		return nil, err
	}

	scoring, err := localEngine(config, logger)
	if err != nil {
		return nil, err
	}
	return scoring.Predict(ctx, engine.PredictRequest{Model: modelID, Features: frame})
}
