// ABOUTME: The score command runs one scoring pipeline over CSV inputs.
// ABOUTME: Prints the scored rows as JSON, or a JSON error object on failure.

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/providers/local"
	"github.com/jfeddern/VulnRisk/internal/telemetry"
	"github.com/jfeddern/VulnRisk/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newScoreCmd(config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "score <system-log> <cve-log> [model] [output]",
		Short: "Score a system inventory against a vulnerability catalog",
		Long: `Score matches every system in the inventory CSV to the catalog
vulnerabilities of its product, scores each pair with the selected
model and writes CVE_ID, System_ID, Product and DAIVERP_Risk_Score
to the output CSV. The scored rows are also printed as JSON.`,
		Args: cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := scoreRequest{systemFile: args[0], catalogFile: args[1]}
			if len(args) > 2 {
				req.model = args[2]
			}
			if len(args) > 3 {
				req.output = args[3]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rows, err := runScore(ctx, config, req)
			out := json.NewEncoder(cmd.OutOrStdout())
			if err != nil {
				out.Encode(map[string]string{"error": err.Error()})
				return &reportedError{err}
			}
			return out.Encode(rows)
		},
	}
}

type scoreRequest struct {
	systemFile  string
	catalogFile string
	model       string
	output      string
}

func runScore(ctx context.Context, config *Config, req scoreRequest) ([]types.RiskScore, error) {
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

	scoring, err := localEngine(config, logger)
	if err != nil {
		return nil, err
	}
	if req.output == "" {
		if err := os.MkdirAll(config.PredictionsDir, 0o755); err != nil {
			return nil, err
		}
	}

	result, err := scoring.Run(ctx, engine.Request{
		Systems:    local.NewSystemFile(req.systemFile, logger),
		Catalog:    local.NewCatalogFile(req.catalogFile, logger),
		Model:      req.model,
		OutputPath: req.output,
	})
	if err != nil {
		return nil, err
	}

	rows := result.Rows
	if rows == nil {
		rows = []types.RiskScore{}
	}
	return rows, nil
}

// localEngine builds an engine over the model directory for one-shot commands
func localEngine(config *Config, logger *logrus.Logger) (*engine.Engine, error) {
	loader, err := model.NewLoader(config.ModelDir, logger)
	if err != nil {
		return nil, err
	}
	engineConfig := engine.DefaultConfig()
	engineConfig.DefaultModel = config.DefaultModel
	engineConfig.OutputDir = config.PredictionsDir
	return engine.NewEngine(loader, engineConfig, logger), nil
}
