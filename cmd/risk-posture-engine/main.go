package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/pkg/logging"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "risk-posture-engine",
		Short:         "Configuration drift, security posture and risk scoring engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newAssessCmd(),
		newRiskCmd(),
		newDriftCmd(),
		newBaselineCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the assessment scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApplication(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			if err := app.InitializeServers(); err != nil {
				_ = app.Close()
				return err
			}
			if err := app.Start(ctx); err != nil {
				app.logger.Error("Failed to start application", logging.Error(err))
				_ = app.Shutdown()
				return err
			}

			app.WaitForShutdown()
			return app.Shutdown()
		},
	}
}

// runOnce initializes the stores and use cases, runs fn and prints its result as JSON
func runOnce(cmd *cobra.Command, fn func(ctx context.Context, app *Application) (interface{}, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(configPath)
	if err != nil {
		return err
	}
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	result, err := fn(ctx, app)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newAssessCmd() *cobra.Command {
	var refresh, recommendations bool
	cmd := &cobra.Command{
		Use:   "assess <system-id>",
		Short: "Assess the security posture of a system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, app *Application) (interface{}, error) {
				return app.postureUC.AssessPosture(ctx, args[0], entity.AssessOptions{
					ForceRefresh:           refresh,
					IncludeRecommendations: recommendations,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the result cache")
	cmd.Flags().BoolVar(&recommendations, "recommendations", true, "include recommendations")
	return cmd
}

func newRiskCmd() *cobra.Command {
	var model string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "risk <system-id>",
		Short: "Compute a risk score for a system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, app *Application) (interface{}, error) {
				return app.riskUC.ComputeRisk(ctx, args[0], model, entity.RiskOptions{ForceRefresh: refresh})
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", service.ModelSystemComposite, "risk model name")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the result cache")
	return cmd
}

func newDriftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect and triage configuration drift",
	}

	var methods []string
	detect := &cobra.Command{
		Use:   "detect <system-id>",
		Short: "Compare a system's current configuration with its baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, app *Application) (interface{}, error) {
				return app.driftUC.DetectDrift(ctx, args[0], methods)
			})
		},
	}
	detect.Flags().StringSliceVar(&methods, "methods", nil, "detection methods (default all)")

	cmd.AddCommand(detect,
		newTransitionCmd("ack <drift-id>", "Acknowledge a drift finding", func(ctx context.Context, app *Application, id, actor, notes string) (interface{}, error) {
			return app.driftUC.AcknowledgeDrift(ctx, id, actor, notes)
		}),
		newTransitionCmd("resolve <drift-id>", "Resolve a drift finding", func(ctx context.Context, app *Application, id, actor, notes string) (interface{}, error) {
			return app.driftUC.ResolveDrift(ctx, id, actor, notes)
		}),
	)
	return cmd
}

func newTransitionCmd(use, short string, fn func(ctx context.Context, app *Application, id, actor, notes string) (interface{}, error)) *cobra.Command {
	var actor, notes string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, app *Application) (interface{}, error) {
				return fn(ctx, app, args[0], actor, notes)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "acting user id")
	cmd.Flags().StringVar(&notes, "notes", "", "triage notes")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage configuration baselines",
	}

	var replace bool
	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import baselines from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := loadBaselineSeeds(args[0])
			if err != nil {
				return err
			}
			return runOnce(cmd, func(ctx context.Context, app *Application) (interface{}, error) {
				return app.driftUC.ImportBaselines(ctx, seeds, replace)
			})
		},
	}
	importCmd.Flags().BoolVar(&replace, "replace", false, "replace existing baselines")

	var actor string
	capture := &cobra.Command{
		Use:   "capture <system-id>",
		Short: "Replace a system's baseline with its current configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, app *Application) (interface{}, error) {
				return app.driftUC.Rebaseline(ctx, args[0], actor)
			})
		},
	}
	capture.Flags().StringVar(&actor, "actor", "", "acting user id")
	_ = capture.MarkFlagRequired("actor")

	cmd.AddCommand(importCmd, capture)
	return cmd
}
