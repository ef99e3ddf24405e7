package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/samogod/fitloop/pkg/config"
	"github.com/samogod/fitloop/pkg/database"
	"github.com/samogod/fitloop/pkg/elastic"
	"github.com/samogod/fitloop/pkg/orchestrator"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configFile     string
	experimentName string
	outputDir      string
	epochs         int
	trainFile      string
	validationFile string
	testFile       string
	silent         bool
	verbose        bool
)

var Verbose bool

var rootCmd = &cobra.Command{
	Use:   "fitloop",
	Short: "centralized training runner",
	Long:  `fitloop trains a model from a YAML experiment config and records hyperparameters, per-epoch metrics and learning rate events`,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a training experiment",
	Long:  `Load the experiment config, build the datasets and model, and train for the configured number of epochs`,
	Run:   runTrain,
}

func Execute() {
	hasSilentFlag := false
	for i, arg := range os.Args {
		if arg == "-silent" {
			os.Args[i] = "--silent"
			hasSilentFlag = true
		}
		if arg == "--silent" {
			hasSilentFlag = true
		}
		if arg == "-epochs" {
			os.Args[i] = "--epochs"
		}
	}

	if !hasSilentFlag {
		printBanner()
	}

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func DebugLog(format string, args ...interface{}) {
	if Verbose {
		fmt.Printf("[DBG] "+format+"\n", args...)
	}
}

func setDebugLogFunctions() {
	config.DebugLog = DebugLog
	orchestrator.DebugLog = DebugLog
	database.DebugLog = DebugLog
	elastic.DebugLog = DebugLog
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "silent mode - no banner or extra output")

	trainCmd.SetHelpTemplate(`Usage:
  {{.UseLine}}

Flags:
EXPERIMENT:
   -e, -experiment string   experiment name (overrides experiment.name)
   -o, -output string       root output directory (overrides experiment.root_output_dir)
   -epochs int              number of epochs (overrides training.epochs)

DATA:
   -train string            training CSV file, last column is the label
   -validation string       validation CSV file
   -test string             test CSV file, evaluated once after training

OUTPUT:
   -silent                  silent mode - no banner or extra output

CONFIGURATION:
   -c, -config string       config file path (default: config/config.yaml)

DEBUG:
   -v, -verbose             enable verbose/debug output
`)

	trainCmd.Flags().StringVarP(&experimentName, "experiment", "e", "", "experiment name")
	trainCmd.Flags().StringVarP(&outputDir, "output", "o", "", "root output directory")
	trainCmd.Flags().IntVar(&epochs, "epochs", 0, "number of epochs")
	trainCmd.Flags().StringVar(&trainFile, "train", "", "training CSV file")
	trainCmd.Flags().StringVar(&validationFile, "validation", "", "validation CSV file")
	trainCmd.Flags().StringVar(&testFile, "test", "", "test CSV file")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupDebug() {
	Verbose = verbose
	if verbose {
		setDebugLogFunctions()
	}
}

func runTrain(cmd *cobra.Command, args []string) {
	setupDebug()

	logger := orchestrator.NewLogger(verbose)

	overrides := config.Overrides{
		ExperimentName: experimentName,
		RootOutputDir:  outputDir,
		Epochs:         epochs,
		Train:          trainFile,
		Validation:     validationFile,
		Test:           testFile,
	}

	orch, err := orchestrator.NewOrchestrator(configFile, overrides, logger)
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}
	defer orch.GetDB().Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.RunExperiment(ctx)
	if err != nil {
		color.Red("Training failed: %v", err)
		orch.GetDB().Close()
		os.Exit(1)
	}

	if !silent {
		displaySummary(result)
	}

	if !result.Success {
		for _, e := range result.Errors {
			color.Yellow("[WARN] %v", e)
		}
	}
}

func printBanner() {
	banner := color.CyanString(`
┌─┐┬┌┬┐┬  ┌─┐┌─┐┌─┐
├┤ │ │ │  │ ││ │├─┘
└  ┴ ┴ ┴─┘└─┘└─┘┴    @samogod
`)
	info := color.HiBlackString("centralized training runner with atomic metric logging")
	fmt.Println(banner)
	fmt.Println(info)
	fmt.Println()
}

func displaySummary(result *orchestrator.RunResult) {
	fmt.Println()

	color.Green("[INF] Trained %s for %d epochs in %v", result.Experiment, result.Epochs, result.Duration)
	if result.RunID != "" {
		color.Cyan("[INF] Run id: %s", result.RunID)
	}
	color.Cyan("[INF] Results: %s", result.ResultsDir)
	color.Cyan("[INF] Events:  %s", result.LogDir)
	fmt.Println()

	fmt.Printf(" %-24s %-12s\n", "Metric", "Final")
	color.Cyan(strings.Repeat("─", 40))

	names := make([]string, 0, len(result.FinalMetrics))
	for name := range result.FinalMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf(" %-24s %-12.4f\n", name, result.FinalMetrics[name])
	}

	fmt.Println()
}
