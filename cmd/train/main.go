package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/logger"
	"smart-doorbell-go/internal/recognition/classifier"
	"smart-doorbell-go/internal/recognition/embedding/dlib"
	"smart-doorbell-go/internal/recognition/training"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	datasetDir     string
	classifierPath string
	embeddingsPath string
	modelsDir      string
	epochs         int
	learningRate   float64
	l2             float64
	refit          bool
)

var rootCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the doorbell face classifier",
	Long: `Train walks a dataset laid out as <dataset>/<person>/<image>, extracts every
face embedding and fits the linear classifier used by the doorbell server.

Images without a detectable face are skipped. The classifier and the raw
embeddings are written as two separate JSON files.

Examples:
  # Train with the paths from config.yaml
  train

  # Train from a different dataset with more iterations
  train --dataset ./photos --epochs 2000

  # Refit from the stored embeddings, without the dlib models
  train --refit --l2 0.001`,
	SilenceUsage: true,
	RunE:         runTrain,
}

func init() {
	cobra.OnInitialize(func() {
		// .env file is optional
		_ = godotenv.Load()
	})

	defaults := classifier.DefaultOptions()
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.Flags().StringVar(&datasetDir, "dataset", "dataset", "Dataset root with one directory per person")
	rootCmd.Flags().StringVar(&classifierPath, "classifier", "", "Output path of the classifier (default from config)")
	rootCmd.Flags().StringVar(&embeddingsPath, "embeddings", "", "Output path of the embedding set (default from config)")
	rootCmd.Flags().StringVar(&modelsDir, "models", "", "Directory with the dlib model files (default from config)")
	rootCmd.Flags().IntVar(&epochs, "epochs", defaults.Epochs, "Gradient descent iterations")
	rootCmd.Flags().Float64Var(&learningRate, "learning-rate", defaults.LearningRate, "Gradient descent step size")
	rootCmd.Flags().Float64Var(&l2, "l2", defaults.L2, "L2 regularisation strength")
	rootCmd.Flags().BoolVar(&refit, "refit", false, "Refit the classifier from the stored embeddings instead of the dataset")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	closer, err := logger.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	defer closer.Close()

	if classifierPath == "" {
		classifierPath = cfg.Recognition.ClassifierPath
	}
	if embeddingsPath == "" {
		embeddingsPath = cfg.Recognition.EmbeddingsPath
	}
	if modelsDir == "" {
		modelsDir = cfg.Recognition.ModelsDir
	}

	fitOpts := classifier.Options{
		Epochs:       epochs,
		LearningRate: learningRate,
		L2:           l2,
	}

	if refit {
		report, err := training.Refit(training.Options{
			ClassifierPath: classifierPath,
			EmbeddingsPath: embeddingsPath,
			Fit:            fitOpts,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Refit on %d stored embeddings\n", report.Samples)
		fmt.Printf("Labels: %v\n", report.Labels)
		fmt.Printf("Classifier: %s\n", classifierPath)
		return nil
	}

	images, err := training.Scan(datasetDir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("dataset %s contains no images", datasetDir)
	}

	ext, err := dlib.NewExtractor(modelsDir)
	if err != nil {
		return err
	}
	defer ext.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("Extracting faces"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	report, err := training.Run(ctx, ext, training.Options{
		DatasetDir:     datasetDir,
		ClassifierPath: classifierPath,
		EmbeddingsPath: embeddingsPath,
		Fit:            fitOpts,
		Progress: func(string) { bar.Add(1) },
	})
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("Trained on %d embeddings from %d images (%d skipped)\n", report.Samples, report.Images, report.Skipped)
	fmt.Printf("Labels: %v\n", report.Labels)
	fmt.Printf("Classifier: %s\nEmbeddings: %s\n", classifierPath, embeddingsPath)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("Training failed")
		os.Exit(1)
	}
}
