// Package fasttext bridges to an external fixed-format trainable classifier
// binary. The binary owns the model format; this package only drives its CLI
// (train to a file, predict ranked labels) and parses its output.
package fasttext

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const labelPrefix = "__label__"

// LabeledExample is one flattened (utterance, intent) training pair.
type LabeledExample struct {
	Label string
	Text  string
}

// Prediction is one ranked label with its probability.
type Prediction struct {
	Label       string
	Probability float64
}

// Classifier invokes the external classifier binary.
type Classifier struct {
	binPath      string
	learningRate float64
	epochs       int
	logger       *zap.Logger
}

// NewClassifier creates a bridge to the classifier binary at binPath.
func NewClassifier(binPath string, learningRate float64, epochs int, logger *zap.Logger) *Classifier {
	return &Classifier{
		binPath:      binPath,
		learningRate: learningRate,
		epochs:       epochs,
		logger:       logger.Named("fasttext"),
	}
}

// Train writes the labeled examples to a training file and runs a supervised
// training pass. It returns the path of the produced model file (the binary
// appends ".bin" to the output stem).
func (c *Classifier) Train(ctx context.Context, examples []LabeledExample, outputStem string) (string, error) {
	if len(examples) == 0 {
		return "", fmt.Errorf("no training examples")
	}

	inputFile, err := writeTrainingFile(examples)
	if err != nil {
		return "", err
	}
	defer os.Remove(inputFile)

	args := []string{
		"supervised",
		"-input", inputFile,
		"-output", outputStem,
		"-lr", strconv.FormatFloat(c.learningRate, 'f', -1, 64),
		"-epoch", strconv.Itoa(c.epochs),
	}

	c.logger.Debug("training classifier",
		zap.Int("examples", len(examples)),
		zap.String("output", outputStem))

	cmd := exec.CommandContext(ctx, c.binPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("classifier training failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	modelFile := outputStem + ".bin"
	if _, err := os.Stat(modelFile); err != nil {
		return "", fmt.Errorf("classifier produced no model file at %s: %w", modelFile, err)
	}
	return modelFile, nil
}

// Predict runs the model at modelPath over a single line of text and returns
// the topN ranked labels.
func (c *Classifier) Predict(ctx context.Context, modelPath, text string, topN int) ([]Prediction, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file %s: %w", modelPath, err)
	}

	inputFile, err := writePredictionInput(text)
	if err != nil {
		return nil, err
	}
	defer os.Remove(inputFile)

	cmd := exec.CommandContext(ctx, c.binPath, "predict-prob", modelPath, inputFile, strconv.Itoa(topN))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("classifier prediction failed: %w", err)
	}

	return ParsePredictions(string(out)), nil
}

// ParsePredictions parses the ranked "__label__x 0.97 __label__y 0.02" output
// of a predict-prob run. Tokens without a following probability and labels
// the parser cannot recognize are skipped.
func ParsePredictions(output string) []Prediction {
	fields := strings.Fields(strings.TrimSpace(output))

	var predictions []Prediction
	for i := 0; i+1 < len(fields); i += 2 {
		label, ok := strings.CutPrefix(fields[i], labelPrefix)
		if !ok {
			continue
		}
		prob, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			continue
		}
		predictions = append(predictions, Prediction{
			Label:       sanitizeLabel(label, false),
			Probability: prob,
		})
	}
	return predictions
}

// writeTrainingFile materializes examples in the fixed "__label__x text"
// line format the binary expects.
func writeTrainingFile(examples []LabeledExample) (string, error) {
	f, err := os.CreateTemp("", "nlu-train-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create training file: %w", err)
	}

	var sb strings.Builder
	for _, ex := range examples {
		sb.WriteString(labelPrefix)
		sb.WriteString(sanitizeLabel(ex.Label, true))
		sb.WriteString(" ")
		sb.WriteString(flattenText(ex.Text))
		sb.WriteString("\n")
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write training file: %w", err)
	}
	return f.Name(), f.Close()
}

func writePredictionInput(text string) (string, error) {
	f, err := os.CreateTemp("", "nlu-predict-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create prediction input: %w", err)
	}
	if _, err := f.WriteString(flattenText(text) + "\n"); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write prediction input: %w", err)
	}
	return f.Name(), f.Close()
}

// sanitizeLabel makes an intent name safe for the line format (labels must be
// a single token). Encoding replaces spaces with underscores; decoding is the
// identity because intent names are restricted to token-safe characters.
func sanitizeLabel(label string, encode bool) string {
	if encode {
		return strings.ReplaceAll(strings.TrimSpace(label), " ", "_")
	}
	return strings.TrimSpace(label)
}

// flattenText keeps each example on its own line.
func flattenText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// TempModelStem returns a per-bot unique stem inside dir for a training run.
func TempModelStem(dir, botID, contentHash string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s", botID, contentHash))
}
