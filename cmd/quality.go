package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/fingerprint"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

var qualityCmd = &cobra.Command{
	Use:   "quality <photo>...",
	Short: "Check enrollment photo quality",
	Long: `Run the enrollment quality gate on one or more photos and print the score,
the verdict and the rejection reasons of each, followed by a summary.

Examples:
  # Check a single photo
  face-attendance quality selfie.jpg

  # Check a folder of uploads with 8 workers and JSON output
  face-attendance quality --concurrency 8 --json uploads/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuality,
}

func init() {
	rootCmd.AddCommand(qualityCmd)

	qualityCmd.Flags().Bool("json", false, "Output as JSON")
	qualityCmd.Flags().Int("concurrency", 4, "Number of parallel workers")
}

// fileVerdict is the quality outcome for one file.
type fileVerdict struct {
	File    string           `json:"file"`
	Verdict *quality.Verdict `json:"verdict,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type qualityReport struct {
	Photos  []fileVerdict   `json:"photos"`
	Summary quality.Summary `json:"summary"`
}

func runQuality(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	concurrency := mustGetInt(cmd, "concurrency")
	if concurrency < 1 {
		concurrency = 1
	}

	cfg := config.Load()
	newLogger(cfg)
	gate := quality.NewAssessor(fingerprint.NewClient(&cfg.Embedding))

	ctx, stop := commandContext(cmd)
	defer stop()

	bar := newPhotoProgressBar(len(args), "Checking quality", jsonOutput)
	results := checkFiles(ctx, gate, cfg.Quality, args, concurrency, bar)
	if bar != nil {
		fmt.Println()
	}

	var verdicts []*quality.Verdict
	for _, r := range results {
		if r.Verdict != nil {
			verdicts = append(verdicts, r.Verdict)
		}
	}
	report := qualityReport{Photos: results, Summary: quality.Summarize(verdicts)}

	if jsonOutput {
		return outputJSON(report)
	}
	printQualityReport(report)
	return nil
}

// checkFiles assesses every file on a bounded worker pool. Results keep the argument order.
func checkFiles(ctx context.Context, gate quality.Gate, cfg quality.Config, files []string, concurrency int, bar *progressbar.ProgressBar) []fileVerdict {
	results := make([]fileVerdict, len(files))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range files {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := fileVerdict{File: path}
			data, err := os.ReadFile(path) //nolint:gosec // path is a CLI argument
			if err == nil {
				res.Verdict, err = gate.Assess(ctx, data, cfg)
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[idx] = res

			if bar != nil {
				_ = bar.Add(1)
			}
		}(i, files[i])
	}
	wg.Wait()
	return results
}

func printQualityReport(report qualityReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSCORE\tRESULT\tFACES\tREASONS")
	for _, r := range report.Photos {
		name := filepath.Base(r.File)
		if r.Verdict == nil {
			fmt.Fprintf(w, "%s\t-\tERROR\t-\t%s\n", name, r.Error)
			continue
		}
		result := "PASS"
		if !r.Verdict.Passed {
			result = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", name, r.Verdict.Score, result, r.Verdict.FaceCount, strings.Join(r.Verdict.Reasons, "; "))
	}
	_ = w.Flush()

	s := report.Summary
	fmt.Printf("\nPhotos checked: %d\n", s.Count)
	if s.Count == 0 {
		return
	}
	fmt.Printf("Passed:         %d (%.0f%%)\n", s.PassCount, s.PassRate*100)
	fmt.Printf("Average score:  %.1f\n", s.AverageScore)
	fmt.Printf("Overall score:  %d\n", s.AggregateScore)
	if len(s.ReasonCounts) > 0 {
		fmt.Println("Rejections:")
		for reason, n := range s.ReasonCounts {
			fmt.Printf("  - %s: %d\n", reason, n)
		}
	}
}

// newPhotoProgressBar creates a progress bar, or nil for JSON output.
func newPhotoProgressBar(count int, description string, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}
