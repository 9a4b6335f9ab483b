package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <frame>",
	Short: "Identify the faces in a photo",
	Long: `Detect every face in a photo and match it against the enrolled persons,
optionally restricted to the members of one group.

Examples:
  face-attendance recognize door.jpg
  face-attendance recognize --group morning --json door.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("group", "", "Only match members of this group")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	groupID := mustGetString(cmd, "group")
	jsonOutput := mustGetBool(cmd, "json")

	frame, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read frame: %w", err)
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.recognition.Recognize(ctx, frame, groupID)
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	printRecognition(res)
	return nil
}

func printRecognition(res *recognition.Result) {
	fmt.Printf("Faces detected: %d (pool of %d embeddings, %s)\n", res.Detected, res.PoolSize, res.Elapsed.Round(time.Millisecond))
	if len(res.Faces) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Println()
	fmt.Fprintln(w, "FACE\tPERSON\tCONFIDENCE\tBOX")
	for i, m := range res.Faces {
		name := "unknown"
		if m.Matched {
			name = fmt.Sprintf("%s (%s)", m.PersonName, m.PersonID)
		}
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%.0f,%.0f-%.0f,%.0f\n", i+1, name, m.Confidence,
			m.Box.X1, m.Box.Y1, m.Box.X2, m.Box.Y2)
	}
	_ = w.Flush()

	if res.Skipped > 0 {
		fmt.Printf("\n%d faces skipped: frame budget exhausted\n", res.Skipped)
	}
}
