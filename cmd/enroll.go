package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/enrollment"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <photo>...",
	Short: "Enroll a person from photo files",
	Long: `Enroll a person from photo files. Every photo goes through the quality gate;
near-duplicates count once. The person is stored when enough photos pass.

Use --no-gate to import photos that were already vetted elsewhere: they skip the
quality gate and go straight to embedding extraction.

Examples:
  # Enroll with a generated id
  face-attendance enroll --name "Jana Nováková" a.jpg b.jpg c.jpg

  # Enroll into a group with attributes
  face-attendance enroll --id jana --name "Jana Nováková" --group morning \
    --attr room=12 --attr role=guide photos/jana/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Display name (required)")
	enrollCmd.Flags().String("id", "", "Person id (generated when empty)")
	enrollCmd.Flags().String("group", "", "Add the person to this group")
	enrollCmd.Flags().StringToString("attr", nil, "Attribute as key=value (repeatable)")
	enrollCmd.Flags().Bool("no-gate", false, "Skip the quality gate")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	info := enrollment.Info{
		PersonID:    mustGetString(cmd, "id"),
		DisplayName: mustGetString(cmd, "name"),
		GroupID:     mustGetString(cmd, "group"),
		Attributes:  mustGetStringToString(cmd, "attr"),
	}
	if info.PersonID == "" {
		info.PersonID = uuid.NewString()
	}
	if err := info.Validate(); err != nil {
		return err
	}
	noGate := mustGetBool(cmd, "no-gate")
	jsonOutput := mustGetBool(cmd, "json")

	photos, err := readPhotos(args)
	if err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	bar := newPhotoProgressBar(len(photos), "Extracting embeddings", jsonOutput)
	if bar != nil {
		a.pipeline.OnProgress = enrollProgress(bar)
	}

	var res *enrollment.Result
	if noGate {
		accepted := make([]enrollment.Photo, len(photos))
		for i, data := range photos {
			accepted[i] = enrollment.Photo{Data: data}
		}
		res, err = a.pipeline.EnrollPhotos(ctx, info, accepted)
	} else {
		res, err = enrollGated(ctx, a, info, photos, args, jsonOutput)
	}
	if bar != nil {
		fmt.Println()
	}
	if err != nil {
		var need *enrollment.NeedMorePhotosError
		if errors.As(err, &need) {
			return fmt.Errorf("only %d of %d photos passed the quality gate", need.Have, need.Need)
		}
		return fmt.Errorf("enrollment failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	printEnrollResult(info, res)
	return nil
}

// enrollGated runs the photos through an upload-mode session so they are
// checked and deduplicated exactly like web uploads.
func enrollGated(ctx context.Context, a *app, info enrollment.Info, photos [][]byte, names []string, quiet bool) (*enrollment.Result, error) {
	s, err := a.sessions.Start(enrollment.ModeUpload)
	if err != nil {
		return nil, err
	}
	defer a.sessions.Remove(s.ID())

	if err := s.SetInfo(info); err != nil {
		return nil, err
	}
	for _, data := range photos {
		if _, err := s.Submit(ctx, data); err != nil {
			return nil, err
		}
	}
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}

	if !quiet {
		st := s.Status()
		for _, p := range st.Photos {
			switch {
			case p.Error != "":
				fmt.Printf("  %s: error: %s\n", filepath.Base(names[p.Index]), p.Error)
			case p.Duplicate:
				fmt.Printf("  %s: duplicate of %s\n", filepath.Base(names[p.Index]), filepath.Base(names[p.DuplicateOf]))
			case !p.Passed && p.Verdict != nil:
				fmt.Printf("  %s: rejected (score %d): %v\n", filepath.Base(names[p.Index]), p.Verdict.Score, p.Verdict.Reasons)
			}
		}
		fmt.Printf("Accepted %d of %d photos (%d required)\n", st.Accepted, len(photos), st.Required)
	}

	return a.pipeline.Enroll(ctx, s)
}

func enrollProgress(bar *progressbar.ProgressBar) func(enrollment.ProgressInfo) {
	return func(p enrollment.ProgressInfo) {
		if p.Phase != "extracting" {
			return
		}
		if bar.GetMax() != p.Total {
			bar.ChangeMax(p.Total)
		}
		_ = bar.Set(p.Current)
	}
}

func printEnrollResult(info enrollment.Info, res *enrollment.Result) {
	verb := "Added photos to"
	if res.Created {
		verb = "Enrolled"
	}
	fmt.Printf("%s %s (%s) with %d embeddings\n", verb, info.DisplayName, res.PersonID, res.EmbeddingCount)
	if res.GroupID != "" {
		fmt.Printf("Group: %s\n", res.GroupID)
	}
	if len(res.Failed) > 0 {
		fmt.Printf("\nSkipped %d photos:\n", len(res.Failed))
		for _, f := range res.Failed {
			fmt.Printf("  - %s\n", f.Error)
		}
	}
}
