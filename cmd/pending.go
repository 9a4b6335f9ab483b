package cmd

import (
	"fmt"
	"os"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/review"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Moderate self-submitted enrollments",
	Long: `Commands for the pending enrollment queue. Submissions are stored without
quality gating; a moderator reviews the advisory quality report and accepts or
rejects each one.`,
}

var pendingSubmitCmd = &cobra.Command{
	Use:   "submit <photo>...",
	Short: "Queue an enrollment for review",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPendingSubmit,
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending enrollments",
	Args:  cobra.NoArgs,
	RunE:  runPendingList,
}

var pendingReviewCmd = &cobra.Command{
	Use:   "review <enrollment-id>",
	Short: "Show the quality report of a pending enrollment",
	Args:  cobra.ExactArgs(1),
	RunE:  runPendingReview,
}

var pendingAcceptCmd = &cobra.Command{
	Use:   "accept <enrollment-id>...",
	Short: "Accept pending enrollments",
	Long: `Accept pending enrollments. Every stored photo is enrolled without re-gating.
Accepting an enrollment that is already approved prints its recorded result.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPendingAccept,
}

var pendingAcceptAllCmd = &cobra.Command{
	Use:   "accept-all",
	Short: "Accept every pending enrollment",
	Args:  cobra.NoArgs,
	RunE:  runPendingAcceptAll,
}

var pendingRejectCmd = &cobra.Command{
	Use:   "reject <enrollment-id>",
	Short: "Reject a pending enrollment and delete its photos",
	Args:  cobra.ExactArgs(1),
	RunE:  runPendingReject,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.AddCommand(pendingSubmitCmd, pendingListCmd, pendingReviewCmd,
		pendingAcceptCmd, pendingAcceptAllCmd, pendingRejectCmd)

	pendingSubmitCmd.Flags().String("name", "", "Display name (required)")
	pendingSubmitCmd.Flags().String("id", "", "Person id (generated when empty)")
	pendingSubmitCmd.Flags().String("group", "", "Group to join on approval")
	pendingSubmitCmd.Flags().StringToString("field", nil, "Extra form field as key=value (repeatable)")

	pendingListCmd.Flags().String("status", "pending", "Filter by status (pending, approved, rejected, all)")
	pendingListCmd.Flags().Bool("json", false, "Output as JSON")
	pendingReviewCmd.Flags().Bool("json", false, "Output as JSON")
	pendingAcceptCmd.Flags().Bool("json", false, "Output as JSON")
	pendingAcceptAllCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	pendingAcceptAllCmd.Flags().Bool("json", false, "Output as JSON")
	pendingRejectCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func runPendingSubmit(cmd *cobra.Command, args []string) error {
	fields := map[string]string{}
	for k, v := range mustGetStringToString(cmd, "field") {
		fields[k] = v
	}
	fields[review.FieldName] = mustGetString(cmd, "name")

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

	p, err := a.reviewer.Submit(ctx, review.Submission{
		PersonID: mustGetString(cmd, "id"),
		Fields:   fields,
		GroupID:  mustGetString(cmd, "group"),
		Photos:   photos,
	})
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	fmt.Printf("Submitted enrollment %s for %s with %d photos\n", p.ID, fields[review.FieldName], len(p.PhotoRefs))
	return nil
}

func parseStatusFlag(s string) (database.PendingStatus, error) {
	switch database.PendingStatus(strings.ToLower(s)) {
	case "all", "":
		return "", nil
	case database.StatusPending:
		return database.StatusPending, nil
	case database.StatusApproved:
		return database.StatusApproved, nil
	case database.StatusRejected:
		return database.StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func runPendingList(cmd *cobra.Command, args []string) error {
	status, err := parseStatusFlag(mustGetString(cmd, "status"))
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.reviewer.List(ctx, status)
	if err != nil {
		return fmt.Errorf("failed to list enrollments: %w", err)
	}
	if jsonOutput {
		if list == nil {
			list = []database.PendingEnrollment{}
		}
		return outputJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No enrollments found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHOTOS\tGROUP\tSTATUS\tSUBMITTED")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", p.ID, p.Fields[review.FieldName], len(p.PhotoRefs),
			p.GroupID, p.Status, p.SubmittedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runPendingReview(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.reviewer.Review(ctx, args[0])
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}
	if jsonOutput {
		return outputJSON(report)
	}

	p := report.Enrollment
	fmt.Printf("Enrollment: %s (%s)\n", p.ID, p.Status)
	fmt.Printf("Person:     %s (%s)\n", p.Fields[review.FieldName], p.PersonID)
	if p.GroupID != "" {
		fmt.Printf("Group:      %s\n", p.GroupID)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Println()
	fmt.Fprintln(w, "PHOTO\tSCORE\tRESULT\tREASONS")
	for _, ph := range report.Photos {
		name := path.Base(ph.Ref)
		if ph.Verdict == nil {
			fmt.Fprintf(w, "%s\t-\tERROR\t%s\n", name, ph.Error)
			continue
		}
		result := "PASS"
		if !ph.Verdict.Passed {
			result = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, ph.Verdict.Score, result, strings.Join(ph.Verdict.Reasons, "; "))
	}
	_ = w.Flush()

	s := report.Summary
	fmt.Printf("\nOverall score %d, %d of %d photos pass (advisory)\n", s.AggregateScore, s.PassCount, s.Count)
	return nil
}

func runPendingAccept(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.reviewer.BulkAccept(ctx, args)
	if jsonOutput {
		return outputJSON(res)
	}
	return printBulkResult(res)
}

func runPendingAcceptAll(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.reviewer.List(ctx, database.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to list enrollments: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("Nothing to accept.")
		return nil
	}
	if !mustGetBool(cmd, "yes") && !confirmAction(fmt.Sprintf("Accept %d pending enrollments? [y/N]: ", len(list))) {
		fmt.Println("Cancelled.")
		return nil
	}

	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	res := a.reviewer.BulkAccept(ctx, ids)
	if jsonOutput {
		return outputJSON(res)
	}
	return printBulkResult(res)
}

func printBulkResult(res *review.BulkResult) error {
	for _, o := range res.Outcomes {
		if o.Error != "" {
			fmt.Printf("  FAIL %s: %s\n", o.ID, o.Error)
			continue
		}
		if o.Result == nil {
			fmt.Printf("  OK   %s\n", o.ID)
			continue
		}
		fmt.Printf("  OK   %s: %s with %d embeddings\n", o.ID, o.Result.PersonID, o.Result.EmbeddingCount)
	}
	fmt.Printf("\nAccepted %d, failed %d\n", len(res.Succeeded), len(res.Failed))
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d enrollments could not be accepted", len(res.Failed))
	}
	return nil
}

func runPendingReject(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.reviewer.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get enrollment: %w", err)
	}
	if !mustGetBool(cmd, "yes") &&
		!confirmAction(fmt.Sprintf("Reject enrollment of %s and delete %d photos? [y/N]: ", p.Fields[review.FieldName], len(p.PhotoRefs))) {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := a.reviewer.Reject(ctx, p.ID); err != nil {
		return fmt.Errorf("reject failed: %w", err)
	}
	fmt.Printf("Rejected enrollment %s\n", p.ID)
	return nil
}
