package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every person, embedding, group and pending enrollment",
	Long: `Wipe the store and delete every stored photo. This cannot be undone.

Example:
  face-attendance clear --yes`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

// photoOwners returns every person id that may own stored photos.
func photoOwners(persons []database.PersonSummary, pending []database.PendingEnrollment) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range persons {
		if !seen[p.ID] {
			seen[p.ID] = true
			ids = append(ids, p.ID)
		}
	}
	for _, p := range pending {
		if !seen[p.PersonID] {
			seen[p.PersonID] = true
			ids = append(ids, p.PersonID)
		}
	}
	return ids
}

func runClear(cmd *cobra.Command, args []string) error {
	skipConfirm := mustGetBool(cmd, "yes")

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	persons, err := a.store.ListPersons(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persons: %w", err)
	}
	pending, err := a.store.ListPending(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list pending enrollments: %w", err)
	}
	embeddings, err := a.store.CountEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}

	fmt.Printf("Persons: %d, embeddings: %d, pending enrollments: %d\n", len(persons), embeddings, len(pending))
	if !skipConfirm && !confirmAction("Delete everything? [y/N]: ") {
		fmt.Println("Cancelled.")
		return nil
	}

	photos := 0
	for _, id := range photoOwners(persons, pending) {
		n, err := a.blobs.DeletePrefix(ctx, id+"/")
		if err != nil {
			return fmt.Errorf("failed to delete photos of %s: %w", id, err)
		}
		photos += n
	}
	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	fmt.Printf("Cleared store and deleted %d photo files\n", photos)
	return nil
}
