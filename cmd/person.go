package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage enrolled persons",
}

var personListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List enrolled persons",
	Long: `List enrolled persons with their embedding counts. An optional query filters
by name, ignoring case and diacritics ("novak" finds "Nováková").`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPersonList,
}

var personDeleteCmd = &cobra.Command{
	Use:   "delete <person-id>",
	Short: "Delete a person with all embeddings and photos",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonDelete,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personListCmd, personDeleteCmd)

	personListCmd.Flags().Bool("json", false, "Output as JSON")
	personDeleteCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

type personRow struct {
	ID             string            `json:"id"`
	DisplayName    string            `json:"display_name"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	EmbeddingCount int               `json:"embedding_count"`
	Photos         []string          `json:"photos"`
}

func runPersonList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	query := ""
	if len(args) == 1 {
		query = args[0]
	}

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
	rows := make([]personRow, 0, len(persons))
	for _, p := range persons {
		if !facematch.NameContains(p.DisplayName, query) {
			continue
		}
		rows = append(rows, personRow{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			Attributes:     p.Attributes,
			EmbeddingCount: p.EmbeddingCount,
			Photos:         p.PhotoRefs,
		})
	}

	if jsonOutput {
		return outputJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No persons found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMBEDDINGS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\n", r.ID, r.DisplayName, r.EmbeddingCount)
	}
	return w.Flush()
}

func runPersonDelete(cmd *cobra.Command, args []string) error {
	id := args[0]

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.GetPerson(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get person: %w", err)
	}
	if p == nil {
		return fmt.Errorf("person %s: %w", id, database.ErrNotFound)
	}
	if !mustGetBool(cmd, "yes") && !confirmAction(fmt.Sprintf("Delete %s (%s) and all photos? [y/N]: ", p.DisplayName, p.ID)) {
		fmt.Println("Cancelled.")
		return nil
	}

	refs, err := a.store.DeletePerson(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	removed, err := a.blobs.DeletePrefix(ctx, id+"/")
	if err != nil {
		a.log.WithError(err).WithField("person_id", id).Warn("Failed to delete photos")
	}
	fmt.Printf("Deleted %s: %d embeddings, %d photo files\n", p.DisplayName, len(refs), removed)
	return nil
}
