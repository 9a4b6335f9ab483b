package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups of persons",
	Long: `Groups restrict recognition to their members, e.g. one class or one tour.
A group can name a guide, the person responsible for it.`,
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	Args:  cobra.NoArgs,
	RunE:  runGroupList,
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupCreate,
}

var groupAddCmd = &cobra.Command{
	Use:   "add <group-id> <person-id>...",
	Short: "Add persons to a group",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGroupAdd,
}

var groupRemoveCmd = &cobra.Command{
	Use:   "remove <group-id> <person-id>...",
	Short: "Remove persons from a group",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGroupRemove,
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a group (members stay enrolled)",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupDelete,
}

func init() {
	rootCmd.AddCommand(groupCmd)
	groupCmd.AddCommand(groupListCmd, groupCreateCmd, groupAddCmd, groupRemoveCmd, groupDeleteCmd)

	groupListCmd.Flags().Bool("json", false, "Output as JSON")
	groupCreateCmd.Flags().String("id", "", "Group id (generated when empty)")
	groupCreateCmd.Flags().String("guide", "", "Person id of the group guide")
}

type groupRow struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	GuideID   string   `json:"guide_id,omitempty"`
	Members   []string `json:"members"`
	CreatedAt string   `json:"created_at"`
}

func runGroupList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	groups, err := a.store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	if jsonOutput {
		rows := make([]groupRow, len(groups))
		for i, g := range groups {
			rows[i] = groupRow{ID: g.ID, Name: g.Name, GuideID: g.GuideID, Members: g.Members,
				CreatedAt: g.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")}
			if rows[i].Members == nil {
				rows[i].Members = []string{}
			}
		}
		return outputJSON(rows)
	}
	if len(groups) == 0 {
		fmt.Println("No groups found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGUIDE\tMEMBERS")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.ID, g.Name, g.GuideID, strings.Join(g.Members, ","))
	}
	return w.Flush()
}

func runGroupCreate(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return fmt.Errorf("group name is required")
	}
	id := mustGetString(cmd, "id")
	if id == "" {
		id = uuid.NewString()
	}

	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	existing, err := a.store.GetGroup(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("group %s already exists", id)
	}
	if err := a.store.SaveGroup(ctx, &database.Group{ID: id, Name: name, GuideID: mustGetString(cmd, "guide")}); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	fmt.Printf("Created group %s (%s)\n", name, id)
	return nil
}

func runGroupAdd(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	groupID := args[0]
	for _, personID := range args[1:] {
		p, err := a.store.GetPerson(ctx, personID)
		if err != nil {
			return fmt.Errorf("failed to get person: %w", err)
		}
		if p == nil {
			return fmt.Errorf("person %s: %w", personID, database.ErrNotFound)
		}
		if err := a.store.AddMember(ctx, groupID, personID); err != nil {
			return fmt.Errorf("failed to add %s to %s: %w", personID, groupID, err)
		}
		fmt.Printf("Added %s to %s\n", p.DisplayName, groupID)
	}
	return nil
}

func runGroupRemove(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	groupID := args[0]
	for _, personID := range args[1:] {
		if err := a.store.RemoveMember(ctx, groupID, personID); err != nil {
			return fmt.Errorf("failed to remove %s from %s: %w", personID, groupID, err)
		}
		fmt.Printf("Removed %s from %s\n", personID, groupID)
	}
	return nil
}

func runGroupDelete(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteGroup(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	fmt.Printf("Deleted group %s\n", args[0])
	return nil
}
