package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/models"
)

var (
	catName        string
	catPattern     string
	catProtection  string
	catKind        string
	catDescription string
)

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Manage categories",
	Long: `Categories map path patterns to protection levels (editable,
protected, immutable). A nested category may never be less protected
than the category it sits in.`,
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Define a category",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		cat := models.Category{
			Name:        catName,
			Pattern:     args[0],
			Kind:        models.CategoryKind(catKind),
			Description: catDescription,
		}
		if catProtection != "" {
			level, err := models.ParseProtectionLevel(catProtection)
			if err != nil {
				return err
			}
			cat.Protection = level
		}
		if cat.Kind != models.KindFiles && cat.Kind != models.KindTools {
			return fmt.Errorf("invalid category kind %q (want files or tools)", catKind)
		}
		saved, err := t.DefineCategory(scope(), cat)
		if err != nil {
			return err
		}
		fmt.Printf("Defined category %s (%s, %s)\n", saved.Name, saved.Pattern, saved.Protection)
		return nil
	}),
}

var categoryUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Change a category's pattern, protection or description",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		cats, err := t.Categories()
		if err != nil {
			return err
		}
		var cat *models.Category
		for i := range cats {
			if cats[i].Name == args[0] {
				cat = &cats[i]
				break
			}
		}
		if cat == nil {
			return fmt.Errorf("category %q not found", args[0])
		}

		flags := cmd.Flags()
		if flags.Changed("pattern") {
			cat.Pattern = catPattern
		}
		if flags.Changed("protection") {
			level, err := models.ParseProtectionLevel(catProtection)
			if err != nil {
				return err
			}
			cat.Protection = level
		}
		cat.ID = 0
		if flags.Changed("description") {
			cat.Description = catDescription
		}
		saved, err := t.DefineCategory(scope(), *cat)
		if err != nil {
			return err
		}
		fmt.Printf("Updated category %s (%s, %s)\n", saved.Name, saved.Pattern, saved.Protection)
		return nil
	}),
}

var categoryRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a category",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		removed, err := t.RemoveCategory(scope(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("category %q not found in the %s database", args[0], scope())
		}
		fmt.Printf("Removed category %s\n", args[0])
		return nil
	}),
}

var categoryLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List categories in effect",
	Args:  cobra.NoArgs,
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		cats, err := t.Categories()
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(cats)
		}
		rows := make([][]string, 0, len(cats))
		for _, c := range cats {
			rows = append(rows, []string{c.Name, c.Pattern, string(c.Protection), string(c.Kind), truncate(c.Description, 40)})
		}
		printTable([]string{"Name", "Pattern", "Protection", "Kind", "Description"}, rows)
		return nil
	}),
}

var categoryClassifyCmd = &cobra.Command{
	Use:   "classify <path>",
	Short: "Show the protection level of a path",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		c, err := t.Classify(args[0])
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(c)
		}
		fmt.Printf("%s: %s", c.Path, c.Protection)
		if len(c.Matches) > 0 {
			fmt.Printf(" (%s)", strings.Join(c.Matches, ", "))
		}
		fmt.Println()
		return nil
	}),
}

func init() {
	categoryAddCmd.Flags().StringVar(&catName, "name", "", "Category name (default: last literal directory of the pattern)")
	categoryAddCmd.Flags().StringVarP(&catProtection, "protection", "p", "editable", "Protection level: editable, protected, immutable")
	categoryAddCmd.Flags().StringVar(&catKind, "kind", string(models.KindFiles), "Category kind: files or tools")
	categoryAddCmd.Flags().StringVar(&catDescription, "description", "", "Description")
	scopeFlag(categoryAddCmd)

	categoryUpdateCmd.Flags().StringVar(&catPattern, "pattern", "", "New pattern")
	categoryUpdateCmd.Flags().StringVarP(&catProtection, "protection", "p", "", "New protection level")
	categoryUpdateCmd.Flags().StringVar(&catDescription, "description", "", "New description")
	scopeFlag(categoryUpdateCmd)

	scopeFlag(categoryRmCmd)

	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryUpdateCmd)
	categoryCmd.AddCommand(categoryRmCmd)
	categoryCmd.AddCommand(categoryLsCmd)
	categoryCmd.AddCommand(categoryClassifyCmd)
}
