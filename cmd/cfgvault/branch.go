package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/assetforge/cfgvault/pkg/branching"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

func newBranchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "branch",
		Aliases: []string{"br"},
		Short:   "Work on configuration changes apart from the main line",
	}
	cmd.AddCommand(newBranchCreateCmd(c))
	cmd.AddCommand(newBranchImportCmd(c))
	cmd.AddCommand(newBranchPromoteCmd(c))
	cmd.AddCommand(newBranchCompareCmd(c))
	cmd.AddCommand(newBranchListCmd(c))
	cmd.AddCommand(newBranchVersionsCmd(c))
	cmd.AddCommand(newBranchDeleteCmd(c))
	return cmd
}

func newBranchCreateCmd(c *cli) *cobra.Command {
	var (
		parent      string
		description string
	)
	cmd := &cobra.Command{
		Use:   "create ASSET_ID NAME",
		Short: "Create a branch from a main-line version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.engine.CreateBranch(cmd.Context(), branching.CreateRequest{
				AssetID:         args[0],
				Name:            args[1],
				ParentVersionID: parent,
				Description:     description,
			})
			if err != nil {
				return err
			}
			return c.printOutput(b, func(w io.Writer) { printBranches(w, []branching.Branch{*b}) })
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent version id")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}

func newBranchImportCmd(c *cli) *cobra.Command {
	var (
		file     string
		fileName string
		notes    string
	)
	cmd := &cobra.Command{
		Use:   "import BRANCH_ID",
		Short: "Add a file as the branch's next version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := c.readInput(file)
			if err != nil {
				return err
			}
			bv, err := c.engine.ImportToBranch(cmd.Context(), branching.ImportRequest{
				BranchID: args[0],
				Content:  content,
				FileName: fileName,
				Notes:    notes,
			})
			if err != nil {
				return err
			}
			return c.printOutput(bv, func(w io.Writer) { printBranchVersions(w, []branching.BranchVersion{*bv}) })
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to import, or - for stdin")
	cmd.Flags().StringVar(&fileName, "name", "", "recorded file name (default: the parent version's)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newBranchPromoteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "promote BRANCH_ID",
		Short: "Copy the branch's latest version to the main line as Silver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.engine.PromoteBranch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printOutput(v, func(w io.Writer) { printVersions(w, []versioning.Version{*v}) })
		},
	}
}

func newBranchCompareCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "compare BRANCH_ID LEFT_VERSION_ID RIGHT_VERSION_ID",
		Short: "Line-by-line diff of two versions in a branch",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			diff, err := c.engine.CompareBranch(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(c.out, diff)
			return err
		},
	}
}

func newBranchListCmd(c *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list ASSET_ID",
		Short: "List an asset's branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.engine.ListBranches(cmd.Context(), args[0], all)
			if err != nil {
				return err
			}
			return c.printOutput(list, func(w io.Writer) { printBranches(w, list) })
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include deleted branches")
	return cmd
}

func newBranchVersionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "versions BRANCH_ID",
		Short: "List a branch's versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.engine.BranchVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printOutput(list, func(w io.Writer) { printBranchVersions(w, list) })
		},
	}
}

func newBranchDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete BRANCH_ID",
		Short: "Delete a branch (creator or administrator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.engine.DeleteBranch(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Branch %s deleted\n", args[0])
			return nil
		},
	}
}

func printBranches(w io.Writer, list []branching.Branch) {
	t := newTable(w, "id", "name", "latest", "active", "created by", "created")
	for _, b := range list {
		t.row(b.ID, b.Name, deref(b.LatestBranchVersion), strconv.FormatBool(b.IsActive), b.CreatedBy, formatTime(b.CreatedAt))
	}
	t.flush()
}

func printBranchVersions(w io.Writer, list []branching.BranchVersion) {
	t := newTable(w, "branch version", "version id", "latest", "created")
	for _, bv := range list {
		latest := ""
		if bv.IsLatest {
			latest = "*"
		}
		t.row(bv.BranchVersionNumber, bv.VersionID, latest, formatTime(bv.CreatedAt))
	}
	t.flush()
}
