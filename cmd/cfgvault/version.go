package main

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/assetforge/cfgvault/pkg/versioning"
)

func newVersionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Store, inspect and promote configuration versions",
	}
	cmd.AddCommand(newVersionStoreCmd(c))
	cmd.AddCommand(newVersionGetCmd(c))
	cmd.AddCommand(newVersionListCmd(c))
	cmd.AddCommand(newVersionLatestCmd(c))
	cmd.AddCommand(newVersionGoldenCmd(c))
	cmd.AddCommand(newVersionContentCmd(c))
	cmd.AddCommand(newVersionTransitionCmd(c))
	cmd.AddCommand(newVersionReasonCmd(c, "promote", "Promote an Approved version to Golden (administrators)",
		func(ctx context.Context, id, reason string) (*versioning.Version, error) {
			return c.engine.PromoteToGolden(ctx, id, reason)
		}))
	cmd.AddCommand(newVersionReasonCmd(c, "archive", "Archive a version",
		func(ctx context.Context, id, reason string) (*versioning.Version, error) {
			return c.engine.Archive(ctx, id, reason)
		}))
	cmd.AddCommand(newVersionReasonCmd(c, "restore", "Return an Archived version to Draft (administrators)",
		func(ctx context.Context, id, reason string) (*versioning.Version, error) {
			return c.engine.Restore(ctx, id, reason)
		}))
	cmd.AddCommand(newVersionHistoryCmd(c))
	cmd.AddCommand(newVersionEligibleCmd(c))
	return cmd
}

func newVersionStoreCmd(c *cli) *cobra.Command {
	var (
		file     string
		fileName string
		notes    string
	)
	cmd := &cobra.Command{
		Use:   "store ASSET_ID",
		Short: "Store a file as the asset's next Draft version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := c.readInput(file)
			if err != nil {
				return err
			}
			if fileName == "" && file != "-" {
				fileName = filepath.Base(file)
			}
			v, err := c.engine.StoreVersion(cmd.Context(), versioning.StoreRequest{
				AssetID:  args[0],
				FileName: fileName,
				Content:  content,
				Notes:    notes,
			})
			if err != nil {
				return err
			}
			return c.printOutput(v, func(w io.Writer) { printVersions(w, []versioning.Version{*v}) })
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to store, or - for stdin")
	cmd.Flags().StringVar(&fileName, "name", "", "recorded file name (default: base name of --file)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newVersionGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get VERSION_ID",
		Short: "Show version metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.engine.GetVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printOutput(v, func(w io.Writer) { printVersionDetail(w, v) })
		},
	}
}

func newVersionListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list ASSET_ID",
		Short: "List an asset's versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.engine.ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printOutput(list, func(w io.Writer) { printVersions(w, list) })
		},
	}
}

func newVersionLatestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "latest ASSET_ID",
		Short: "Show an asset's newest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.engine.LatestVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printOutput(v, func(w io.Writer) { printVersionDetail(w, v) })
		},
	}
}

func newVersionGoldenCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "golden ASSET_ID",
		Short: "Show an asset's Golden version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.engine.GoldenVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if v == nil {
				return versioning.Errorf(versioning.KindNotFound, "golden version", "asset %s has no Golden version", args[0])
			}
			return c.printOutput(v, func(w io.Writer) { printVersionDetail(w, v) })
		},
	}
}

func newVersionContentCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "content VERSION_ID",
		Short: "Write a version's verified content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := c.engine.Content(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = c.out.Write(content)
			return err
		},
	}
}

func newVersionTransitionCmd(c *cli) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition VERSION_ID STATUS",
		Short: "Move a version to Draft, Silver, Approved or Archived",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := versioning.ParseStatus(args[1])
			if err != nil {
				return err
			}
			v, err := c.engine.Transition(cmd.Context(), args[0], to, reason)
			if err != nil {
				return err
			}
			return c.printOutput(v, func(w io.Writer) { printVersions(w, []versioning.Version{*v}) })
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the status history")
	return cmd
}

// versionAction is a status change that takes a reason.
type versionAction func(ctx context.Context, versionID, reason string) (*versioning.Version, error)

func newVersionReasonCmd(c *cli, name, short string, action versionAction) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   name + " VERSION_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := action(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return c.printOutput(v, func(w io.Writer) { printVersions(w, []versioning.Version{*v}) })
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the status history")
	return cmd
}

func newVersionHistoryCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "history VERSION_ID",
		Short: "Show a version's status changes, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := c.engine.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printOutput(changes, func(w io.Writer) {
				t := newTable(w, "when", "from", "to", "by", "reason")
				for _, ch := range changes {
					from := "-"
					if ch.OldStatus != nil {
						from = ch.OldStatus.String()
					}
					t.row(formatTime(ch.CreatedAt), from, ch.NewStatus.String(), ch.ChangedBy, truncate(deref(ch.Reason), 60))
				}
				t.flush()
			})
		},
	}
}

func newVersionEligibleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "eligible VERSION_ID",
		Short: "Show which transitions the acting user may make",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			el, err := c.engine.Eligible(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printOutput(el, func(w io.Writer) {
				targets := make([]string, 0, len(el.Transitions))
				for _, s := range el.Transitions {
					targets = append(targets, s.String())
				}
				if len(targets) == 0 {
					targets = append(targets, "-")
				}
				printFields(w, [][2]string{
					{"Status", el.Status.String()},
					{"Role", el.Role.String()},
					{"Transitions", strings.Join(targets, ", ")},
					{"Can promote", strconv.FormatBool(el.CanPromote)},
				})
			})
		},
	}
}

func printVersions(w io.Writer, list []versioning.Version) {
	t := newTable(w, "id", "version", "status", "file", "size", "author", "created")
	for _, v := range list {
		t.row(v.ID, v.VersionNumber, v.Status.String(), v.FileName,
			strconv.FormatInt(v.PlaintextSize, 10), v.Author, formatTime(v.CreatedAt))
	}
	t.flush()
}

func printVersionDetail(w io.Writer, v *versioning.Version) {
	changed := "-"
	if v.StatusChangedAt != nil {
		changed = formatTime(*v.StatusChangedAt) + " by " + deref(v.StatusChangedBy)
	}
	printFields(w, [][2]string{
		{"ID", v.ID},
		{"Asset", v.AssetID},
		{"Version", v.VersionNumber},
		{"Status", v.Status.String()},
		{"Status changed", changed},
		{"File", v.FileName},
		{"Size", strconv.FormatInt(v.PlaintextSize, 10)},
		{"Compression", v.Compression.String()},
		{"Content hash", v.ContentHash},
		{"Author", v.Author},
		{"Notes", v.Notes},
		{"Created", formatTime(v.CreatedAt)},
	})
}
