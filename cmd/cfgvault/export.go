package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/assetforge/cfgvault/pkg/audit"
)

func newExportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export VERSION_ID PATH",
		Short: "Write a verified copy of a version to disk",
		Long: `export decrypts a version, writes it next to PATH, reads the file
back and checks its size and content hash before moving it into place.
A failed check leaves nothing behind.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.engine.Export(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.printOutput(res, func(w io.Writer) {
				fmt.Fprintf(w, "Exported %s (%d bytes) to %s\n", res.VersionNumber, res.Bytes, res.Path)
			})
		},
	}
}

func newAuditCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune the audit log",
	}
	cmd.AddCommand(newAuditListCmd(c))
	cmd.AddCommand(newAuditPruneCmd(c))
	return cmd
}

func newAuditListCmd(c *cli) *cobra.Command {
	var (
		pageSize  int
		pageToken string
	)
	cmd := &cobra.Command{
		Use:   "list ASSET_ID",
		Short: "List audit events for an asset, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, next, err := c.engine.AuditLog(cmd.Context(), args[0], pageSize, pageToken)
			if err != nil {
				return err
			}
			page := struct {
				Items         []audit.Event `json:"items"`
				NextPageToken string        `json:"nextPageToken,omitempty"`
			}{events, next}
			return c.printOutput(page, func(w io.Writer) {
				t := newTable(w, "when", "event", "actor", "version", "reason")
				for _, e := range events {
					t.row(formatTime(e.CreatedAt), e.EventType, e.Actor, e.VersionID, truncate(e.Reason, 40))
				}
				t.flush()
				if next != "" {
					fmt.Fprintf(w, "\nNext page: --page-token %s\n", next)
				}
			})
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "events per page (max 100)")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "token from a previous page")
	return cmd
}

func newAuditPruneCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete audit events past the retention window (administrators)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.engine.PruneAudit(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Deleted %d audit events older than %d days\n", n, c.cfg.Audit.RetentionDays)
			return nil
		},
	}
}
