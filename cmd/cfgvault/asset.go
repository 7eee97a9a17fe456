package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/assetforge/cfgvault/pkg/assets"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

func newAssetCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Manage the asset tree",
	}
	cmd.AddCommand(newAssetCreateCmd(c))
	cmd.AddCommand(newAssetListCmd(c))
	cmd.AddCommand(newAssetGetCmd(c))
	return cmd
}

func newAssetCreateCmd(c *cli) *cobra.Command {
	var (
		assetType   string
		parentID    string
		description string
		sortOrder   int
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a folder or device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseAssetType(assetType)
			if err != nil {
				return err
			}
			a := &assets.Asset{
				Name:        args[0],
				AssetType:   t,
				Description: description,
				SortOrder:   sortOrder,
			}
			if parentID != "" {
				a.ParentID = &parentID
			}
			out, err := c.engine.CreateAsset(cmd.Context(), a)
			if err != nil {
				return err
			}
			return c.printOutput(out, func(w io.Writer) { printAssets(w, []assets.Asset{*out}) })
		},
	}
	cmd.Flags().StringVarP(&assetType, "type", "t", "device", "asset type: folder or device")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent folder id")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "position among siblings")
	return cmd
}

func newAssetListCmd(c *cli) *cobra.Command {
	var parentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List root assets or the children of a folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.engine.ListAssets(cmd.Context(), parentID)
			if err != nil {
				return err
			}
			return c.printOutput(list, func(w io.Writer) { printAssets(w, list) })
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "list the children of this folder")
	return cmd
}

func newAssetGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show an asset and its path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine.GetAsset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			path, err := c.engine.AssetPath(cmd.Context(), a.ID)
			if err != nil {
				return err
			}
			view := struct {
				*assets.Asset
				Path string `json:"path"`
			}{a, path}
			return c.printOutput(view, func(w io.Writer) {
				printFields(w, [][2]string{
					{"ID", a.ID},
					{"Name", a.Name},
					{"Type", string(a.AssetType)},
					{"Path", path},
					{"Parent", deref(a.ParentID)},
					{"Created by", a.CreatedBy},
					{"Created", formatTime(a.CreatedAt)},
				})
			})
		},
	}
}

func printAssets(w io.Writer, list []assets.Asset) {
	t := newTable(w, "id", "name", "type", "order", "parent")
	for _, a := range list {
		t.row(a.ID, a.Name, string(a.AssetType), strconv.Itoa(a.SortOrder), deref(a.ParentID))
	}
	t.flush()
}

func parseAssetType(s string) (assets.AssetType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "folder":
		return assets.TypeFolder, nil
	case "device":
		return assets.TypeDevice, nil
	default:
		return "", versioning.Errorf(versioning.KindValidation, "parse asset type", "unknown asset type %q (expected folder or device)", s)
	}
}
