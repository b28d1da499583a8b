package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/SeedTrace/internal/ledger"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

func newAssetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Inspect and mutate tracked assets",
	}
	cmd.AddCommand(
		newAssetGetCmd(),
		newAssetHistoryCmd(),
		newAssetOwnerCmd(),
		newAssetMintCmd(),
		newAssetAdvanceCmd(),
		newAssetUpdateCmd(),
		newAssetTransferCmd(),
		newAssetApproveCmd(),
	)
	return cmd
}

func newAssetGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get TOKEN_ID",
		Short: "Show an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			c, _ := newClient(false)
			asset, err := c.Asset(cmd.Context(), handle)
			if err != nil {
				return err
			}
			return printJSON(cmd, asset)
		},
	}
}

func newAssetHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history TOKEN_ID",
		Short: "Show the stage transition log of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			c, _ := newClient(false)
			history, err := c.History(cmd.Context(), handle)
			if err != nil {
				return err
			}
			return printJSON(cmd, history)
		},
	}
}

func newAssetOwnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "owner TOKEN_ID",
		Short: "Show the owner of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			c, _ := newClient(false)
			owner, err := c.Owner(cmd.Context(), handle)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), owner)
			return nil
		},
	}
}

func newAssetMintCmd() *cobra.Command {
	var (
		to    string
		d     ledger.Descriptive
		ext   string
		attrs []string
	)
	cmd := &cobra.Command{
		Use:   "mint TOKEN_ID",
		Short: "Mint a new asset at the seed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("external-url") {
				d.ExternalURL = &ext
			}
			if d.Attributes, err = parseAttributes(attrs); err != nil {
				return err
			}
			c, _ := newClient(false)
			asset, err := c.Mint(cmd.Context(), model.Identity(to), handle, d)
			if err != nil {
				return err
			}
			return printJSON(cmd, asset)
		},
	}
	f := cmd.Flags()
	f.StringVar(&to, "to", "", "Owner of the new asset")
	f.StringVar(&d.Name, "name", "", "Display name")
	f.StringVar(&d.Description, "description", "", "Description")
	f.StringVar(&d.Image, "image", "", "Image URL")
	f.StringVar(&ext, "external-url", "", "External URL")
	f.StringArrayVar(&attrs, "attr", nil, "Attribute as trait=value (repeatable)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newAssetAdvanceCmd() *cobra.Command {
	var (
		location    string
		temperature int32
		humidity    uint32
		note        string
	)
	cmd := &cobra.Command{
		Use:   "advance TOKEN_ID STAGE",
		Short: "Move an asset to its next stage",
		Long:  "STAGE is a stage name (" + strings.Join(stageNames(), ", ") + ") or its number.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			target, err := model.ParseStage(args[1])
			if err != nil {
				return err
			}
			var env ledger.Environment
			var notes *string
			f := cmd.Flags()
			if f.Changed("location") {
				env.Location = &location
			}
			if f.Changed("temperature") {
				env.Temperature = &temperature
			}
			if f.Changed("humidity") {
				env.Humidity = &humidity
			}
			if f.Changed("note") {
				notes = &note
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			asset, err := c.Advance(cmd.Context(), handle, target, env, notes)
			if err != nil {
				return err
			}
			return printJSON(cmd, asset)
		},
	}
	f := cmd.Flags()
	f.StringVar(&location, "location", "", "Location reading")
	f.Int32Var(&temperature, "temperature", 0, "Temperature reading")
	f.Uint32Var(&humidity, "humidity", 0, "Humidity reading")
	f.StringVar(&note, "note", "", "Note stored with the transition")
	return cmd
}

func newAssetUpdateCmd() *cobra.Command {
	var (
		location, lab, name, description, image, ext string
		temperature                                  int32
		humidity                                     uint32
		attrs, clears                                []string
	)
	cmd := &cobra.Command{
		Use:   "update TOKEN_ID",
		Short: "Change selected metadata fields of an asset",
		Long: `Only the flags given are sent; every other field keeps its value.
--clear erases fields by name: location, temperature, humidity, labAnalysis,
name, description, image, externalUrl, attributes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			var p ledger.Patch
			f := cmd.Flags()
			if f.Changed("location") {
				p.Location = ledger.Set(location)
			}
			if f.Changed("temperature") {
				p.Temperature = ledger.Set(temperature)
			}
			if f.Changed("humidity") {
				p.Humidity = ledger.Set(humidity)
			}
			if f.Changed("lab-analysis") {
				p.LabAnalysis = ledger.Set(lab)
			}
			if f.Changed("name") {
				p.Name = ledger.Set(name)
			}
			if f.Changed("description") {
				p.Description = ledger.Set(description)
			}
			if f.Changed("image") {
				p.Image = ledger.Set(image)
			}
			if f.Changed("external-url") {
				p.ExternalURL = ledger.Set(ext)
			}
			if f.Changed("attr") {
				parsed, err := parseAttributes(attrs)
				if err != nil {
					return err
				}
				p.Attributes = ledger.Set(parsed)
			}
			if err := applyClears(&p, clears); err != nil {
				return err
			}
			if p.Empty() {
				return fmt.Errorf("nothing to update")
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			asset, err := c.UpdateMetadata(cmd.Context(), handle, p)
			if err != nil {
				return err
			}
			return printJSON(cmd, asset)
		},
	}
	f := cmd.Flags()
	f.StringVar(&location, "location", "", "Location")
	f.Int32Var(&temperature, "temperature", 0, "Temperature")
	f.Uint32Var(&humidity, "humidity", 0, "Humidity")
	f.StringVar(&lab, "lab-analysis", "", "Lab analysis text")
	f.StringVar(&name, "name", "", "Display name")
	f.StringVar(&description, "description", "", "Description")
	f.StringVar(&image, "image", "", "Image URL")
	f.StringVar(&ext, "external-url", "", "External URL")
	f.StringArrayVar(&attrs, "attr", nil, "Attribute as trait=value (repeatable, replaces all)")
	f.StringSliceVar(&clears, "clear", nil, "Fields to erase")
	return cmd
}

func newAssetTransferCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "transfer TOKEN_ID",
		Short: "Transfer an asset to a whitelisted account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			if from == "" {
				from = opts.identity
			}
			asset, err := c.Transfer(cmd.Context(), handle, model.Identity(from), model.Identity(to))
			if err != nil {
				return err
			}
			return printJSON(cmd, asset)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Current owner (defaults to --as)")
	cmd.Flags().StringVar(&to, "to", "", "Recipient")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newAssetApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve TOKEN_ID SPENDER",
		Short: "Let SPENDER transfer an asset you own (empty SPENDER withdraws)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			asset, err := c.Approve(cmd.Context(), handle, model.Identity(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd, asset)
		},
	}
}

func parseAttributes(raw []string) ([]model.Attribute, error) {
	out := make([]model.Attribute, 0, len(raw))
	for _, kv := range raw {
		trait, value, ok := strings.Cut(kv, "=")
		if !ok || trait == "" {
			return nil, fmt.Errorf("attribute %q is not trait=value", kv)
		}
		out = append(out, model.Attribute{TraitType: trait, Value: value})
	}
	return out, nil
}

func applyClears(p *ledger.Patch, fields []string) error {
	for _, field := range fields {
		switch strings.ToLower(strings.TrimSpace(field)) {
		case "location":
			p.Location = ledger.Clear[string]()
		case "temperature":
			p.Temperature = ledger.Clear[int32]()
		case "humidity":
			p.Humidity = ledger.Clear[uint32]()
		case "labanalysis", "lab-analysis":
			p.LabAnalysis = ledger.Clear[string]()
		case "name":
			p.Name = ledger.Clear[string]()
		case "description":
			p.Description = ledger.Clear[string]()
		case "image":
			p.Image = ledger.Clear[string]()
		case "externalurl", "external-url":
			p.ExternalURL = ledger.Clear[string]()
		case "attributes":
			p.Attributes = ledger.Clear[[]model.Attribute]()
		default:
			return fmt.Errorf("unknown field %q", field)
		}
	}
	return nil
}

func stageNames() []string {
	var names []string
	for s := model.StageSeed; s.Valid(); s++ {
		names = append(names, s.String())
	}
	return names
}
