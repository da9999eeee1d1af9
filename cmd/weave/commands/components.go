package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodeweave/nodeweave/pkg/stores"
)

func newComponentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "components",
		Short: "Inspect and register WASM components",
	}

	cmd.AddCommand(newComponentsListCommand())
	cmd.AddCommand(newComponentsInspectCommand())
	cmd.AddCommand(newComponentsRegisterCommand())

	return cmd
}

func newComponentsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List components in the components directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadRuntimeConfig()
			if err != nil {
				return err
			}
			logger, metrics, err := newTelemetry(cfg)
			if err != nil {
				return err
			}

			mgr, err := newComponentManager(ctx, cfg, logger, metrics)
			if err != nil {
				return err
			}
			defer mgr.Close(context.Background())

			if err := loadComponentsDir(ctx, mgr, cfg.ComponentsDir, logger); err != nil {
				return err
			}

			comps := mgr.List()
			if jsonOutput {
				data, err := json.MarshalIndent(comps, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(comps) == 0 {
				fmt.Println("no components loaded")
				return nil
			}
			for _, comp := range comps {
				fmt.Printf("%s@%s  id=%s  inputs=%d outputs=%d  caps=%v\n",
					comp.Metadata.Name, comp.Metadata.Version, comp.ID,
					len(comp.Metadata.Inputs), len(comp.Metadata.Outputs),
					comp.Metadata.CapabilityRequests)
			}
			return nil
		},
	}
}

func newComponentsInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name[@version]>",
		Short: "Show a component's full metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadRuntimeConfig()
			if err != nil {
				return err
			}
			logger, metrics, err := newTelemetry(cfg)
			if err != nil {
				return err
			}

			mgr, err := newComponentManager(ctx, cfg, logger, metrics)
			if err != nil {
				return err
			}
			defer mgr.Close(context.Background())

			if err := loadComponentsDir(ctx, mgr, cfg.ComponentsDir, logger); err != nil {
				return err
			}

			id, err := mgr.Resolve(args[0])
			if err != nil {
				return err
			}
			comp, err := mgr.Get(id)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(comp.Metadata, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			md := comp.Metadata
			fmt.Printf("%s@%s\n", md.Name, md.Version)
			if md.Description != "" {
				fmt.Printf("  %s\n", md.Description)
			}
			fmt.Printf("  id:       %s\n", comp.ID)
			fmt.Printf("  source:   %s\n", comp.Source)
			fmt.Printf("  category: %s\n", md.Category)
			fmt.Printf("  inputs:\n")
			for _, p := range md.Inputs {
				fmt.Printf("    %s (%s) required=%v\n", p.Name, p.Type, p.Required)
			}
			fmt.Printf("  outputs:\n")
			for _, p := range md.Outputs {
				fmt.Printf("    %s (%s)\n", p.Name, p.Type)
			}
			if len(md.CapabilityRequests) > 0 {
				fmt.Printf("  capability requests: %v\n", md.CapabilityRequests)
			}
			if md.HasResultView {
				fmt.Printf("  provides a result view\n")
			}
			return nil
		},
	}
}

func newComponentsRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register <file.wasm>",
		Short: "Validate a component and record it in the store",
		Long: `Load a WASM component, validate its exports and metadata, and persist
its registration in the store. The bytecode stays on disk; the store
carries identity and metadata only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadRuntimeConfig()
			if err != nil {
				return err
			}
			logger, metrics, err := newTelemetry(cfg)
			if err != nil {
				return err
			}

			mgr, err := newComponentManager(ctx, cfg, logger, metrics)
			if err != nil {
				return err
			}
			defer mgr.Close(context.Background())

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			id, err := mgr.LoadFromSource(ctx, data, args[0])
			if err != nil {
				return err
			}
			comp, err := mgr.Get(id)
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StorePath})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			mdJSON, err := json.Marshal(comp.Metadata)
			if err != nil {
				return err
			}
			now := time.Now()
			rec := &stores.ComponentRecord{
				ID:        comp.ID,
				Name:      comp.Metadata.Name,
				Version:   comp.Metadata.Version,
				Source:    args[0],
				Metadata:  string(mdJSON),
				SizeBytes: int64(len(data)),
				LoadedAt:  comp.LoadedAt,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := store.UpsertComponent(ctx, rec); err != nil {
				return err
			}

			fmt.Printf("registered %s@%s (id=%s)\n", comp.Metadata.Name, comp.Metadata.Version, comp.ID)
			return nil
		},
	}
}
