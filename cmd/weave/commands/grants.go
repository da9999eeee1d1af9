package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/policy"
	"github.com/nodeweave/nodeweave/pkg/stores"
)

func newGrantsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Manage capability grants",
		Long: `Manage persistent capability grants.

A grant binds one capability set to one node. Grants pass the policy
gate when created and are revoked by deletion; a revoked node falls
back to the no-capability sandbox.`,
	}

	cmd.AddCommand(newGrantsListCommand())
	cmd.AddCommand(newGrantsCreateCommand())
	cmd.AddCommand(newGrantsRevokeCommand())

	return cmd
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StorePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newGrantsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			grants, err := store.ListGrants(ctx, 100, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(grants, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(grants) == 0 {
				fmt.Println("no grants")
				return nil
			}
			for _, g := range grants {
				fmt.Printf("%s  node=%s kind=%s paths=%s hosts=%s scope=%q\n",
					g.ID, g.NodeID, g.Kind, g.Paths, g.Hosts, g.Scope)
			}
			return nil
		},
	}
}

func newGrantsCreateCommand() *cobra.Command {
	var (
		nodeID     string
		kind       string
		paths      []string
		hosts      []string
		scope      string
		skipPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a capability grant for a node",
		Example: `  # Grant read access to /data
  weave grants create --node reader --kind file-read --path /data --scope "read input files"

  # Grant network access to one host
  weave grants create --node fetcher --kind network --host api.example.com --scope "poll weather"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			set := capability.Set{
				Kind:  capability.SetKind(kind),
				Paths: paths,
				Hosts: hosts,
			}
			if err := set.Validate(); err != nil {
				return err
			}

			if !skipPolicy {
				cfg, err := loadRuntimeConfig()
				if err != nil {
					return err
				}
				logger, _, err := newTelemetry(cfg)
				if err != nil {
					return err
				}
				pe, err := policy.NewEngine(logger.Zerolog())
				if err != nil {
					return err
				}
				if err := pe.CheckGrant(ctx, &policy.GrantRequest{NodeID: nodeID, Set: set}); err != nil {
					return err
				}
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			pathsJSON, err := json.Marshal(set.Paths)
			if err != nil {
				return err
			}
			hostsJSON, err := json.Marshal(set.Hosts)
			if err != nil {
				return err
			}
			rec := &stores.GrantRecord{
				ID:        uuid.New().String(),
				NodeID:    nodeID,
				Kind:      string(set.Kind),
				Paths:     string(pathsJSON),
				Hosts:     string(hostsJSON),
				Scope:     scope,
				CreatedAt: time.Now(),
			}
			if err := store.CreateGrant(ctx, rec); err != nil {
				return err
			}

			fmt.Printf("granted %s to node %s (id=%s, risk=%s)\n",
				set.Kind, nodeID, rec.ID, set.MaxRisk())
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "node ID the grant binds to")
	cmd.Flags().StringVar(&kind, "kind", "", "capability kind (none, file-read, file-write, file-read-write, network, full)")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "absolute filesystem paths (file kinds)")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "allowed hosts (network kind)")
	cmd.Flags().StringVar(&scope, "scope", "", "human-readable description of what is approved")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "bypass the grant policy gate")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

func newGrantsRevokeCommand() *cobra.Command {
	var nodeID string

	cmd := &cobra.Command{
		Use:   "revoke [grant-id]",
		Short: "Revoke a grant by deleting it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) == 0 && nodeID == "" {
				return fmt.Errorf("either a grant ID or --node is required")
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				if err := store.DeleteGrant(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("revoked grant %s\n", args[0])
				return nil
			}

			deleted, err := store.DeleteGrantsForNode(ctx, nodeID)
			if err != nil {
				return err
			}
			fmt.Printf("revoked %d grant(s) for node %s\n", deleted, nodeID)
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "revoke all grants for this node")

	return cmd
}
