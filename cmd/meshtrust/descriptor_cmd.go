package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapetech/slskdn-mesh/pkg/config"
	"github.com/snapetech/slskdn-mesh/pkg/descriptor"
	"github.com/snapetech/slskdn-mesh/pkg/identity"
	"github.com/snapetech/slskdn-mesh/pkg/pinning"
)

const descriptorFileName = "descriptor.cbor"

func descriptorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "descriptor",
		Short: "Create, inspect, and verify signed peer descriptors",
	}

	cmd.AddCommand(
		descriptorCreateCmd(),
		descriptorInspectCmd(),
		descriptorVerifyCmd(),
	)
	return cmd
}

func descriptorCreateCmd() *cobra.Command {
	var (
		endpoints []string
		seq       uint64
		lifetime  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Build and sign this node's descriptor",
		Long: `Builds a descriptor from the node's identity, transport certificate pin,
and the given endpoints, signs it, and writes the wire encoding under the
data directory. Publish it to the overlay's descriptor store with a higher
sequence number than the last one you published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			id, err := identity.Load(dataDir)
			if err != nil {
				return fmt.Errorf("no identity found, run 'meshtrust keygen' first: %w", err)
			}
			cert, err := pinning.LoadOrCreate(dataDir, "slskdn-mesh", 0)
			if err != nil {
				return err
			}
			pin, err := pinning.ComputeSpkiSha256(cert.Leaf)
			if err != nil {
				return err
			}

			now := time.Now()
			d := &descriptor.Descriptor{
				PeerID:             id.PeerID(),
				IdentityPublicKey:  id.PublicKey,
				SchemaVersion:      descriptor.SchemaVersion,
				Endpoints:          endpoints,
				ControlSigningKeys: [][]byte{id.PublicKey},
				ControlPins:        []string{pin},
				DataPins:           []string{pin},
				IssuedAt:           now.UnixMilli(),
				ExpiresAt:          now.Add(lifetime).UnixMilli(),
				DescriptorSeq:      seq,
			}

			signer := descriptor.NewSigner(cfg.DescriptorLimits(), logger)
			if err := signer.Sign(d, id.PrivateKey); err != nil {
				return err
			}

			raw, err := descriptor.Encode(d)
			if err != nil {
				return err
			}
			path := filepath.Join(dataDir, descriptorFileName)
			if err := os.WriteFile(path, raw, 0644); err != nil {
				return fmt.Errorf("failed to write descriptor: %w", err)
			}

			logger.Info("descriptor signed",
				zap.String("peer_id", d.PeerID.String()),
				zap.Uint64("descriptor_seq", d.DescriptorSeq),
				zap.Int("wire_bytes", len(raw)))
			fmt.Println(renderDescriptorPanel(d, len(raw)))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&endpoints, "endpoint", nil, "advertised endpoint (repeatable)")
	cmd.Flags().Uint64Var(&seq, "seq", 1, "descriptor sequence number")
	cmd.Flags().DurationVar(&lifetime, "lifetime", 24*time.Hour, "descriptor validity window")
	return cmd
}

func descriptorInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Decode and display a descriptor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(descriptorPath(args))
			if err != nil {
				return fmt.Errorf("failed to read descriptor: %w", err)
			}

			d, err := cfg.SizeLimits().DecodeDescriptor(raw, cfg.DescriptorLimits())
			if err != nil {
				return err
			}
			fmt.Println(renderDescriptorPanel(d, len(raw)))
			return nil
		},
	}
	return cmd
}

func descriptorVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Run a descriptor through full verification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(descriptorPath(args))
			if err != nil {
				return fmt.Errorf("failed to read descriptor: %w", err)
			}

			d, err := cfg.SizeLimits().DecodeDescriptor(raw, cfg.DescriptorLimits())
			if err != nil {
				return fmt.Errorf("descriptor rejected: %w", err)
			}

			signer := descriptor.NewSigner(cfg.DescriptorLimits(), logger)
			if !signer.Verify(d) {
				return fmt.Errorf("descriptor rejected: verification failed")
			}

			fmt.Println(okStyle.Render("descriptor verified") + " " + mutedStyle.Render(d.PeerID.Short()))
			return nil
		},
	}
	return cmd
}

func descriptorPath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return filepath.Join(dataDir, descriptorFileName)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadConfig(configFile)
	}
	return config.LoadFromEnv(), nil
}
