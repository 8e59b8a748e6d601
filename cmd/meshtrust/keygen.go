package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapetech/slskdn-mesh/pkg/identity"
	"github.com/snapetech/slskdn-mesh/pkg/pinning"
)

func keygenCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the node's mesh identity keypair",
		Long:  `Generates the Ed25519 identity keypair the node's PeerID is derived from.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			if !force {
				if existing, err := identity.Load(dataDir); err == nil {
					return fmt.Errorf("identity already exists for peer %s (use --force to replace it)", existing.PeerID().Short())
				}
			}

			id, err := identity.Generate()
			if err != nil {
				return err
			}
			if err := id.Save(dataDir); err != nil {
				return err
			}

			logger.Info("identity generated",
				zap.String("peer_id", id.PeerID().String()),
				zap.String("data_dir", dataDir))
			fmt.Println(renderIdentityPanel(id.PeerID().String(), dataDir))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}

func certCmd() *cobra.Command {
	var (
		subject       string
		validityYears int
	)

	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage the pinned transport certificate",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the long-lived self-signed transport certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cert, err := pinning.LoadOrCreate(dataDir, subject, validityYears)
			if err != nil {
				return err
			}
			pin, err := pinning.ComputeSpkiSha256(cert.Leaf)
			if err != nil {
				return err
			}

			logger.Info("transport certificate ready",
				zap.String("subject", cert.Leaf.Subject.CommonName),
				zap.String("spki_pin", pin))
			fmt.Println(renderCertPanel(cert.Leaf.Subject.CommonName, pin, cert.Leaf.NotAfter))
			return nil
		},
	}
	initCmd.Flags().StringVar(&subject, "subject", "slskdn-mesh", "certificate subject common name")
	initCmd.Flags().IntVar(&validityYears, "validity-years", 10, "certificate validity in years")

	pinCmd := &cobra.Command{
		Use:   "pin",
		Short: "Print the transport certificate's SPKI pin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := pinning.LoadOrCreate(dataDir, "slskdn-mesh", 0)
			if err != nil {
				return err
			}
			pin, err := pinning.ComputeSpkiSha256(cert.Leaf)
			if err != nil {
				return err
			}
			fmt.Println(pin)
			return nil
		},
	}

	cmd.AddCommand(initCmd, pinCmd)
	return cmd
}
