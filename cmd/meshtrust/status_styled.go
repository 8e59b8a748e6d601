package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/snapetech/slskdn-mesh/pkg/descriptor"
	"github.com/snapetech/slskdn-mesh/pkg/identity"
	"github.com/snapetech/slskdn-mesh/pkg/pinning"
	"github.com/snapetech/slskdn-mesh/pkg/utils"
)

// Style definitions
var (
	primaryColor = lipgloss.Color("#8BE9FD") // Cyan
	accentColor  = lipgloss.Color("#50FA7B") // Green
	dangerColor  = lipgloss.Color("#FF5555") // Red
	mutedColor   = lipgloss.Color("#6272A4") // Comment
	fgColor      = lipgloss.Color("#F8F8F2") // Foreground

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(accentColor).
		Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

func renderPanel(title string, rows [][2]string) string {
	content := ""
	for _, row := range rows {
		content += labelStyle.Render(row[0]) + valueStyle.Render(row[1]) + "\n"
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title), content))
}

func renderIdentityPanel(peerID, dir string) string {
	return renderPanel("Mesh Identity", [][2]string{
		{"Peer ID", peerID},
		{"Key Dir", dir},
	})
}

func renderCertPanel(subject, pin string, notAfter time.Time) string {
	return renderPanel("Transport Certificate", [][2]string{
		{"Subject", subject},
		{"SPKI Pin", pin},
		{"Expires", notAfter.Format(time.RFC3339)},
	})
}

func renderDescriptorPanel(d *descriptor.Descriptor, wireBytes int) string {
	rows := [][2]string{
		{"Peer ID", d.PeerID.String()},
		{"Sequence", fmt.Sprintf("%d", d.DescriptorSeq)},
		{"Schema", fmt.Sprintf("v%d", d.SchemaVersion)},
		{"Issued", time.UnixMilli(d.IssuedAt).Format(time.RFC3339)},
		{"Expires", time.UnixMilli(d.ExpiresAt).Format(time.RFC3339)},
		{"Endpoints", fmt.Sprintf("%d", len(d.Endpoints))},
		{"Signing Keys", fmt.Sprintf("%d", len(d.ControlSigningKeys))},
		{"Control Pins", fmt.Sprintf("%d", len(d.ControlPins))},
		{"Data Pins", fmt.Sprintf("%d", len(d.DataPins))},
		{"Wire Size", utils.FormatDataSize(int64(wireBytes))},
	}
	return renderPanel("Peer Descriptor", rows)
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the node's identity, certificate, and limit configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if id, err := identity.Load(dataDir); err == nil {
				fmt.Println(renderIdentityPanel(id.PeerID().String(), dataDir))
			} else {
				fmt.Println(badStyle.Render("no identity") + mutedStyle.Render(" (run 'meshtrust keygen')"))
			}

			if cert, err := pinning.LoadOrCreate(dataDir, "slskdn-mesh", 0); err == nil {
				if pin, err := pinning.ComputeSpkiSha256(cert.Leaf); err == nil {
					fmt.Println(renderCertPanel(cert.Leaf.Subject.CommonName, pin, cert.Leaf.NotAfter))
				}
			}

			limits := cfg.DescriptorLimits()
			sizes := cfg.SizeLimits()
			replayOpts := cfg.ReplayOptions()
			rateOpts := cfg.RateLimitOptions()

			t := table.New().
				Border(lipgloss.RoundedBorder()).
				BorderStyle(lipgloss.NewStyle().Foreground(primaryColor)).
				Headers("Limit", "Value").
				Row("Envelope ceiling", utils.FormatDataSize(int64(sizes.MaxEnvelopeBytes))).
				Row("Descriptor ceiling", utils.FormatDataSize(int64(sizes.MaxDescriptorBytes))).
				Row("Max endpoints", fmt.Sprintf("%d", limits.MaxEndpoints)).
				Row("Max signing keys", fmt.Sprintf("%d", limits.MaxSigningKeys)).
				Row("Max pins", fmt.Sprintf("%d", limits.MaxPins)).
				Row("Descriptor lifetime", limits.MaxLifetime.String()).
				Row("Replay skew", replayOpts.MaxSkew.String()).
				Row("Replay retention", replayOpts.Retention.String()).
				Row("Pre-auth quota", fmt.Sprintf("%d / %s", rateOpts.PreAuthLimit, rateOpts.Window)).
				Row("Post-auth quota", fmt.Sprintf("%d / %s", rateOpts.PostAuthLimit, rateOpts.Window))

			fmt.Println(t.Render())
			fmt.Println(mutedStyle.Render("descriptor file: " + filepath.Join(dataDir, descriptorFileName)))
			return nil
		},
	}
	return cmd
}
