package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

// generator is the reconciler surface the one-shot commands use.
type generator interface {
	Regenerate(ctx context.Context) (*domain.GenerationReport, error)
	Preview(ctx context.Context) (*domain.Preview, error)
}

func newGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Regenerate the configuration once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()
			return runGenerate(cmd.Context(), a.reconciler, cmd.OutOrStdout())
		},
	}
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview [domain]",
		Short: "Print the configuration a regeneration would publish",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			var name string
			if len(args) == 1 {
				name = strings.ToLower(args[0])
			}
			return runPreview(cmd.Context(), a.reconciler, name, cmd.OutOrStdout())
		},
	}
}

func runGenerate(ctx context.Context, g generator, out io.Writer) error {
	report, err := g.Regenerate(ctx)
	if report != nil {
		printReport(out, report)
	}
	if err != nil {
		return err
	}
	if report.Generation.Status != domain.GenerationSuccess {
		return fmt.Errorf("generation %s finished with status %s", report.Generation.ID, report.Generation.Status)
	}
	return nil
}

func printReport(out io.Writer, report *domain.GenerationReport) {
	if g := report.Generation; g != nil {
		fmt.Fprintf(out, "generation %s: %s (%d files, %d written, %d removed)\n",
			g.ID, g.Status, g.FileCount, g.Written, g.Removed)
	}
	for _, d := range report.Domains {
		line := fmt.Sprintf("  %-40s %s", d.Domain, d.Status)
		if d.Reason != "" {
			line += ": " + d.Reason
		}
		fmt.Fprintln(out, line)
	}
}

var errUnknownDomain = errors.New("no such domain")

func runPreview(ctx context.Context, g generator, name string, out io.Writer) error {
	p, err := g.Preview(ctx)
	if err != nil {
		return err
	}
	if name != "" {
		p = p.ForDomain(name)
		if len(p.Domains) == 0 {
			return fmt.Errorf("%w: %s", errUnknownDomain, name)
		}
	}

	for _, f := range p.Files {
		fmt.Fprintf(out, "# %s (%s)\n%s", f.Name, f.Output, f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "# state hash %s\n", p.StateHash)
	return nil
}
