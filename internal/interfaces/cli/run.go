package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/RegScan/internal/application/scan"
	"github.com/turtacn/RegScan/internal/bootstrap"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/interfaces/ingest"
	"github.com/turtacn/RegScan/pkg/errors"
)

// loadComponents loads reference data and builds the engine. The returned
// cleanup closes any backend opened to read the reference source.
func loadComponents(ctx context.Context, cliCtx *CLIContext) (*bootstrap.Components, func(), error) {
	cfg := cliCtx.Config
	infra, err := bootstrap.Open(ctx, cfg, bootstrap.Needs{MinIO: cfg.Reference.Source == "minio"}, cliCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { infra.Close(context.Background()) }

	src, err := bootstrap.ReferenceSource(cfg, infra, cliCtx.Logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	comps, err := bootstrap.BuildComponents(ctx, cfg, src, nil, cliCtx.Logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return comps, cleanup, nil
}

func newRunCmd() *cobra.Command {
	var (
		factsPath string
		strict    bool
		publish   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine over a batch of facts",
		Long: "Decode source facts from a JSON array or JSON-lines file (\"-\" reads stdin),\n" +
			"merge, score and classify them, and print the run.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			in, closeIn, err := openInput(cmd, factsPath)
			if err != nil {
				return err
			}
			defer closeIn()

			var decOpts []ingest.Option
			if strict {
				decOpts = append(decOpts, ingest.Strict())
			}
			decoded, err := ingest.NewDecoder(decOpts...).Decode(in)
			if err != nil {
				return err
			}
			for _, rej := range decoded.Rejected {
				cliCtx.Logger.Warn("record rejected",
					logging.Int("index", rej.Index),
					logging.String("source", rej.Source),
					logging.String("reason", rej.Reason))
			}
			if decoded.Accepted == 0 {
				return errors.Newf(errors.ErrCodeFactInvalid, "no valid facts in %d records", decoded.Total)
			}

			comps, cleanup, err := loadComponents(ctx, cliCtx)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := cliCtx.Config
			var sinks []scan.Sink
			if publish {
				infra, err := bootstrap.Open(ctx, cfg, bootstrap.NeedsFor(cfg), cliCtx.Logger)
				if err != nil {
					return err
				}
				defer infra.Close(context.Background())
				if sinks, err = bootstrap.BuildSinks(ctx, cfg, infra, cliCtx.Logger); err != nil {
					return err
				}
			}

			svc, err := bootstrap.BuildScanService(cfg, comps, sinks, nil, cliCtx.Logger)
			if err != nil {
				return err
			}
			res, runErr := svc.Run(ctx, decoded.Facts)
			if res == nil {
				return runErr
			}
			if err := PrintResult(cmd, runView{res.Run}); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&factsPath, "facts", "f", "", "facts file, JSON array or JSON lines (\"-\" for stdin) [REQUIRED]")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on the first invalid record")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the run to the sinks enabled in config")
	_ = cmd.MarkFlagRequired("facts")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeBadRequest, "open facts file")
	}
	return f, func() { _ = f.Close() }, nil
}

var tierOrder = []substance.Tier{substance.TierHot, substance.TierHigh, substance.TierMid, substance.TierLow}

// runView renders a run as a summary (text), an assessment table (table) or
// the full record (json).
type runView struct {
	*substance.Run
}

func (v runView) String() string {
	s := v.Summary
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s\n", v.ID)
	fmt.Fprintf(&sb, "  facts=%d substances=%d unmatchable=%d\n", s.Facts, s.Substances, s.Unmatchable)
	fmt.Fprintf(&sb, "  conflicts=%d bridge_conflicts=%d unresolved_codes=%d no_domestic_bridge=%d\n",
		s.Conflicts, s.BridgeConflicts, s.UnresolvedCodes, s.NoDomesticBridge)
	for _, tier := range tierOrder {
		if n := s.ByTier[tier]; n > 0 {
			fmt.Fprintf(&sb, "  tier %-4s %d\n", tier, n)
		}
	}
	for _, label := range substance.ImpactLabels() {
		if n := s.ByLabel[label]; n > 0 {
			fmt.Fprintf(&sb, "  label %-22s %d\n", label, n)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (v runView) TableHeaders() []string {
	return []string{"KEY", "NAME", "ATC", "SCORE", "TIER", "LABEL"}
}

func (v runView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Assessments))
	for _, a := range v.Assessments {
		rows = append(rows, []string{
			string(a.Status.Key),
			a.Status.DisplayName,
			a.Status.ATCCode,
			strconv.Itoa(a.Score.Total),
			string(a.Score.Tier),
			string(a.Impact.Label),
		})
	}
	return rows
}
