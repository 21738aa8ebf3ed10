package cli

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/RegScan/internal/bootstrap"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

// keyRows is a tabular result.
type keyRows struct {
	headers []string
	rows    [][]string
}

func (k keyRows) TableHeaders() []string { return k.headers }
func (k keyRows) TableRows() [][]string  { return k.rows }

// MarshalJSON encodes the rows as objects keyed by lower-cased header.
func (k keyRows) MarshalJSON() ([]byte, error) {
	out := make([]map[string]string, 0, len(k.rows))
	for _, row := range k.rows {
		obj := make(map[string]string, len(k.headers))
		for i, h := range k.headers {
			if i < len(row) {
				obj[strings.ToLower(h)] = row[i]
			}
		}
		out = append(out, obj)
	}
	return json.Marshal(out)
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize NAME...",
		Short: "Print the canonical key of each name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			n, err := bootstrap.NewNormalizer(cliCtx.Config.Engine)
			if err != nil {
				return err
			}
			out := keyRows{headers: []string{"NAME", "KEY"}}
			for _, raw := range args {
				out.rows = append(out.rows, []string{raw, string(n.Normalize(raw))})
			}
			return PrintResult(cmd, out)
		},
	}
}

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Query the local-code bridge",
	}
	cmd.AddCommand(newBridgeResolveCmd(), newBridgeCodesCmd())
	return cmd
}

func newBridgeResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve CODE...",
		Short: "Resolve local codes to canonical keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			comps, cleanup, err := loadComponents(ctx, cliCtx)
			if err != nil {
				return err
			}
			defer cleanup()

			out := keyRows{headers: []string{"CODE", "KEY", "NAME", "ATC", "TABLE"}}
			var unresolved []string
			for _, code := range args {
				m, ok := comps.Bridge.ResolveCode(code)
				if !ok {
					unresolved = append(unresolved, code)
					continue
				}
				out.rows = append(out.rows, []string{m.Code, string(m.Key), m.Name, m.ATCCode, m.Table})
			}
			if err := PrintResult(cmd, out); err != nil {
				return err
			}
			if len(unresolved) > 0 {
				return errors.Newf(errors.ErrCodeBridgeNotFound, "no bridge entry for %s", strings.Join(unresolved, ", "))
			}
			return nil
		},
	}
}

func newBridgeCodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes NAME",
		Short: "List the local codes bridged to a substance name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			comps, cleanup, err := loadComponents(ctx, cliCtx)
			if err != nil {
				return err
			}
			defer cleanup()

			key, codes := comps.Bridge.CodesForName(args[0])
			if key == "" {
				return errors.Newf(errors.ErrCodeBadRequest, "name %q normalizes to an empty key", args[0])
			}
			out := keyRows{headers: []string{"KEY", "CODE"}}
			for _, c := range codes {
				out.rows = append(out.rows, []string{string(key), c})
			}
			return PrintResult(cmd, out)
		},
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify CODE...",
		Short: "Resolve classification codes to their deepest known level",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			comps, cleanup, err := loadComponents(ctx, cliCtx)
			if err != nil {
				return err
			}
			defer cleanup()

			out := keyRows{headers: []string{"INPUT", "CODE", "LEVEL", "NAME", "PATH"}}
			var missing []string
			for _, code := range args {
				path, ok := comps.Classification.Classify(code)
				if !ok {
					missing = append(missing, code)
					continue
				}
				out.rows = append(out.rows, []string{code, path.Code, strconv.Itoa(path.Level), path.Name, formatLevels(path)})
			}
			if err := PrintResult(cmd, out); err != nil {
				return err
			}
			if len(missing) > 0 {
				return errors.Newf(errors.ErrCodeClassificationNotFound, "unknown classification %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func formatLevels(p substance.ClassificationPath) string {
	parts := make([]string, 0, len(p.Levels))
	for _, l := range p.Levels {
		parts = append(parts, l.Code)
	}
	return strings.Join(parts, " > ")
}
