package main

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/archive"
	"github.com/ajitpratap0/plexload/pkg/decoder"
	"github.com/ajitpratap0/plexload/pkg/metadata"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

var errNoInput = plexerrors.New(plexerrors.ErrorTypeConfig, "an input archive is required (--input)")

// Inspection describes an archive without loading it.
type Inspection struct {
	Archive       string                `json:"archive"`
	MetadataEntry string                `json:"metadata_entry"`
	Version       string                `json:"version,omitempty"`
	Tables        []metadata.TableCount `json:"metadata_tables"`
	Segments      []SegmentInfo         `json:"segments"`
	FactTables    []FactInfo            `json:"fact_tables"`
	TotalPoints   int64                 `json:"total_points"`
}

// SegmentInfo describes one BIN entry.
type SegmentInfo struct {
	Entry  string `json:"entry"`
	Series int    `json:"series"`
	Points int64  `json:"points"`
	Bytes  int64  `json:"bytes"`
}

// FactInfo describes one fact table the archive maps to.
type FactInfo struct {
	Table  string `json:"table"`
	Unit   string `json:"unit,omitempty"`
	Series int    `json:"series"`
}

func newInspectCommand() *cobra.Command {
	var input, model string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Validate an archive and summarize its metadata and series",
		Long: `Validate an archive and summarize its metadata and series.

inspect performs every check convert does before the target is touched: the
metadata model is built and validated and every series of the directory is
resolved, so a clean inspect means convert will not fail on the input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				return errNoInput
			}
			in, err := inspect(cmd, input, model)
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(in, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			return printInspection(cmd.OutOrStdout(), in)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Solution archive, or a directory holding exactly one .zip (required)")
	cmd.Flags().StringVar(&model, "model", "", "Model name used to select the metadata entry")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func inspect(cmd *cobra.Command, input, model string) (*Inspection, error) {
	ctx := cmd.Context()
	log := zap.NewNop()

	a, err := archive.Open(input, archive.Options{Logger: log})
	if err != nil {
		return nil, err
	}
	defer a.Close()

	entry, err := a.MetadataEntry(model)
	if err != nil {
		return nil, err
	}
	data, err := a.ReadAll(ctx, entry)
	if err != nil {
		return nil, err
	}
	m, err := metadata.Build(ctx, bytes.NewReader(data), metadata.Options{Logger: log})
	if err != nil {
		return nil, err
	}
	d, err := decoder.PlanArchive(m, a)
	if err != nil {
		return nil, err
	}
	s, err := schema.Map(m, d)
	if err != nil {
		return nil, err
	}

	in := &Inspection{
		Archive:       a.Path(),
		MetadataEntry: entry,
		Version:       m.Version,
		Tables:        m.Summary(),
		TotalPoints:   d.TotalPoints(),
	}
	for _, seg := range d.Segments {
		in.Segments = append(in.Segments, SegmentInfo{
			Entry:  seg.Entry,
			Series: len(seg.Series),
			Points: seg.Points(),
			Bytes:  seg.Size,
		})
	}
	for _, t := range s.Facts() {
		in.FactTables = append(in.FactTables, FactInfo{Table: t.Name, Unit: t.Unit, Series: len(t.KeyIDs)})
	}
	return in, nil
}

func printInspection(out io.Writer, in *Inspection) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "archive\t%s\n", in.Archive)
	fmt.Fprintf(w, "metadata\t%s\n", in.MetadataEntry)
	if in.Version != "" {
		fmt.Fprintf(w, "version\t%s\n", in.Version)
	}
	fmt.Fprintf(w, "points\t%d\n\n", in.TotalPoints)

	fmt.Fprintln(w, "METADATA TABLE\tROWS")
	for _, tc := range in.Tables {
		fmt.Fprintf(w, "%s\t%d\n", tc.Table, tc.Rows)
	}
	fmt.Fprintln(w, "\nENTRY\tSERIES\tPOINTS\tBYTES")
	for _, seg := range in.Segments {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", seg.Entry, seg.Series, seg.Points, seg.Bytes)
	}
	fmt.Fprintln(w, "\nFACT TABLE\tUNIT\tSERIES")
	for _, f := range in.FactTables {
		fmt.Fprintf(w, "%s\t%s\t%d\n", f.Table, f.Unit, f.Series)
	}
	return w.Flush()
}
