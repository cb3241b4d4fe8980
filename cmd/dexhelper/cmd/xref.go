package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dexhelper/internal/callgraph"
	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/filter"
	"github.com/dexhelper/pkg/writer"
)

var (
	xrefDirection       string
	xrefDepth           int
	xrefMaxNodes        int
	xrefExpandFramework bool
	xrefAppPrefixes     []string
	xrefLibPrefixes     []string
	xrefFwPrefixes      []string
	xrefDrop            []string
	xrefFormat          string
	xrefOutput          string
)

var xrefCmd = &cobra.Command{
	Use:   "xref <method>",
	Short: "Build the call graph around a method",
	Long: `Walk callers and callees of a method breadth first and print the graph as
JSON or Graphviz DOT.

Nodes are classified as runtime, framework, library or application code.
Runtime and framework methods are leaves unless --expand-framework is set.
With --app-prefix, classes outside the given packages count as library code.
--lib-prefix and --framework-prefix extend the built-in package lists.`,
	Args: cobra.ExactArgs(1),
	RunE: runXref,
}

func init() {
	rootCmd.AddCommand(xrefCmd)
	xrefCmd.Flags().StringVarP(&xrefDirection, "direction", "d", "both", "Edges to follow: callers, callees or both")
	xrefCmd.Flags().IntVar(&xrefDepth, "depth", 2, "Maximum distance from the root")
	xrefCmd.Flags().IntVar(&xrefMaxNodes, "max-nodes", 500, "Stop after this many nodes")
	xrefCmd.Flags().BoolVar(&xrefExpandFramework, "expand-framework", false, "Follow edges out of runtime and framework methods")
	xrefCmd.Flags().StringSliceVar(&xrefAppPrefixes, "app-prefix", nil, "Application package prefixes, e.g. com.example")
	xrefCmd.Flags().StringSliceVar(&xrefLibPrefixes, "lib-prefix", nil, "Extra bundled library packages, e.g. io.sentry")
	xrefCmd.Flags().StringSliceVar(&xrefFwPrefixes, "framework-prefix", nil, "Extra platform packages, e.g. com.huawei.hms")
	xrefCmd.Flags().StringSliceVar(&xrefDrop, "drop", nil, "Categories to remove from the result, e.g. runtime,framework")
	xrefCmd.Flags().StringVarP(&xrefFormat, "format", "f", "json", "Output format: json or dot")
	xrefCmd.Flags().StringVarP(&xrefOutput, "output", "o", "", "Write to a file instead of stdout (.json.gz and .json.zst compress)")
}

func runXref(cmd *cobra.Command, args []string) error {
	ref, err := dexhelper.ParseMethodRef(args[0])
	if err != nil {
		return err
	}
	dir, err := callgraph.ParseDirection(xrefDirection)
	if err != nil {
		return err
	}
	format := strings.ToLower(xrefFormat)
	if format != "json" && format != "dot" {
		return fmt.Errorf("unknown format %q (valid: json, dot)", xrefFormat)
	}

	ctx := cmd.Context()
	h, err := openHelper(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	root, err := h.EncodeMethod(ref)
	if err != nil {
		return err
	}

	opts := callgraph.DefaultGeneratorOptions()
	opts.Direction = dir
	opts.MaxDepth = xrefDepth
	opts.MaxNodes = xrefMaxNodes
	opts.ExpandFramework = xrefExpandFramework
	if len(xrefAppPrefixes)+len(xrefLibPrefixes)+len(xrefFwPrefixes) > 0 {
		f := filter.NewClassFilter()
		f.AddApplicationPrefixes(xrefAppPrefixes)
		for _, p := range xrefLibPrefixes {
			f.AddLibraryPrefix(p)
		}
		for _, p := range xrefFwPrefixes {
			f.AddFrameworkPrefix(p)
		}
		opts.Filter = f
	}

	cg, err := callgraph.NewGenerator(h, opts).Generate(ctx, root)
	if err != nil {
		return err
	}
	if len(xrefDrop) > 0 {
		cg.Prune(xrefDrop...)
	}
	stats := cg.GetStats()
	logger.Info("Call graph: %d nodes, %d edges, depth %d", stats.NodeCount, stats.EdgeCount, stats.MaxDepth)
	for _, c := range stats.Categories() {
		logger.Debug("  %-12s %d", c, stats.ByCategory[c])
	}
	if cg.Truncated {
		logger.Warn("Walk stopped at %d nodes; raise --max-nodes for the full graph", xrefMaxNodes)
	}

	switch {
	case xrefOutput == "" && format == "dot":
		return callgraph.NewDOTWriter().Write(cg, cmd.OutOrStdout())
	case xrefOutput == "":
		return writer.NewPrettyJSONWriter[*callgraph.CallGraph]().Write(cg, cmd.OutOrStdout())
	case format == "dot":
		err = callgraph.NewDOTWriter().WriteToFile(cg, xrefOutput)
	default:
		err = callgraph.WriteJSON(cg, xrefOutput)
	}
	if err != nil {
		return err
	}
	logger.Info("Call graph written to %s", filepath.Clean(xrefOutput))
	return nil
}
