package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dexhelper/internal/hunt"
	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/model"
	"github.com/dexhelper/pkg/writer"
)

// queryFlags are the structural filters shared by the find subcommands.
type queryFlags struct {
	declaringClass string
	returnType     string
	params         []string
	containsParams []string
	paramCount     int
	shorty         string
	shortyPrefix   bool
	dexPriority    []int
	findFirst      bool
	json           bool
}

func (q *queryFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&q.declaringClass, "class", "", "Declaring class (descriptor or Java name)")
	fs.StringVar(&q.returnType, "returns", "", "Return type")
	fs.StringSliceVar(&q.params, "params", nil, "Exact parameter types in order; * matches any type")
	fs.StringSliceVar(&q.containsParams, "has-param", nil, "Parameter types that must appear anywhere")
	fs.IntVar(&q.paramCount, "param-count", -1, "Exact parameter count (-1 for any)")
	fs.StringVar(&q.shorty, "shorty", "", "Shorty descriptor, e.g. VL")
	fs.BoolVar(&q.shortyPrefix, "shorty-prefix", false, "Match --shorty as a prefix")
	fs.IntSliceVar(&q.dexPriority, "dex", nil, "Dex ordinals to search, in order")
	fs.BoolVar(&q.findFirst, "first", false, "Stop at the first dex with a match")
	fs.BoolVar(&q.json, "json", false, "Print the resolution as JSON")
}

func (q *queryFlags) spec() hunt.QuerySpec {
	spec := hunt.QuerySpec{
		DeclaringClass:         q.declaringClass,
		ReturnType:             q.returnType,
		ContainsParameterTypes: q.containsParams,
		Shorty:                 q.shorty,
		ShortyPrefix:           q.shortyPrefix,
		DexPriority:            q.dexPriority,
		FindFirst:              q.findFirst,
	}
	if len(q.params) > 0 {
		spec.ParameterTypes = q.params
	}
	if q.paramCount >= 0 {
		n := q.paramCount
		spec.ParameterCount = &n
	}
	return spec
}

var (
	findQuery  queryFlags
	findPrefix bool
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Run one structural query against the class path",
	Long: `Run one structural query and print the matching members, one per line
with their handles.

Method references use smali form, Lcom/example/C;->name(I)V, and field
references Lcom/example/C;->name:Ljava/lang/String;. Class names may be
descriptors or Java names.`,
}

func init() {
	rootCmd.AddCommand(findCmd)
	findQuery.register(findCmd.PersistentFlags())

	findString := &cobra.Command{
		Use:   "string <text>",
		Short: "Methods that load a string constant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := hunt.Fingerprint{Prefix: findPrefix}
			if len(args) == 1 {
				fp.String = args[0]
			} else if !findPrefix {
				return fmt.Errorf("a string is required unless --prefix is set")
			}
			return runFind(cmd, fp)
		},
	}
	findString.Flags().BoolVar(&findPrefix, "prefix", false, "Match strings starting with <text>")

	findCmd.AddCommand(
		findString,
		anchorCommand("invoking <method>", "Methods that call a method", func(fp *hunt.Fingerprint, ref string) { fp.Invoking = ref }),
		anchorCommand("invoked <method>", "Methods called by a method", func(fp *hunt.Fingerprint, ref string) { fp.Invoked = ref }),
		anchorCommand("getting <field>", "Methods that read a field", func(fp *hunt.Fingerprint, ref string) { fp.Getting = ref }),
		anchorCommand("setting <field>", "Methods that write a field", func(fp *hunt.Fingerprint, ref string) { fp.Setting = ref }),
		anchorCommand("field <type>", "Fields of a type", func(fp *hunt.Fingerprint, typ string) {
			fp.Kind = model.KindField
			fp.FieldType = typ
		}),
		&cobra.Command{
			Use:   "method",
			Short: "Methods matching the query flags alone",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runFind(cmd, hunt.Fingerprint{})
			},
		},
	)
}

func anchorCommand(use, short string, set func(*hunt.Fingerprint, string)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fp hunt.Fingerprint
			set(&fp, args[0])
			return runFind(cmd, fp)
		},
	}
}

func runFind(cmd *cobra.Command, fp hunt.Fingerprint) error {
	fp.Name = cmd.Name()
	if fp.Kind == model.KindField {
		// field searches take only a type and dex options
		fp.Query = hunt.QuerySpec{DexPriority: findQuery.dexPriority, FindFirst: findQuery.findFirst}
	} else {
		fp.Query = findQuery.spec()
	}
	if err := fp.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	h, err := openHelper(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	res, err := hunt.Resolve(ctx, h, &fp)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(errors.CodeInvalidInput, res.Error)
	}

	out := cmd.OutOrStdout()
	if findQuery.json {
		return writer.NewPrettyJSONWriter[model.Resolution]().Write(res, out)
	}
	for i, ref := range res.Refs {
		fmt.Fprintf(out, "%#016x  %s\n", res.Handles[i], ref)
	}
	logger.Info("%d match(es)", len(res.Refs))
	return nil
}
