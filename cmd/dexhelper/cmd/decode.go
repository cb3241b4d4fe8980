package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dexhelper/pkg/dexhelper"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <method|field|class> <handle>",
	Short: "Print the reference a handle stands for",
	Long: `Print the smali reference of a handle printed by find or stored in a hunt
report. Handles may be decimal or 0x-prefixed hex.`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	raw, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid handle %q: %w", args[1], err)
	}

	h, err := openHelper(cmd.Context())
	if err != nil {
		return err
	}
	defer h.Close()

	var ref fmt.Stringer
	switch args[0] {
	case "method":
		ref, err = h.DecodeMethod(dexhelper.MethodHandle(raw))
	case "field":
		ref, err = h.DecodeField(dexhelper.FieldHandle(raw))
	case "class":
		ref, err = h.DecodeClass(dexhelper.ClassHandle(raw))
	default:
		return fmt.Errorf("unknown kind %q (valid: method, field, class)", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ref)
	return nil
}
