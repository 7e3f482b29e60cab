package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"mcemit/internal/asminfo"
	"mcemit/internal/target"
)

var profileFormat string

var profileCmd = &cobra.Command{
	Use:   "profile <triple>",
	Short: "Show the assembly conventions resolved for a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		asm, err := resolveAsmConfig(cmd, cfg)
		if err != nil {
			return err
		}
		p, err := target.NewResolver(nil, asm).Profile(args[0])
		if err != nil {
			return err
		}
		switch strings.ToLower(profileFormat) {
		case "pretty":
			return renderProfilePretty(cmd.OutOrStdout(), args[0], p.Fields())
		case "json":
			return renderProfileJSON(cmd.OutOrStdout(), p.Fields())
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", profileFormat)
		}
	},
}

func init() {
	profileCmd.Flags().StringVar(&profileFormat, "format", "pretty", "output format (pretty|json)")
}

var profileKeyColor = color.New(color.FgCyan)

func renderProfilePretty(out io.Writer, id string, fields []asminfo.Field) error {
	width := 0
	for _, f := range fields {
		width = max(width, runewidth.StringWidth(f.Name))
	}
	if _, err := fmt.Fprintf(out, "profile for %s\n", id); err != nil {
		return err
	}
	for _, f := range fields {
		key := runewidth.FillRight(f.Name, width)
		if _, err := fmt.Fprintf(out, "  %s  %s\n", profileKeyColor.Sprint(key), f.Value); err != nil {
			return err
		}
	}
	return nil
}

func renderProfileJSON(out io.Writer, fields []asminfo.Field) error {
	payload := make(map[string]string, len(fields))
	for _, f := range fields {
		payload[f.Name] = f.Value
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
