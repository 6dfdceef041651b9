package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pmrelay/pmrelay/internal/correlation"
	"github.com/pmrelay/pmrelay/internal/directory"
)

func init() {
	decodeCmd := &cobra.Command{Use: "decode", Short: "Print a stored document in readable form"}

	var file, format string
	addFlags := func(c *cobra.Command) {
		c.Flags().StringVarP(&file, "file", "f", "-", "File holding the document text, - for stdin")
		c.Flags().StringVarP(&format, "format", "o", "yaml", "Output format: yaml or json")
	}

	dirCmd := &cobra.Command{
		Use:   "directory",
		Short: "Decode a visitor directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runDecodeDirectory(text, format, cmd.OutOrStdout())
		},
	}
	addFlags(dirCmd)
	decodeCmd.AddCommand(dirCmd)

	corrCmd := &cobra.Command{
		Use:   "correlation",
		Short: "Decode a message correlation log",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runDecodeCorrelation(text, format, cmd.OutOrStdout())
		},
	}
	addFlags(corrCmd)
	decodeCmd.AddCommand(corrCmd)

	rootCmd.AddCommand(decodeCmd)
}

func readInput(file string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if file == "" || file == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(b), nil
}

func runDecodeDirectory(text, format string, out io.Writer) error {
	d, err := directory.Parse(text)
	if err != nil {
		return err
	}
	return render(d, format, out)
}

func runDecodeCorrelation(text, format string, out io.Writer) error {
	return render(correlation.Parse(text, 0), format, out)
}

func render(v any, format string, out io.Writer) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown --format %q: want yaml or json", format)
	}
}
