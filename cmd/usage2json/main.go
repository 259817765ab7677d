package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/heliomap/heliomap/internal/greenbutton"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Input    string `short:"i" long:"in" description:"Input file path (Green Button XML export). Reads from stdin if empty"`
	Output   string `short:"o" long:"out" description:"Output file path. Writes to stdout if empty"`
	Format   string `short:"f" long:"format" description:"Output format" choice:"json" choice:"yaml" default:"json"`
	Readings bool   `short:"r" long:"readings" description:"Include the raw interval readings in the output"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Read Input
	var input io.Reader = os.Stdin
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		input = f
	}

	usage, err := greenbutton.Parse(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing export: %v\n", err)
		os.Exit(1)
	}

	readingCount := len(usage.Readings)
	if !opts.Readings {
		usage.Readings = nil
	}

	// marshal
	var outputData []byte
	if opts.Format == "yaml" {
		outputData, err = yaml.Marshal(usage)
	} else {
		outputData, err = json.MarshalIndent(usage, "", "  ")
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling data: %v\n", err)
		os.Exit(1)
	}

	if opts.Output != "" {
		err = os.WriteFile(opts.Output, outputData, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Successfully converted %d readings over %d months to %s (format: %s)\n",
			readingCount, len(usage.Monthly), opts.Output, opts.Format)
	} else {
		fmt.Println(string(outputData))
	}
}
