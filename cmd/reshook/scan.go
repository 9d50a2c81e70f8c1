package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/k2io/reshook/resolve"
	"github.com/k2io/reshook/resource"
	"github.com/k2io/reshook/sigscan"
)

var scanPatterns []string

func init() {
	cmd := newScanCmd()
	cmd.Flags().StringArrayVarP(&scanPatterns, "pattern", "p", nil, "Extra NAME=SIGNATURE to resolve (repeatable)")
	rootCmd.AddCommand(cmd)
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <binary>",
		Short: "Resolve the engine's signatures against a binary",
		Long: `The scan command searches the code section of a client binary for the
signatures of the hooked loader entries, plus any extra patterns, and prints
the virtual address and match count of each. It fails when a target is missing.

Example:
  reshook scan ffxiv_dx11.exe
  reshook scan ffxiv_dx11.exe --pattern "Framework=48 8B 0D ?? ?? ?? ?? 48 85 C9"
  reshook scan ffxiv_dx11.exe --config reshook.toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(args)
		},
	}
}

func scanTargets() ([]resolve.Target, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	targets, err := resource.Targets(conf.Signatures)
	if err != nil {
		return nil, err
	}
	for _, p := range scanPatterns {
		name, text, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("pattern %q: want NAME=SIGNATURE", p)
		}
		sig, err := sigscan.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", name, err)
		}
		targets = append(targets, resolve.Target{Name: name, Signature: sig})
	}
	return targets, nil
}

func runScan(args []string) error {
	targets, err := scanTargets()
	if err != nil {
		return err
	}
	s, err := sigscan.NewFileScanner(args[0])
	if err != nil {
		return err
	}
	printInfo("%s: text at 0x%X, %d bytes\n", args[0], s.Base(), s.Size())

	r := &resolve.Resolver{Targets: targets, Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	addrs, rerr := r.Resolve(s)
	for _, t := range targets {
		addr, ok := addrs.Lookup(t.Name)
		if !ok {
			printInfo("%-24s %-18s\n", t.Name, "missing")
			continue
		}
		n := s.Count(t.Signature)
		note := ""
		if n > 1 {
			note = " (ambiguous, first match used)"
		}
		printInfo("%-24s 0x%-16X matches=%d%s\n", t.Name, addr, n, note)
	}
	if missing := resolve.Missing(rerr); len(missing) > 0 {
		return fmt.Errorf("%d target(s) missing: %s", len(missing), strings.Join(missing, ", "))
	}
	return rerr
}
