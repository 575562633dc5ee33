// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opencarve/opencarve/internal/metadir"
)

var showCommand = &cobra.Command{
	Use:   "show <unpack_root> <ud_path>",
	Short: "Print the recorded info for one MD",
	Args:  cobra.ExactArgs(2),
	RunE:  showMain,
}

func showMain(command *cobra.Command, arguments []string) error {
	infoPath := filepath.Join(arguments[0], arguments[1], "info.mpk")
	raw, err := os.ReadFile(infoPath)
	if err != nil {
		return fmt.Errorf("opencarve: read %s: %w", infoPath, err)
	}
	info, err := metadir.DecodeInfo(raw)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("opencarve: encode info for display: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}
