// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/opencarve/opencarve/internal/webdavbrowse"
)

var browseConfiguration struct {
	address string
}

var browseCommand = &cobra.Command{
	Use:   "browse <unpack_root>",
	Short: "Serve a scanned unpack root over WebDAV",
	Args:  cobra.ExactArgs(1),
	RunE:  browseMain,
}

func init() {
	browseCommand.Flags().StringVarP(&browseConfiguration.address, "address", "a", "localhost:8080", "address to listen on")
}

func browseMain(command *cobra.Command, arguments []string) error {
	handler := webdavbrowse.NewHandler(arguments[0])
	fmt.Printf("serving %s on %s\n", arguments[0], browseConfiguration.address)
	return http.ListenAndServe(browseConfiguration.address, handler)
}
