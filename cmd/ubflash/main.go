package main

import (
	"context"
	"os"

	"github.com/ubflash/ubflash/cmd/ubflash/commands"
)

var (
	version   = "v0.4.0"
	buildDate = "unknown"
)

func main() {
	info := commands.Info{
		Version: version,
		Date:    buildDate,
	}
	ctx := commands.SetInfo(context.Background(), info)
	cmd := commands.UbflashCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
