package main

import (
	"os"

	"github.com/alecthomas/kong"
)

var version = "dev"

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("drawbot"),
		kong.Description("Telegram bot that runs timed prize drawings."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(&cli); err != nil {
		ctx.Errorf("%v", err)
		os.Exit(1)
	}
}
