package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/ledgervault/internal/cli"
	"github.com/dmitrijs2005/ledgervault/internal/config"
)

// positionals returns the leading non-flag arguments: the command and its
// arguments come first, configuration flags follow.
func positionals(args []string) []string {
	var out []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			break
		}
		out = append(out, arg)
	}
	return out
}

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	a := cli.NewApp(cfg)
	if err := a.Run(ctx, positionals(os.Args[1:])); err != nil {
		log.Fatalf("%v", err)
	}
}
