package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ivi39c/speaka-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
