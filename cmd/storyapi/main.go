// Command storyapi はフィギュアとストーリーを管理するAPIサーバー。
//
// 使い方:
//
//	storyapi [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hitoshi/storyapi/internal/app"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help") {
		fmt.Print(app.Usage("storyapi"))
		return
	}
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
