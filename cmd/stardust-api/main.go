// Command stardust-api serves the analysis queue over a websocket and the
// cached results over REST.
package main

import (
	"log/slog"
	"os"

	"stardust/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
