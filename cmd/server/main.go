package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jonathanvineet/DAIO/internal/app"
)

// The window event loop has to stay on the main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	application, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil {
		log.Printf("Pipeline stopped with error: %v", err)
		os.Exit(1)
	}
}
