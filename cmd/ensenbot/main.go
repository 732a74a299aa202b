package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ensenbot/internal/app"
)

func main() {
	var (
		cfgPath     string
		catalogPath string
		once        bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&catalogPath, "catalog", "", "override the bundled route reference file")
	flag.BoolVar(&once, "once", false, "run a single reconciliation and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: cfgPath, CatalogPath: catalogPath})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if once {
		_, err := a.RunOnce(ctx)
		a.Close()
		if err != nil {
			fmt.Println("run failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		a.Close()
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}
