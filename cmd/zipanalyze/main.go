package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zipanalyze/internal/cmd"
	"github.com/nguyengg/zipanalyze/internal/config"
)

func main() {
	p, opts, err := cmd.NewParser()
	if err != nil {
		log.Fatal(err)
	}

	p.CommandHandler = func(command flags.Commander, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		name, err := config.LoadProfile(ctx, opts.Profile)
		if err != nil {
			return err
		}
		if name != "" {
			log.Printf("loaded config from %s", name)
		}

		return command.Execute(args)
	}

	_, err = p.Parse()
	exit(err)
}
