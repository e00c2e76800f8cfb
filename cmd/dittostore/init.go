package main

import (
	"fmt"

	"github.com/marmos91/dittostore/pkg/config"
)

func runInit(args []string) error {
	fs := newFlagSet("init", "init [--force] [--config path]")
	force := fs.BoolP("force", "f", false, "Overwrite an existing configuration file")
	configPath := fs.StringP("config", "c", "", "Where to write the file (default: "+config.GetDefaultConfigPath()+")")

	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		written, err := config.InitConfig(*force)
		if err != nil {
			return err
		}
		path = written
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Edit it, then run: dittostore start")
	return nil
}
