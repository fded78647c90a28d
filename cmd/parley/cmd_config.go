package main

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/elee1766/parley/src/config"
)

// ConfigCmd groups configuration commands
type ConfigCmd struct {
	Show  ConfigShowCmd  `cmd:"" default:"1" help:"Print the effective configuration with secrets masked"`
	Paths ConfigPathsCmd `cmd:"" help:"Print the files and directories parley uses"`
}

// ConfigShowCmd prints the merged configuration
type ConfigShowCmd struct {
	Format string `enum:"json,yaml" default:"json" help:"Output format (json, yaml)"`
}

func (c *ConfigShowCmd) Run(cli *CLI) error {
	rt, err := cli.setup()
	if err != nil {
		return err
	}
	defer rt.Close()

	redacted := rt.cfg.Redacted()
	if c.Format == "yaml" {
		data, err := yaml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cli.Out.Write(data)
		return err
	}
	return writeJSON(cli.Out, redacted)
}

// ConfigPathsCmd prints well known paths
type ConfigPathsCmd struct{}

func (c *ConfigPathsCmd) Run(cli *CLI) error {
	for _, p := range config.UserConfigPaths() {
		fmt.Fprintf(cli.Out, "config:  %s\n", p)
	}
	fmt.Fprintf(cli.Out, "data:    %s\n", config.GetDefaultDataPath())
	fmt.Fprintf(cli.Out, "history: %s\n", config.GetHistoryPath())
	return nil
}
