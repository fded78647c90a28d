package main

import (
	"fmt"

	"github.com/elee1766/parley/src/schema"
)

// SchemaCmd prints a JSON Schema
type SchemaCmd struct {
	Name string `arg:"" optional:"" enum:"export,params" default:"export" help:"Schema to print (export, params)"`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	data, err := schema.MarshalIndent(schema.ByName(c.Name))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cli.Out, string(data))
	return err
}
