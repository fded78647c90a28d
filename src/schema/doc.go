// Package schema generates JSON Schema documents for parley's file formats.
//
// The export format written by conversation.Export is described by
// ExportSchema, and the generation parameters accepted by every backend by
// ParamsSchema. Both are reflected from the Go types with
// github.com/swaggest/jsonschema-go, so struct tags such as enum, format and
// description flow into the output.
//
// Example usage:
//
//	data, err := schema.MarshalIndent(schema.ExportSchema())
package schema
