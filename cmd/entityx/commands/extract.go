package commands

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dan-solli/entityx/pkg/client"
	"github.com/dan-solli/entityx/pkg/harness"
	"github.com/dan-solli/entityx/pkg/schema"
)

func newExtractCmd(opts *globalOptions) *cobra.Command {
	var (
		schemaPath string
		entities   string
		endpoint   string
	)

	cmd := &cobra.Command{
		Use:   "extract [text]",
		Short: "Extract entities from one text",
		Long: `Extract entities from the text argument, or from stdin when no argument is
given. The schema comes from --entities (inline JSON) or --schema (JSON or YAML
file). The recovered object, or the diagnostic payload, is printed as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			s, err := loadSchema(entities, schemaPath)
			if err != nil {
				return err
			}

			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "read text from stdin")
				}
				text = strings.TrimRight(string(data), "\n")
			}

			var ext harness.Extractor
			if endpoint != "" {
				ext = client.New(endpoint, cfg.Harness.RequestTimeout)
			} else {
				p, err := newPipeline(cfg, logger)
				if err != nil {
					return err
				}
				defer p.Close()
				ext = p.extractor
			}

			result, err := ext.Extract(cmd.Context(), text, s)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&entities, "entities", "", `inline JSON schema, e.g. '{"name": "", "email": "email"}'`)
	f.StringVar(&schemaPath, "schema", "", "schema file (.json, .yaml or .yml)")
	f.StringVar(&endpoint, "endpoint", "", "call this extraction endpoint instead of the backend directly")
	cmd.MarkFlagsMutuallyExclusive("entities", "schema")
	cmd.MarkFlagsOneRequired("entities", "schema")
	return cmd
}

func loadSchema(inline, path string) (schema.Schema, error) {
	if inline != "" {
		s, err := schema.Parse([]byte(inline))
		return s, errors.Wrap(err, "invalid --entities")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return schema.Schema{}, errors.Wrapf(err, "read schema %s", path)
	}

	var s schema.Schema
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		s, err = schema.Parse(data)
	}
	if err != nil {
		return schema.Schema{}, errors.Wrapf(err, "invalid schema %s", path)
	}
	return s, nil
}
