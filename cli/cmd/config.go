package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/quill/cli/config"
	"github.com/pithecene-io/quill/cli/render"
)

// ConfigResponse is the response for the config command.
type ConfigResponse struct {
	Path   string         `json:"path" yaml:"path"`
	Config *config.Config `json:"config" yaml:"config"`
}

// ConfigCommand returns the config command, which prints the effective
// configuration after defaults and environment expansion.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "Show the effective configuration",
		Flags:  append(ReadOnlyFlags(), ConfigFlag),
		Action: configAction,
	}
}

func configAction(c *cli.Context) error {
	cfg, path, err := config.Resolve(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidConfig)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(ConfigResponse{Path: path, Config: cfg})
}
