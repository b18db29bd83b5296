package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/quill/log"
	"github.com/pithecene-io/quill/manifest"
	"github.com/pithecene-io/quill/types"
)

// InstallCommand returns the install command, which registers quill-host
// with a browser by writing its native-messaging manifest.
func InstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Write the native-messaging host manifest for a browser",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "browser",
				Usage: "Browser: firefox, chrome, chromium",
				Value: string(manifest.Firefox),
			},
			&cli.StringSliceFlag{
				Name:  "allow",
				Usage: "Allowed extension (firefox id, or chrome origin / id). Repeat for several",
			},
			&cli.BoolFlag{
				Name:  "system",
				Usage: "Install system-wide instead of for the current user",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Host name the extension connects to",
				Value: types.HostName,
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Host binary path (default: this executable)",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Write the manifest into this directory instead of the browser's",
			},
		},
		Action: installAction,
	}
}

func installAction(c *cli.Context) error {
	browser, err := manifest.ParseBrowser(c.String("browser"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidConfig)
	}

	logger := log.NewLogger(log.HostMeta{
		Name: c.String("name"),
		PID:  os.Getpid(),
	}, log.Options{Output: c.App.ErrWriter}).Sugar().With("browser", string(browser))
	defer func() { _ = logger.Sync() }()

	binary := c.String("path")
	if binary == "" {
		if binary, err = os.Executable(); err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}
	binary, err = filepath.Abs(binary)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", binary, err)
	}
	switch fi, statErr := os.Stat(binary); {
	case statErr != nil:
		logger.Warnf("cannot access host binary: %v", statErr)
	case fi.Mode()&0o100 == 0:
		logger.Warnf("host binary %s is not executable", binary)
	}

	m, err := manifest.New(browser, c.String("name"), "Quill external editor host", binary, c.StringSlice("allow"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidConfig)
	}

	dir := c.String("dir")
	if dir == "" {
		home, herr := os.UserHomeDir()
		if herr != nil && !c.Bool("system") {
			return fmt.Errorf("locate home directory: %w", herr)
		}
		dir, err = manifest.Dir(browser, c.Bool("system"), home)
		if errors.Is(err, manifest.ErrUnsupportedPlatform) {
			return cli.Exit(err.Error()+"; use --dir", exitInvalidConfig)
		}
		if err != nil {
			return err
		}
	}

	path, err := manifest.Install(m, dir)
	if err != nil {
		return err
	}
	logger.With("manifest", path).Infof("installed manifest for %s", m.Name)
	fmt.Fprintf(c.App.Writer, "Wrote %s manifest for %s to %s\n", browser, m.Name, path)
	return nil
}
