package cat

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/wetware/unx/cmd/internal/flags"
	"github.com/wetware/unx/file"
	"github.com/wetware/unx/resource"
	"github.com/wetware/unx/stream"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "print the records of a file or resource",
		ArgsUsage: "<file>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "filter",
				Usage:   "decode with `codec` (none, gzip, zstd); inferred from the extension by default",
				EnvVars: []string{"UNX_FILTER"},
			},
			&cli.PathFlag{
				Name:    "catalog",
				Usage:   "read the named resource from the catalog rooted at `dir`",
				EnvVars: []string{"UNX_CATALOG"},
			},
		}, flags.StreamFlags()...),
		Action: Main,
	}
}

func Main(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: unx cat <file>")
	}
	name := c.Args().First()

	sep, err := flags.Separator(c)
	if err != nil {
		return err
	}

	var rc io.ReadCloser
	if dir := c.Path("catalog"); dir != "" {
		rc, err = resource.Dir(filepath.Base(dir), dir).Resource(name, "").Open()
	} else {
		rc, err = open(name, c.String("filter"))
	}
	if err != nil {
		return err
	}

	s := stream.New(stream.Config{Separator: sep}, rc, nil)
	defer s.Close()

	for {
		record, err := s.ReadRecord(c.Context)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		if _, err = fmt.Fprintf(c.App.Writer, "%s\n", record); err != nil {
			return err
		}
	}
}

func open(path, filter string) (*file.File, error) {
	f, err := file.New(path, file.Binary)
	if err != nil {
		return nil, err
	}

	if filter == "" {
		switch filepath.Ext(path) {
		case ".gz":
			filter = "gzip"
		case ".zst":
			filter = "zstd"
		}
	}

	if f.Filter, err = file.ParseFilter(filter); err != nil {
		return nil, err
	}

	return f, f.Open(file.Read)
}
