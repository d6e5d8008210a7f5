package ls

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/wetware/unx"
	"github.com/wetware/unx/directory"
	"github.com/wetware/unx/file"
	"github.com/wetware/unx/util"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list a directory's subdirectories and files",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "pattern",
				Usage: "only list names matching the shell `pattern`",
			},
		},
		Action: Main,
	}
}

func Main(c *cli.Context) error {
	path := "."
	if c.Args().Present() {
		path = c.Args().First()
	}

	d, err := directory.New(path)
	if err != nil {
		return err
	}
	if !d.Exists() {
		return unx.Errorf("ls", d.Path, unx.ResourceUnavailable, "no such directory")
	}

	rows, err := table(d, c.String("pattern"))
	if err != nil {
		return err
	}

	term := util.GetTerminal(os.Stdout)
	_, err = fmt.Fprint(c.App.Writer, util.FormatTable(
		[]string{"NAME", "SIZE", "MODIFIED"},
		rows,
		term.Color))
	return err
}

func table(d *directory.Directory, pattern string) ([][]string, error) {
	dirs, err := d.Directories(pattern)
	if err != nil {
		return nil, err
	}

	files, err := d.Files(pattern)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(dirs)+len(files))
	for _, name := range dirs {
		sub, err := d.Directory(name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []string{name + "/", "-", stamp(sub.Modified)})
	}

	for _, name := range files {
		f, err := d.File(name, file.Binary)
		if err != nil {
			return nil, err
		}

		// dangling links have no size
		size, mtime := "?", time.Time{}
		if n, err := f.Size(); err == nil {
			size = util.FormatBytes(n)
			mtime, _ = f.ModTime()
		}
		rows = append(rows, []string{name, size, stamp(mtime)})
	}

	return rows, nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateTime)
}
