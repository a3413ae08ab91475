// Command fsck checks a microfs image for consistency and reports every
// violation it finds, as text or as CSV.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/go-microfs/microfs/fsck"
	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/volume"
)

// csvRow is the flattened shape gocsv marshals an Issue into.
type csvRow struct {
	Inode  int    `csv:"inode"`
	Kind   string `csv:"kind"`
	Detail string `csv:"detail"`
}

func main() {
	app := &cli.App{
		Name:      "fsck",
		Usage:     "Check a microfs image for consistency",
		ArgsUsage: "IMAGE_PATH",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "csv", Usage: "report issues as CSV instead of text"},
		},
		Action: checkImage,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func checkImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("exactly one argument (IMAGE_PATH) is required", 1)
	}
	path := c.Args().Get(0)

	img, err := image.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open %q: %s", path, err), 1)
	}
	defer img.Close()

	vol, err := volume.New(img)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read volume: %s", err), 1)
	}

	issues := fsck.Check(vol.Image(), vol.Table(), vol.Blocks(), vol.Inodes())
	if len(issues) == 0 {
		fmt.Println("no issues found")
		return nil
	}

	if c.Bool("csv") {
		rows := make([]csvRow, len(issues))
		for i, issue := range issues {
			rows[i] = csvRow{Inode: issue.Inode, Kind: string(issue.Kind), Detail: issue.Detail}
		}
		out, err := gocsv.MarshalString(&rows)
		if err != nil {
			return cli.Exit(fmt.Sprintf("csv marshal failed: %s", err), 1)
		}
		fmt.Print(out)
	} else {
		for _, issue := range issues {
			fmt.Println(issue.String())
		}
	}

	return cli.Exit(fmt.Sprintf("%d issue(s) found", len(issues)), 1)
}
