// Command mkfs creates (or reformats) a microfs image file.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/volume"
)

func main() {
	app := &cli.App{
		Name:      "mkfs",
		Usage:     "Create or reformat a microfs image",
		ArgsUsage: "IMAGE_PATH",
		Action:    formatImage,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func formatImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("exactly one argument (IMAGE_PATH) is required", 1)
	}
	path := c.Args().Get(0)

	img, err := image.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open %q: %s", path, err), 1)
	}
	defer img.Close()

	vol, err := volume.Format(img, time.Now())
	if err != nil {
		return cli.Exit(fmt.Sprintf("format failed: %s", err), 1)
	}

	stat := vol.FSStat()
	fmt.Printf(
		"formatted %s: %d blocks (%d free), %d inodes (%d free)\n",
		path, stat.TotalBlocks, stat.BlocksFree, stat.TotalInodes, stat.InodesFree,
	)
	return nil
}
