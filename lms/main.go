package main

import (
	"fmt"
	"os"

	"github.com/bwesterb/go-lms"

	"github.com/urfave/cli"
)

func cmdAlgs(c *cli.Context) error {
	for _, name := range lms.ListNames() {
		ctx := lms.NewContextFromName(name)
		if c.Bool("sizes") {
			fmt.Printf("%-45s %6d signatures  sig %5d bytes  pk %d bytes\n",
				ctx.Name(), ctx.MaxSignatures(), ctx.SignatureSize(),
				ctx.PublicKeySize())
			continue
		}
		fmt.Printf("%s\n", ctx.Name())
	}

	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "lms"
	app.Usage = "LMS stateful hash-based signatures (RFC 8554)"

	app.Commands = []cli.Command{
		{
			Name:   "algs",
			Usage:  "List LMS instances",
			Action: cmdAlgs,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "sizes, s",
					Usage: "Also show signature and public key sizes",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
