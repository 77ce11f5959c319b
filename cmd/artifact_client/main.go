package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ruteri/artifact-repository-backend/api/clients"
	"github.com/urfave/cli/v2"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:    "server-addr",
	Value:   "http://127.0.0.1:8080",
	Usage:   "Repository server address to request",
	EnvVars: []string{"ARTIFACTS_SERVER"},
}
var flagRepository *cli.StringFlag = &cli.StringFlag{
	Name:  "repository",
	Value: "releases",
	Usage: "Repository to operate on",
}
var flagToken *cli.StringFlag = &cli.StringFlag{
	Name:    "token",
	Usage:   "Token name used for deploys and admin calls",
	EnvVars: []string{"ARTIFACTS_TOKEN"},
}
var flagSecret *cli.StringFlag = &cli.StringFlag{
	Name:    "secret",
	Usage:   "Token secret",
	EnvVars: []string{"ARTIFACTS_SECRET"},
}
var flagCoordinate *cli.StringFlag = &cli.StringFlag{
	Name:  "coordinate",
	Usage: "Deploy to the location of groupId:artifactId[:extension[:classifier]]:version instead of a path",
}
var flagOutput *cli.StringFlag = &cli.StringFlag{
	Name:  "output",
	Usage: "Write the downloaded file here instead of stdout",
}
var flagLimit *cli.IntFlag = &cli.IntFlag{
	Name:  "limit",
	Value: 20,
	Usage: "Number of audit records to show",
}

func main() {
	app := &cli.App{
		Name:  "artifact-client",
		Usage: "Deploy and fetch artifacts from an artifact repository server",
		Flags: []cli.Flag{
			flagServerAddr,
			flagRepository,
			flagToken,
			flagSecret,
		},
		Commands: []*cli.Command{
			{
				Name:      "deploy",
				Usage:     "Upload a file",
				ArgsUsage: "<file> [path]",
				Flags:     []cli.Flag{flagCoordinate},
				Action: func(cCtx *cli.Context) error {
					file := cCtx.Args().Get(0)
					target := cCtx.Args().Get(1)
					if file == "" || (target == "" && cCtx.String(flagCoordinate.Name) == "") {
						return fmt.Errorf("usage: deploy <file> <path> or deploy --coordinate=g:a:v <file>")
					}

					f, err := os.Open(file)
					if err != nil {
						return err
					}
					defer f.Close()
					fi, err := f.Stat()
					if err != nil {
						return err
					}

					c := newClient(cCtx)
					repository := cCtx.String(flagRepository.Name)
					if coordinate := cCtx.String(flagCoordinate.Name); coordinate != "" {
						details, err := c.DeployCoordinate(cCtx.Context, repository, coordinate, f, fi.Size())
						if err != nil {
							return err
						}
						return printJSON(details)
					}
					details, err := c.Deploy(cCtx.Context, repository, target, f, fi.Size())
					if err != nil {
						return err
					}
					return printJSON(details)
				},
			},
			{
				Name:      "get",
				Usage:     "Download a file",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{flagOutput},
				Action: func(cCtx *cli.Context) error {
					data, err := newClient(cCtx).Download(cCtx.Context, cCtx.String(flagRepository.Name), cCtx.Args().First())
					if err != nil {
						return err
					}
					if output := cCtx.String(flagOutput.Name); output != "" {
						return os.WriteFile(output, data, 0644)
					}
					_, err = os.Stdout.Write(data)
					return err
				},
			},
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "[path]",
				Action: func(cCtx *cli.Context) error {
					listing, err := newClient(cCtx).List(cCtx.Context, cCtx.String(flagRepository.Name), cCtx.Args().First())
					if err != nil {
						return err
					}
					for _, file := range listing.Files {
						fmt.Printf("%-9s %10d %s %s\n", file.Type, file.ContentLength, file.Date, file.Name)
					}
					return nil
				},
			},
			{
				Name:      "details",
				Usage:     "Show file details",
				ArgsUsage: "<path>",
				Action: func(cCtx *cli.Context) error {
					details, err := newClient(cCtx).Details(cCtx.Context, cCtx.String(flagRepository.Name), cCtx.Args().First())
					if err != nil {
						return err
					}
					return printJSON(details)
				},
			},
			{
				Name:      "latest",
				Usage:     "Print the newest version of an artifact",
				ArgsUsage: "<artifact path, e.g. com/acme/lib>",
				Action: func(cCtx *cli.Context) error {
					version, err := newClient(cCtx).Latest(cCtx.Context, cCtx.String(flagRepository.Name), cCtx.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(version)
					return nil
				},
			},
			{
				Name:  "repositories",
				Usage: "List repositories",
				Action: func(cCtx *cli.Context) error {
					repositories, err := newClient(cCtx).Repositories(cCtx.Context)
					if err != nil {
						return err
					}
					for _, name := range repositories {
						fmt.Println(name)
					}
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show repository usage (admin token)",
				Action: func(cCtx *cli.Context) error {
					status, err := newClient(cCtx).Status(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "audit",
				Usage: "Show recent deploys (admin token)",
				Flags: []cli.Flag{flagLimit},
				Action: func(cCtx *cli.Context) error {
					records, err := newClient(cCtx).Audit(cCtx.Context, cCtx.String(flagRepository.Name), cCtx.Int(flagLimit.Name))
					if err != nil {
						return err
					}
					return printJSON(records)
				},
			},
			{
				Name:      "invalidate",
				Usage:     "Drop cached maven-metadata.xml of a directory (admin token)",
				ArgsUsage: "<directory>",
				Action: func(cCtx *cli.Context) error {
					return newClient(cCtx).InvalidateMetadata(cCtx.Context, cCtx.String(flagRepository.Name), cCtx.Args().First())
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *clients.ArtifactClient {
	return &clients.ArtifactClient{
		ServerAddr: cCtx.String(flagServerAddr.Name),
		Token:      cCtx.String(flagToken.Name),
		Secret:     cCtx.String(flagSecret.Name),
	}
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
