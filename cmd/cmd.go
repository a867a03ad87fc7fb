package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/hostup/hostup/cmd/common"
)

// BuildArgs carries build-time version information injected by the
// linker.
type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var currentBuildArgs BuildArgs

func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:                  "hostup",
		HelpName:              "hostup",
		Usage:                 "A one-click-hoster upload daemon.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "hostup <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Commands: []cli.Command{
			{
				Name:   "daemon",
				Usage:  "run the upload daemon in the foreground",
				Action: daemon,
			},
			{
				Name:                   "upload",
				Aliases:                []string{"u"},
				Usage:                  "package a folder and queue it for upload",
				Description:            UploadDescription,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Action:                 upload,
				Flags:                  uploadFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:                   "list",
				Aliases:                []string{"l"},
				Usage:                  "display the upload queue",
				Description:            ListDescription,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Action:                 list,
				Flags:                  listFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "cancel",
				Usage:              "cancel a queued or running upload",
				Description:        CancelDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             cancel,
			},
			{
				Name:               "remove",
				Usage:              "delete an upload record",
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             remove,
			},
			{
				Name:               "hosts",
				Usage:              "list and manage file hosts",
				Description:        HostsDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             hostsList,
				Subcommands: []cli.Command{
					{
						Name:   "enable",
						Usage:  "enable a host and start its worker",
						Action: hostEnable,
					},
					{
						Name:   "disable",
						Usage:  "disable a host and stop its worker",
						Action: hostDisable,
					},
					{
						Name:   "pause",
						Usage:  "pause a host's job dispatch",
						Action: hostPause,
					},
					{
						Name:   "resume",
						Usage:  "resume a paused host",
						Action: hostResume,
					},
				},
			},
			{
				Name:               "test",
				Usage:              "test a host's connection",
				Description:        TestDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             hostTest,
			},
			{
				Name:               "storage",
				Usage:              "show a host's remaining storage",
				Description:        StorageDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             hostStorage,
			},
			{
				Name:                   "stats",
				Usage:                  "show transfer statistics",
				Description:            StatsDescription,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Action:                 stats,
				Flags:                  statsFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "credential",
				Usage:              "manage stored host credentials",
				Description:        CredentialDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Subcommands: []cli.Command{
					{
						Name:   "set",
						Usage:  "store a credential field for a host",
						Action: credentialSet,
					},
					{
						Name:   "delete",
						Usage:  "delete a credential field for a host",
						Action: credentialDelete,
					},
					{
						Name:   "list",
						Usage:  "list stored credential fields for a host",
						Action: credentialList,
					},
				},
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints the installed version of hostup",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
