package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli"

	cmdCommon "github.com/hostup/hostup/cmd/common"
	"github.com/hostup/hostup/pkg/hostcli"
	"github.com/hostup/hostup/pkg/hostlib"
)

var (
	listHost   string
	listStatus string

	listFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "host, H",
			Usage:       "only show uploads for this host",
			Destination: &listHost,
		},
		cli.StringFlag{
			Name:        "status, s",
			Usage:       "only show uploads with this status (pending, uploading, completed, failed)",
			Destination: &listStatus,
		},
	}
)

// newDaemonClient spawns the daemon if it is not already running and
// returns a connected client.
func newDaemonClient(events *hostcli.Events) (*hostcli.Client, error) {
	if err := hostcli.EnsureDaemon(); err != nil {
		return nil, err
	}
	return hostcli.NewClient(events)
}

func list(ctx *cli.Context) error {
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "list", "new_client", err)
		return nil
	}
	defer client.Close()

	jobs, err := client.ListUploads(context.Background(), listHost, listStatus)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "list", "list_uploads", err)
		return nil
	}
	if len(jobs) == 0 {
		fmt.Println("No uploads found.")
		return nil
	}

	w := tabwriter.NewWriter(ctx.App.Writer, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOST\tNAME\tSTATUS\tPROGRESS\tURL")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Host, job.DisplayName, job.Status,
			formatProgress(job), job.DownloadURL,
		)
	}
	return w.Flush()
}

func formatProgress(job *hostlib.UploadJob) string {
	if job.TotalBytes <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d%%", job.UploadedBytes*100/job.TotalBytes)
}

func cancel(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no job id provided"))
	}
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "cancel", "new_client", err)
		return nil
	}
	defer client.Close()

	if err := client.CancelUpload(context.Background(), id); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "cancel", "cancel_upload", err)
		return nil
	}
	fmt.Println("Cancelled", id)
	return nil
}

func remove(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no job id provided"))
	}
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "remove", "new_client", err)
		return nil
	}
	defer client.Close()

	if err := client.RemoveUpload(context.Background(), id); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "remove", "remove_upload", err)
		return nil
	}
	fmt.Println("Removed", id)
	return nil
}
