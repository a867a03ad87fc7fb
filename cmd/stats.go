package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	cmdCommon "github.com/hostup/hostup/cmd/common"
)

var (
	statsHost string

	statsFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "host, H",
			Usage:       "only show figures for this host",
			Destination: &statsHost,
		},
	}
)

func stats(ctx *cli.Context) error {
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "stats", "new_client", err)
		return nil
	}
	defer client.Close()

	res, err := client.Stats(context.Background(), statsHost)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "stats", "stats_get", err)
		return nil
	}

	if len(res.Hosts) == 0 {
		fmt.Println("No transfer history.")
	} else {
		w := tabwriter.NewWriter(ctx.App.Writer, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HOST\tUPLOADS\tFAILURES\tBYTES")
		for _, h := range res.Hosts {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
				h.Host, h.Uploads, h.Failures, formatBytes(h.Bytes))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(res.Active) > 0 {
		fmt.Println()
		fmt.Println("Active uploads:")
		for _, a := range res.Active {
			fmt.Printf("  %s on %s (running %s)\n",
				a.JobID, a.Host, time.Since(a.Since).Round(time.Second))
		}
	}
	return nil
}
