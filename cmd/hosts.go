package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	cmdCommon "github.com/hostup/hostup/cmd/common"
	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/pkg/hostcli"
)

// spinupTimeout bounds the wait for a host worker's login round trip.
const spinupTimeout = 2 * time.Minute

func hostsList(ctx *cli.Context) error {
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "hosts", "new_client", err)
		return nil
	}
	defer client.Close()

	hosts, err := client.ListHosts(context.Background())
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "hosts", "list_hosts", err)
		return nil
	}
	if len(hosts) == 0 {
		fmt.Println("No hosts configured.")
		return nil
	}

	w := tabwriter.NewWriter(ctx.App.Writer, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tENABLED\tSTATE")
	for _, h := range hosts {
		state := h.State
		if !h.Running {
			state = "stopped"
		}
		fmt.Fprintf(w, "%s\t%v\t%s\n", h.Name, h.Enabled, state)
	}
	return w.Flush()
}

func hostEnable(ctx *cli.Context) error {
	host := ctx.Args().First()
	if host == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no host provided"))
	}

	done := make(chan common.SpinupCompleteNotification, 1)
	events := &hostcli.Events{
		SpinupComplete: func(n common.SpinupCompleteNotification) {
			if n.Host == host {
				done <- n
			}
		},
	}
	client, err := newDaemonClient(events)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "hosts enable", "new_client", err)
		return nil
	}
	defer client.Close()

	if err := client.EnableHost(context.Background(), host); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "hosts enable", "enable_host", err)
		return nil
	}
	fmt.Printf("Enabling %s, waiting for login...\n", host)

	select {
	case n := <-done:
		if n.Error != "" {
			cmdCommon.PrintRuntimeErr(ctx, "hosts enable", "spinup",
				fmt.Errorf("%s", n.Error))
			return nil
		}
		fmt.Printf("%s is up.\n", host)
	case <-time.After(spinupTimeout):
		cmdCommon.PrintRuntimeErr(ctx, "hosts enable", "spinup",
			fmt.Errorf("timed out waiting for %s to come up", host))
	}
	return nil
}

func hostDisable(ctx *cli.Context) error {
	return hostAction(ctx, "hosts disable", "Disabled",
		func(c *hostcli.Client, host string) error {
			return c.DisableHost(context.Background(), host)
		})
}

func hostPause(ctx *cli.Context) error {
	return hostAction(ctx, "hosts pause", "Paused",
		func(c *hostcli.Client, host string) error {
			return c.PauseHost(context.Background(), host)
		})
}

func hostResume(ctx *cli.Context) error {
	return hostAction(ctx, "hosts resume", "Resumed",
		func(c *hostcli.Client, host string) error {
			return c.ResumeHost(context.Background(), host)
		})
}

func hostAction(ctx *cli.Context, scope, verb string, fn func(*hostcli.Client, string) error) error {
	host := ctx.Args().First()
	if host == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no host provided"))
	}
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, scope, "new_client", err)
		return nil
	}
	defer client.Close()

	if err := fn(client, host); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, scope, "host_op", err)
		return nil
	}
	fmt.Printf("%s %s.\n", verb, host)
	return nil
}

func hostTest(ctx *cli.Context) error {
	host := ctx.Args().First()
	if host == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no host provided"))
	}

	done := make(chan common.TestCompleteNotification, 1)
	events := &hostcli.Events{
		TestComplete: func(n common.TestCompleteNotification) {
			if n.Host == host {
				done <- n
			}
		},
	}
	client, err := newDaemonClient(events)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "test", "new_client", err)
		return nil
	}
	defer client.Close()

	if err := client.TestHost(context.Background(), host); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "test", "test_host", err)
		return nil
	}
	fmt.Printf("Testing %s...\n", host)

	select {
	case n := <-done:
		printTestResult(n)
	case <-time.After(spinupTimeout):
		cmdCommon.PrintRuntimeErr(ctx, "test", "test_host",
			fmt.Errorf("timed out waiting for test result from %s", host))
	}
	return nil
}

func printTestResult(n common.TestCompleteNotification) {
	r := n.Result
	fmt.Printf("Test results for %s:\n", n.Host)
	fmt.Printf("  credentials: %s\n", passFail(r.CredentialsOK))
	fmt.Printf("  account:     %s\n", passFail(r.UserInfoOK))
	fmt.Printf("  upload:      %s\n", passFail(r.UploadOK))
	fmt.Printf("  delete:      %s\n", passFail(r.DeleteOK))
	if r.Passed {
		fmt.Println("All checks passed.")
	} else if r.Message != "" {
		fmt.Println("Failed:", r.Message)
	}
}

func passFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func hostStorage(ctx *cli.Context) error {
	host := ctx.Args().First()
	if host == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no host provided"))
	}
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "storage", "new_client", err)
		return nil
	}
	defer client.Close()

	res, err := client.CheckStorage(context.Background(), host)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "storage", "check_storage", err)
		return nil
	}
	info := res.Info
	fmt.Printf("Storage on %s:\n", res.Host)
	fmt.Printf("  total: %s\n", formatBytes(info.StorageTotal))
	fmt.Printf("  used:  %s\n", formatBytes(info.StorageUsed))
	fmt.Printf("  free:  %s\n", formatBytes(info.StorageLeft))
	if info.Premium {
		fmt.Println("  premium account")
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
