package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	cmdCommon "github.com/hostup/hostup/cmd/common"
	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/pkg/hostcli"
)

var (
	uploadName string
	uploadAt   string
	uploadCron string
	background bool

	uploadFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "name, n",
			Usage:       "explicitly set the archive display name (folder name if not specified)",
			Destination: &uploadName,
		},
		cli.StringFlag{
			Name:        "at",
			Usage:       "schedule the upload for a later time (RFC 3339)",
			Destination: &uploadAt,
		},
		cli.StringFlag{
			Name:        "cron",
			Usage:       "repeat the upload on a cron schedule",
			Destination: &uploadCron,
		},
		cli.BoolFlag{
			Name:        "background, b",
			Usage:       "queue the upload and return without waiting",
			Destination: &background,
		},
	}
)

func upload(ctx *cli.Context) error {
	host := ctx.Args().First()
	if host == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, errors.New("no host provided"))
	}
	sourceDir := ctx.Args().Get(1)
	if sourceDir == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, errors.New("no folder provided"))
	}
	sourceDir = strings.TrimSpace(sourceDir)
	abs, err := filepath.Abs(sourceDir)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "upload", "resolve_path", err)
		return nil
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("not a folder: %s", sourceDir))
	}

	params := &common.UploadAddParams{
		Host:        host,
		SourceDir:   abs,
		DisplayName: uploadName,
		Cron:        uploadCron,
	}
	if uploadAt != "" {
		at, err := time.Parse(time.RFC3339, uploadAt)
		if err != nil {
			return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("bad --at value: %s", err.Error()))
		}
		params.ScheduleAt = at
	}

	if err := hostcli.EnsureDaemon(); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "upload", "ensure_daemon", err)
		return nil
	}

	scheduled := uploadAt != "" || uploadCron != ""
	if background || scheduled {
		client, err := hostcli.NewClient(nil)
		if err != nil {
			cmdCommon.PrintRuntimeErr(ctx, "upload", "new_client", err)
			return nil
		}
		defer client.Close()
		id, err := client.AddUpload(context.Background(), params)
		if err != nil {
			cmdCommon.PrintRuntimeErr(ctx, "upload", "add", err)
			return nil
		}
		if scheduled {
			fmt.Printf("Scheduled upload %s to %s\n", id, host)
		} else {
			fmt.Printf("Queued upload %s to %s\n", id, host)
		}
		return nil
	}

	return uploadAndWatch(ctx, params)
}

// uploadAndWatch queues the upload and renders its progress until the
// daemon reports completion or failure.
func uploadAndWatch(ctx *cli.Context, params *common.UploadAddParams) error {
	rr := time.Millisecond * 30
	sc := NewSpeedCounter(rr)
	p := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(rr))

	var (
		mu       sync.Mutex
		jobID    string
		bar      *mpb.Bar
		lastSent int64
	)
	done := make(chan error, 1)

	events := &hostcli.Events{
		UploadStarted: func(n common.UploadStartedNotification) {
			mu.Lock()
			defer mu.Unlock()
			if n.ID != jobID || bar != nil {
				return
			}
			name := params.DisplayName
			if name == "" {
				name = filepath.Base(params.SourceDir)
			}
			bar = cmdCommon.InitUploadBar(p, name, n.TotalBytes)
			sc.SetBar(bar)
			sc.Start()
		},
		UploadProgress: func(n common.UploadProgressNotification) {
			mu.Lock()
			defer mu.Unlock()
			if n.ID != jobID {
				return
			}
			if delta := n.UploadedBytes - lastSent; delta > 0 {
				sc.IncrBy(int(delta))
				lastSent = n.UploadedBytes
			}
		},
		UploadComplete: func(n common.UploadCompleteNotification) {
			mu.Lock()
			id := jobID
			b := bar
			mu.Unlock()
			if n.ID != id {
				return
			}
			if b != nil {
				b.SetTotal(-1, true)
			}
			fmt.Printf("\nUpload complete: %s\n", n.DownloadURL)
			done <- nil
		},
		UploadFailed: func(n common.UploadFailedNotification) {
			mu.Lock()
			id := jobID
			mu.Unlock()
			if n.ID != id {
				return
			}
			done <- errors.New(n.Error)
		},
	}

	client, err := hostcli.NewClient(events)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "upload", "new_client", err)
		return nil
	}
	defer client.Close()

	fmt.Printf(">> Queueing upload to %s <<\n", params.Host)
	mu.Lock()
	jobID, err = client.AddUpload(context.Background(), params)
	mu.Unlock()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "upload", "add", err)
		return nil
	}

	err = <-done
	sc.Stop()
	p.Wait()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "upload", "transfer", err)
	}
	return nil
}
