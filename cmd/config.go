package cmd

const DESCRIPTION = `
Hostup is a one-click-hoster upload daemon. It packages folders
into archives and pushes them to configured file hosts, handling
authentication, retries and scheduling so a queued upload
eventually lands on every enabled host.
`

const (
	UploadDescription = `The upload command packages a folder and queues it for
upload to a host. The daemon archives the folder, authenticates
against the host and streams the archive up, retrying transient
failures.

Example:
        hostup upload sharebox ./photos
        hostup upload sharebox ./backups --cron "0 3 * * *"

`
	ListDescription = `The list command displays queued, running and finished
uploads along with their job ids, which other commands accept.

Example:
        hostup list
        hostup list --host sharebox --status pending

`
	HostsDescription = `The hosts command manages the configured file hosts.
Without a subcommand it lists every host with its enabled and
running state.

Example:
        hostup hosts
        hostup hosts enable sharebox

`
	TestDescription = `The test command asks a running host worker to verify its
connection by uploading and deleting a small probe file.

Example:
        hostup test sharebox

`
	StorageDescription = `The storage command fetches the remaining storage quota
for a running host.

Example:
        hostup storage sharebox

`
	StatsDescription = `The stats command shows per-host transfer totals and the
uploads currently holding connection slots.

Example:
        hostup stats
        hostup stats --host sharebox

`
	CredentialDescription = `The credential command manages stored host credentials.
Values are encrypted at rest and never printed back.

Example:
        hostup credential set sharebox username alice
        hostup credential list sharebox

`
	CancelDescription = `The cancel command stops a running upload or fails a
pending one before it starts.

Example:
        hostup cancel <job id>

`
)
