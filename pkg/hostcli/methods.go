package hostcli

import (
	"context"

	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/pkg/hostlib"
)

func invoke[T any](ctx context.Context, c *Client, method string, params any) (*T, error) {
	var out T
	if err := c.call(ctx, method, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Version returns the daemon's build information.
func (c *Client) Version(ctx context.Context) (*common.VersionResult, error) {
	return invoke[common.VersionResult](ctx, c, common.MethodVersion, nil)
}

// AddUpload enqueues a new upload job and returns its id.
func (c *Client) AddUpload(ctx context.Context, params *common.UploadAddParams) (string, error) {
	res, err := invoke[common.UploadAddResult](ctx, c, common.MethodUploadAdd, params)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// ListUploads returns jobs, newest first, optionally filtered by host
// and status.
func (c *Client) ListUploads(ctx context.Context, host, status string) ([]*hostlib.UploadJob, error) {
	res, err := invoke[common.UploadListResult](ctx, c, common.MethodUploadList, &common.UploadListParams{
		Host: host, Status: status,
	})
	if err != nil {
		return nil, err
	}
	return res.Uploads, nil
}

// UploadStatus returns one job by id.
func (c *Client) UploadStatus(ctx context.Context, id string) (*hostlib.UploadJob, error) {
	return invoke[hostlib.UploadJob](ctx, c, common.MethodUploadStatus, &common.UploadIDParams{ID: id})
}

// CancelUpload stops a running or pending job.
func (c *Client) CancelUpload(ctx context.Context, id string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodUploadCancel, &common.UploadIDParams{ID: id})
	return err
}

// RemoveUpload deletes a job record and any pending schedule.
func (c *Client) RemoveUpload(ctx context.Context, id string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodUploadRemove, &common.UploadIDParams{ID: id})
	return err
}

// ListHosts returns all configured hosts with their enabled and
// running state.
func (c *Client) ListHosts(ctx context.Context) ([]common.HostInfo, error) {
	res, err := invoke[common.HostListResult](ctx, c, common.MethodHostList, nil)
	if err != nil {
		return nil, err
	}
	return res.Hosts, nil
}

// EnableHost starts the host's worker. The spinup outcome arrives as a
// notification.
func (c *Client) EnableHost(ctx context.Context, host string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodHostEnable, &common.HostParams{Host: host})
	return err
}

// DisableHost stops the host's worker.
func (c *Client) DisableHost(ctx context.Context, host string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodHostDisable, &common.HostParams{Host: host})
	return err
}

// PauseHost suspends job dispatch for the host.
func (c *Client) PauseHost(ctx context.Context, host string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodHostPause, &common.HostParams{Host: host})
	return err
}

// ResumeHost resumes job dispatch for the host.
func (c *Client) ResumeHost(ctx context.Context, host string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodHostResume, &common.HostParams{Host: host})
	return err
}

// TestHost queues a connection test; the result arrives as a
// notification.
func (c *Client) TestHost(ctx context.Context, host string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodHostTest, &common.HostParams{Host: host})
	return err
}

// CheckStorage fetches the host's storage quota.
func (c *Client) CheckStorage(ctx context.Context, host string) (*common.StorageResult, error) {
	return invoke[common.StorageResult](ctx, c, common.MethodHostStorage, &common.HostParams{Host: host})
}

// Stats returns per-host transfer aggregates and currently active
// uploads. An empty host selects all hosts.
func (c *Client) Stats(ctx context.Context, host string) (*common.StatsResult, error) {
	return invoke[common.StatsResult](ctx, c, common.MethodStats, &common.StatsParams{Host: host})
}

// SetCredential stores one credential field for a host.
func (c *Client) SetCredential(ctx context.Context, host, field, value string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodCredentialSet, &common.CredentialSetParams{
		Host: host, Field: field, Value: value,
	})
	return err
}

// DeleteCredential removes one credential field for a host.
func (c *Client) DeleteCredential(ctx context.Context, host, field string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodCredentialDelete, &common.CredentialDeleteParams{
		Host: host, Field: field,
	})
	return err
}

// ListCredentials lists the stored credential field names for a host.
// Values never cross the wire.
func (c *Client) ListCredentials(ctx context.Context, host string) ([]string, error) {
	res, err := invoke[common.CredentialListResult](ctx, c, common.MethodCredentialList, &common.HostParams{Host: host})
	if err != nil {
		return nil, err
	}
	return res.Fields, nil
}
