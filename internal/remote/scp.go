package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"

	scp "github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"

	"github.com/msageha/workflowo/internal/task"
)

// scpTransfer copies single files with the scp protocol.
type scpTransfer struct {
	client scp.Client
	conn   *ssh.Client
}

func newSCPTransfer(client *ssh.Client) (*scpTransfer, error) {
	c, err := scp.NewClientBySSH(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("start scp: %w", err)
	}
	return &scpTransfer{client: c, conn: client}, nil
}

func (t *scpTransfer) Close() error {
	t.client.Close()
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (t *scpTransfer) Transfer(ctx context.Context, req task.Transfer) error {
	if req.Download {
		return t.download(ctx, req.LocalPath, req.RemotePath)
	}
	return t.upload(ctx, req.LocalPath, req.RemotePath)
}

func (t *scpTransfer) upload(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open local %s: %w", local, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory; scp copies single files, use sftp-upload", local)
	}
	return t.client.CopyFile(ctx, f, remote, permString(info.Mode()))
}

func (t *scpTransfer) download(ctx context.Context, local, remote string) error {
	local, err := downloadTarget(local, remote)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create local %s: %w", local, err)
	}
	if err := t.client.CopyFromRemotePassThru(ctx, f, remote, nil); err != nil {
		f.Close()
		os.Remove(local)
		return err
	}
	return f.Close()
}

// downloadTarget places a download inside local when local is an existing
// directory, and refuses to replace an existing file.
func downloadTarget(local, remote string) (string, error) {
	info, err := os.Stat(local)
	if err != nil {
		return local, nil
	}
	if !info.IsDir() {
		return "", fmt.Errorf("local file %s: %w", local, errExists)
	}
	return filepath.Join(local, path.Base(remote)), nil
}

// permString formats a mode the way scp expects it, e.g. "0644".
func permString(mode fs.FileMode) string {
	return fmt.Sprintf("%04o", mode.Perm())
}
