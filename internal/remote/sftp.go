package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/workflowo/internal/task"
)

// remoteDirMode is applied to directories created on the remote host.
const remoteDirMode fs.FileMode = 0o774

// copyConcurrency bounds the files of one tree transfer copied at once.
const copyConcurrency = 4

var errExists = errors.New("already exists")

// fileCopy is one regular file of a directory tree transfer.
type fileCopy struct {
	src, dst string
	perm     fs.FileMode
}

// copyFiles runs fn for every file with bounded concurrency. The first
// failure stops copies that have not started yet; copies already in flight
// run to completion before copyFiles returns, so their files may exist at
// the destination.
func copyFiles(ctx context.Context, files []fileCopy, fn func(fileCopy) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(copyConcurrency)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(f)
		})
	}
	return g.Wait()
}

// sftpTransfer copies files and directory trees. Existing destinations are
// never overwritten.
type sftpTransfer struct {
	client *sftp.Client
	conn   io.Closer // underlying SSH connection, nil in tests
}

func newSFTPTransfer(client *ssh.Client) (*sftpTransfer, error) {
	c, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	return &sftpTransfer{client: c, conn: client}, nil
}

func (t *sftpTransfer) Close() error {
	err := t.client.Close()
	if t.conn != nil {
		if cerr := t.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (t *sftpTransfer) Transfer(ctx context.Context, req task.Transfer) error {
	if req.Download {
		return t.download(ctx, req.LocalPath, req.RemotePath)
	}
	return t.upload(ctx, req.LocalPath, req.RemotePath)
}

// download copies remote to local. A remote file may land inside an
// existing local directory under its own name; a remote directory is copied
// to a new local directory whose parent must exist.
func (t *sftpTransfer) download(ctx context.Context, local, remote string) error {
	info, err := t.client.Stat(remote)
	if err != nil {
		return fmt.Errorf("stat remote %s: %w", remote, err)
	}

	if !info.IsDir() {
		if li, err := os.Stat(local); err == nil {
			if !li.IsDir() {
				return fmt.Errorf("local file %s: %w", local, errExists)
			}
			local = filepath.Join(local, path.Base(remote))
		}
		return t.downloadFile(local, remote, info.Mode().Perm())
	}

	if _, err := os.Stat(local); err == nil {
		return fmt.Errorf("local directory %s: %w", local, errExists)
	}
	if _, err := os.Stat(filepath.Dir(local)); err != nil {
		return fmt.Errorf("local parent of %s: %w", local, err)
	}
	return t.downloadDir(ctx, local, remote, info.Mode().Perm())
}

func (t *sftpTransfer) downloadDir(ctx context.Context, local, remote string, perm fs.FileMode) error {
	var files []fileCopy
	if err := t.mirrorRemoteTree(ctx, local, remote, perm, &files); err != nil {
		return err
	}
	return copyFiles(ctx, files, func(f fileCopy) error {
		return t.downloadFile(f.dst, f.src, f.perm)
	})
}

// mirrorRemoteTree creates the local directories of the remote tree and
// collects the regular files to copy into them.
func (t *sftpTransfer) mirrorRemoteTree(ctx context.Context, local, remote string, perm fs.FileMode, files *[]fileCopy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Mkdir(local, perm|0o700); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	entries, err := t.client.ReadDir(remote)
	if err != nil {
		return fmt.Errorf("list remote %s: %w", remote, err)
	}
	for _, e := range entries {
		src := t.client.Join(remote, e.Name())
		dst := filepath.Join(local, e.Name())
		switch {
		case e.IsDir():
			if err := t.mirrorRemoteTree(ctx, dst, src, e.Mode().Perm(), files); err != nil {
				return err
			}
		case e.Mode().IsRegular():
			*files = append(*files, fileCopy{src: src, dst: dst, perm: e.Mode().Perm()})
		}
	}
	return nil
}

func (t *sftpTransfer) downloadFile(local, remote string, perm fs.FileMode) error {
	src, err := t.client.Open(remote)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remote, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("local file %s: %w", local, errExists)
		}
		return fmt.Errorf("create local %s: %w", local, err)
	}
	if _, err := src.WriteTo(dst); err != nil {
		dst.Close()
		return fmt.Errorf("copy %s: %w", remote, err)
	}
	return dst.Close()
}

// upload copies local to remote. A local file may land inside an existing
// remote directory under its own name; a local directory must not exist
// remotely yet.
func (t *sftpTransfer) upload(ctx context.Context, local, remote string) error {
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("stat local %s: %w", local, err)
	}

	if !info.IsDir() {
		if ri, err := t.client.Stat(remote); err == nil {
			if !ri.IsDir() {
				return fmt.Errorf("remote file %s: %w", remote, errExists)
			}
			remote = t.client.Join(remote, filepath.Base(local))
		}
		return t.uploadFile(local, remote, info.Mode().Perm())
	}

	if _, err := t.client.Stat(remote); err == nil {
		return fmt.Errorf("remote directory %s: %w", remote, errExists)
	}
	return t.uploadDir(ctx, local, remote)
}

func (t *sftpTransfer) uploadDir(ctx context.Context, local, remote string) error {
	var files []fileCopy
	if err := t.mirrorLocalTree(ctx, local, remote, &files); err != nil {
		return err
	}
	return copyFiles(ctx, files, func(f fileCopy) error {
		return t.uploadFile(f.src, f.dst, f.perm)
	})
}

// mirrorLocalTree creates the remote directories of the local tree and
// collects the regular files to copy into them.
func (t *sftpTransfer) mirrorLocalTree(ctx context.Context, local, remote string, files *[]fileCopy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.client.Mkdir(remote); err != nil {
		return fmt.Errorf("create remote directory %s: %w", remote, err)
	}
	if err := t.client.Chmod(remote, remoteDirMode); err != nil {
		return fmt.Errorf("chmod remote %s: %w", remote, err)
	}
	entries, err := os.ReadDir(local)
	if err != nil {
		return fmt.Errorf("list local %s: %w", local, err)
	}
	for _, e := range entries {
		src := filepath.Join(local, e.Name())
		dst := t.client.Join(remote, e.Name())
		switch {
		case e.IsDir():
			if err := t.mirrorLocalTree(ctx, src, dst, files); err != nil {
				return err
			}
		case e.Type().IsRegular():
			info, err := e.Info()
			if err != nil {
				return err
			}
			*files = append(*files, fileCopy{src: src, dst: dst, perm: info.Mode().Perm()})
		}
	}
	return nil
}

func (t *sftpTransfer) uploadFile(local, remote string, perm fs.FileMode) error {
	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open local %s: %w", local, err)
	}
	defer src.Close()

	dst, err := t.client.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", remote, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return fmt.Errorf("copy %s: %w", local, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return t.client.Chmod(remote, perm)
}
