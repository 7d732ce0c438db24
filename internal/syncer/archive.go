package syncer

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/antonkrylov/mlbox/internal/sshx"
)

// pushArchive streams a tar of the admitted files through the channel
// and unpacks it remotely. Fallback path for hosts without rsync; it is
// a full transfer, not a delta, so rsync stays the default.
func (e *Engine) pushArchive(ctx context.Context, localRoot, remoteDir string, excl *ExcludeSet) error {
	files, err := Plan(localRoot, excl)
	if err != nil {
		return &TransferError{Side: "local", Op: "plan", Err: err}
	}

	useZstd := e.remoteHas(ctx, "zstd")
	ext := ".tar"
	if useZstd {
		ext = ".tar.zst"
	}
	tmp := "/tmp/mlbox-" + uuid.NewString() + ext

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeArchive(pw, localRoot, files, useZstd))
	}()

	if err := e.runner.Upload(ctx, pr, tmp, "0600"); err != nil {
		pr.CloseWithError(err)
		return &TransferError{Side: "remote", Op: "archive", Err: err}
	}

	unpack := fmt.Sprintf("mkdir -p %s && tar -xf %s -C %s && rm -f %s", remoteDir, tmp, remoteDir, tmp)
	if useZstd {
		unpack = fmt.Sprintf("mkdir -p %s && zstd -q -d -c %s | tar -xf - -C %s && rm -f %s", remoteDir, tmp, remoteDir, tmp)
	}
	res, err := e.runner.Run(ctx, unpack, sshx.RunOptions{})
	if err != nil {
		return &TransferError{Side: "remote", Op: "archive", Err: err}
	}
	if res.ExitCode != 0 {
		return &TransferError{Side: "remote", Op: "archive", Err: fmt.Errorf("unpack exited %d: %s", res.ExitCode, res.TailString())}
	}
	return nil
}

func (e *Engine) remoteHas(ctx context.Context, tool string) bool {
	res, err := e.runner.Run(ctx, "command -v "+tool, sshx.RunOptions{})
	return err == nil && res.ExitCode == 0
}

// writeArchive tars the given files relative to root into w, optionally
// through zstd. Symlinks are preserved as links.
func writeArchive(w io.Writer, root string, files []string, useZstd bool) error {
	var zw *zstd.Encoder
	dst := w
	if useZstd {
		var err error
		if zw, err = zstd.NewWriter(w); err != nil {
			return err
		}
		dst = zw
	}
	tw := tar.NewWriter(dst)

	for _, rel := range files {
		if err := addFile(tw, root, rel); err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

func addFile(tw *tar.Writer, root, rel string) error {
	path := filepath.Join(root, rel)
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = rel
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
