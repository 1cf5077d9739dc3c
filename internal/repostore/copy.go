package repostore

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/otiai10/copy"
	progressbar "github.com/schollz/progressbar/v3"
)

// copyTree copies src into the not yet existing dst, keeping modes and symlinks.
func copyTree(src, dst string, progress io.Writer, description string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("copy destination %s already exists", dst)
	}

	total, err := treeSize(src)
	if err != nil {
		return err
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(progress) }),
	)

	err = copy.Copy(src, dst, copy.Options{
		OnSymlink: func(string) copy.SymlinkAction { return copy.Shallow },
		PermissionControl: copy.PerservePermission,
		WrapReader: func(r io.Reader) io.Reader {
			return io.TeeReader(r, bar)
		},
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return bar.Finish()
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", root, err)
	}
	return total, nil
}
