package adapter

import "golang.org/x/sys/unix"

// statfsResult is the subset of unix.Statfs_t diskFilesystem.DF needs.
type statfsResult struct {
	Bsize  int64
	Blocks uint64
	BFree  uint64
	BAvail uint64
}

func statfs(path string, out *statfsResult) error {
	var raw unix.Statfs_t
	if err := unix.Statfs(path, &raw); err != nil {
		return err
	}
	out.Bsize = int64(raw.Bsize)
	out.Blocks = raw.Blocks
	out.BFree = raw.Bfree
	out.BAvail = raw.Bavail
	return nil
}
