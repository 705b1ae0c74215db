package adapter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// DiskBundle is the disk family's capability Bundle: a loopback-mountable
// ext4 image per medium, no mechanical library and no per-drive control
// surface since a disk "drive" is just a directory of image files.
//
// Grounded on the teacher's internal/volume.Manager.createExt4Image,
// which shells to mkfs.ext4 against a truncated sparse file; Mount/Umount
// extend that pattern to the mount(8)/umount(8) commands.
func DiskBundle() Bundle {
	fs := &diskFilesystem{}
	return Bundle{
		Filesystem: fs,
		IO:         &osFileIO{},
	}
}

type diskFilesystem struct{}

func (diskFilesystem) Format(ctx context.Context, devPath, label string) (SpaceInfo, error) {
	cmd := exec.CommandContext(ctx, "mkfs.ext4", "-F", "-q", "-L", label, devPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return SpaceInfo{}, fmt.Errorf("adapter: mkfs.ext4 %s: %w: %s", devPath, err, out)
	}
	return diskDF(ctx, devPath)
}

func (diskFilesystem) Mount(ctx context.Context, devPath, mountPath, label string) error {
	got, err := diskFilesystem{}.GetLabel(ctx, devPath)
	if err != nil {
		return err
	}
	if got != label {
		return fmt.Errorf("adapter: medium label mismatch: on-disk %q, requested %q", got, label)
	}
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("adapter: mkdir %s: %w", mountPath, err)
	}
	cmd := exec.CommandContext(ctx, "mount", devPath, mountPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adapter: mount %s: %w: %s", devPath, err, out)
	}
	return nil
}

func (diskFilesystem) Umount(ctx context.Context, mountPath string) error {
	cmd := exec.CommandContext(ctx, "umount", mountPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adapter: umount %s: %w: %s", mountPath, err, out)
	}
	return nil
}

func (diskFilesystem) MountedAt(ctx context.Context, devPath string) (string, bool, error) {
	out, err := exec.CommandContext(ctx, "findmnt", "-n", "-o", "TARGET", "-S", devPath).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "", false, nil // findmnt: not mounted
		}
		return "", false, fmt.Errorf("adapter: findmnt %s: %w", devPath, err)
	}
	target := strings.TrimSpace(string(out))
	if target == "" {
		return "", false, nil
	}
	return target, true, nil
}

func diskDF(ctx context.Context, devPath string) (SpaceInfo, error) {
	out, err := exec.CommandContext(ctx, "dumpe2fs", "-h", devPath).Output()
	if err != nil {
		return SpaceInfo{}, fmt.Errorf("adapter: dumpe2fs %s: %w", devPath, err)
	}
	return parseDumpe2fs(string(out)), nil
}

// parseDumpe2fs extracts the three dumpe2fs -h fields Format needs from
// its colon-separated "Key: value" output.
func parseDumpe2fs(out string) SpaceInfo {
	var blockSize, blockCount, freeBlocks int64
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch key {
		case "Block size":
			blockSize, _ = strconv.ParseInt(val, 10, 64)
		case "Block count":
			blockCount, _ = strconv.ParseInt(val, 10, 64)
		case "Free blocks":
			freeBlocks, _ = strconv.ParseInt(val, 10, 64)
		}
	}
	return SpaceInfo{
		PhysUsedBytes: (blockCount - freeBlocks) * blockSize,
		PhysFreeBytes: freeBlocks * blockSize,
	}
}

func (diskFilesystem) DF(ctx context.Context, mountPath string) (SpaceInfo, error) {
	var stat statfsResult
	if err := statfs(mountPath, &stat); err != nil {
		return SpaceInfo{}, fmt.Errorf("adapter: statfs %s: %w", mountPath, err)
	}
	return SpaceInfo{
		PhysUsedBytes: int64(stat.Blocks-stat.BFree) * int64(stat.Bsize),
		PhysFreeBytes: int64(stat.BAvail) * int64(stat.Bsize),
	}, nil
}

func (diskFilesystem) GetLabel(ctx context.Context, devPath string) (string, error) {
	out, err := exec.CommandContext(ctx, "e2label", devPath).Output()
	if err != nil {
		return "", fmt.Errorf("adapter: e2label %s: %w", devPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}

