package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// TapeBundle is the tape family's capability Bundle: a SCSI medium
// changer fronted by mtx(1), per-drive status via mt(1), and LTFS as the
// mountable filesystem layer (mkltfs to format, ltfs to fuse-mount).
//
// Grounded the same way as DiskBundle, on the teacher's
// internal/volume.Manager shelling pattern, extended here to the tape
// toolchain. The changer calls (Open, Scan, Move), Drive.Query and
// Filesystem.GetLabel additionally run under WithSCSIRetry since a
// changer shares one physical bus across drives (scsi.go); Format,
// Mount, Umount, MountedAt and DF do not.
func TapeBundle(changerPath string) Bundle {
	return Bundle{
		Library:    &tapeLibrary{changerPath: changerPath},
		Drive:      &tapeDrive{},
		Filesystem: &tapeFilesystem{},
		IO:         &osFileIO{},
	}
}

type tapeLibrary struct {
	changerPath string
}

func (l *tapeLibrary) Open(ctx context.Context) error {
	return WithSCSIRetry(ctx, func(ctx context.Context) error {
		return exec.CommandContext(ctx, "mtx", "-f", l.changerPath, "status").Run()
	})
}

func (l *tapeLibrary) Close() error { return nil }

var (
	mtxElementHeader = regexp.MustCompile(`^\s*(Data Transfer Element|Storage Element|Import/Export Element)\s+(\d+):(Full|Empty)`)
	mtxVolumeTag     = regexp.MustCompile(`VolumeTag\s*=\s*(\S+)`)
)

// Scan runs mtx status and returns its raw output for the caller (or a
// higher layer) to reconcile against the DSS's recorded slot map.
func (l *tapeLibrary) Scan(ctx context.Context) ([]byte, error) {
	var out []byte
	err := WithSCSIRetry(ctx, func(ctx context.Context) error {
		o, err := exec.CommandContext(ctx, "mtx", "-f", l.changerPath, "status").Output()
		out = o
		return err
	})
	return out, err
}

func (l *tapeLibrary) parseElements(ctx context.Context) ([]mtxElement, error) {
	raw, err := l.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("adapter: mtx status: %w", err)
	}
	return parseMtxStatus(string(raw))
}

// parseMtxStatus extracts element rows from mtx(1)'s status output.
func parseMtxStatus(raw string) ([]mtxElement, error) {
	var elems []mtxElement
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		m := mtxElementHeader.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr, _ := strconv.ParseUint(m[2], 10, 32)
		var kind LocationKind
		switch m[1] {
		case "Data Transfer Element":
			kind = LocationDrive
		case "Storage Element":
			kind = LocationSlot
		case "Import/Export Element":
			kind = LocationImpExp
		}
		var label string
		if tag := mtxVolumeTag.FindStringSubmatch(line); tag != nil {
			label = tag[1]
		}
		elems = append(elems, mtxElement{
			loc:   Location{Kind: kind, Addr: uint32(addr)},
			full:  m[3] == "Full",
			label: label,
		})
	}
	return elems, sc.Err()
}

type mtxElement struct {
	loc   Location
	full  bool
	label string
}

func (l *tapeLibrary) DriveLookup(ctx context.Context, serial string) (Location, error) {
	elems, err := l.parseElements(ctx)
	if err != nil {
		return Location{}, err
	}
	for _, e := range elems {
		if e.loc.Kind == LocationDrive {
			return e.loc, nil
		}
	}
	return Location{}, fmt.Errorf("adapter: no data transfer element reported by changer %s", l.changerPath)
}

func (l *tapeLibrary) MediumLookup(ctx context.Context, label string) (Location, error) {
	elems, err := l.parseElements(ctx)
	if err != nil {
		return Location{}, err
	}
	for _, e := range elems {
		if e.full && e.label == label {
			return e.loc, nil
		}
	}
	return Location{}, fmt.Errorf("adapter: medium %q not found in changer %s", label, l.changerPath)
}

func (l *tapeLibrary) Move(ctx context.Context, src, dst Location) error {
	return WithSCSIRetry(ctx, func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "mtx", "-f", l.changerPath, "transfer",
			strconv.FormatUint(uint64(src.Addr), 10), strconv.FormatUint(uint64(dst.Addr), 10))
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("mtx transfer %d->%d: %w: %s", src.Addr, dst.Addr, err, out)
		}
		return nil
	})
}

// tapeDrive's Load/Eject are no-ops: mtx's transfer already performs the
// physical load/unload as part of Library.Move, per Drive's doc comment.
type tapeDrive struct{}

func (tapeDrive) Load(ctx context.Context, path string) error  { return nil }
func (tapeDrive) Eject(ctx context.Context, path string) error { return nil }

func (tapeDrive) Lookup(ctx context.Context, id string) (string, error) {
	return id, nil
}

func (tapeDrive) Query(ctx context.Context, path string) (DriveInfo, error) {
	var info DriveInfo
	err := WithSCSIRetry(ctx, func(ctx context.Context) error {
		out, err := exec.CommandContext(ctx, "mt", "-f", path, "status").Output()
		if err != nil {
			return err
		}
		for _, line := range strings.Split(string(out), "\n") {
			if i := strings.Index(line, "drive type"); i >= 0 {
				info.Model = strings.TrimSpace(line[i+len("drive type"):])
			}
		}
		return nil
	})
	return info, err
}

type tapeFilesystem struct{}

func (tapeFilesystem) Format(ctx context.Context, devPath, label string) (SpaceInfo, error) {
	cmd := exec.CommandContext(ctx, "mkltfs", "-d", devPath, "-n", label, "-f")
	if out, err := cmd.CombinedOutput(); err != nil {
		return SpaceInfo{}, fmt.Errorf("adapter: mkltfs %s: %w: %s", devPath, err, out)
	}
	return SpaceInfo{}, nil // capacity known only once mounted and statfs'd
}

func (tapeFilesystem) Mount(ctx context.Context, devPath, mountPath, label string) error {
	got, err := tapeFilesystem{}.GetLabel(ctx, devPath)
	if err != nil {
		return err
	}
	if got != label {
		return fmt.Errorf("adapter: medium label mismatch: on-tape %q, requested %q", got, label)
	}
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("adapter: mkdir %s: %w", mountPath, err)
	}
	cmd := exec.CommandContext(ctx, "ltfs", "-o", "devname="+devPath, mountPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adapter: ltfs mount %s: %w: %s", devPath, err, out)
	}
	return nil
}

func (tapeFilesystem) Umount(ctx context.Context, mountPath string) error {
	cmd := exec.CommandContext(ctx, "fusermount", "-u", mountPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adapter: fusermount -u %s: %w: %s", mountPath, err, out)
	}
	return nil
}

func (tapeFilesystem) MountedAt(ctx context.Context, devPath string) (string, bool, error) {
	out, err := exec.CommandContext(ctx, "mount").Output()
	if err != nil {
		return "", false, fmt.Errorf("adapter: mount (list): %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "ltfs" && strings.Contains(line, devPath) {
			return fields[2], true, nil
		}
	}
	return "", false, nil
}

func (tapeFilesystem) DF(ctx context.Context, mountPath string) (SpaceInfo, error) {
	var stat statfsResult
	if err := statfs(mountPath, &stat); err != nil {
		return SpaceInfo{}, fmt.Errorf("adapter: statfs %s: %w", mountPath, err)
	}
	return SpaceInfo{
		PhysUsedBytes: int64(stat.Blocks-stat.BFree) * int64(stat.Bsize),
		PhysFreeBytes: int64(stat.BAvail) * int64(stat.Bsize),
	}, nil
}

func (tapeFilesystem) GetLabel(ctx context.Context, devPath string) (string, error) {
	var label string
	err := WithSCSIRetry(ctx, func(ctx context.Context) error {
		out, err := exec.CommandContext(ctx, "ltfsck", "-d", devPath).Output()
		if err != nil {
			return err
		}
		for _, line := range strings.Split(string(out), "\n") {
			if i := strings.Index(line, "volume name"); i >= 0 {
				label = strings.TrimSpace(line[i+len("volume name"):])
			}
		}
		return nil
	})
	return label, err
}
