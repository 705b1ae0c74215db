package adapter

import "testing"

const sampleMtxStatus = `Storage Changer /dev/sg0:1 Drives, 4 Slots ( 1 Import/Export )
Data Transfer Element 0:Full (Storage Element 3 Loaded):VolumeTag = VOL001L6
Storage Element 1:Empty
Storage Element 2:Full :VolumeTag=VOL002L6
Storage Element 3:Empty
Import/Export Element 4:Empty
`

func TestParseMtxStatusFindsLoadedDrive(t *testing.T) {
	elems, err := parseMtxStatus(sampleMtxStatus)
	if err != nil {
		t.Fatalf("parseMtxStatus: %v", err)
	}
	var drive *mtxElement
	for i := range elems {
		if elems[i].loc.Kind == LocationDrive {
			drive = &elems[i]
		}
	}
	if drive == nil {
		t.Fatal("expected a Data Transfer Element row")
	}
	if !drive.full {
		t.Fatal("expected the drive to be reported Full")
	}
	if drive.label != "VOL001L6" {
		t.Fatalf("label = %q, want VOL001L6", drive.label)
	}
}

func TestParseMtxStatusFindsMediumByLabel(t *testing.T) {
	elems, err := parseMtxStatus(sampleMtxStatus)
	if err != nil {
		t.Fatalf("parseMtxStatus: %v", err)
	}
	var found bool
	for _, e := range elems {
		if e.loc.Kind == LocationSlot && e.full && e.label == "VOL002L6" {
			found = true
			if e.loc.Addr != 2 {
				t.Fatalf("slot addr = %d, want 2", e.loc.Addr)
			}
		}
	}
	if !found {
		t.Fatal("expected to find VOL002L6 in a full storage slot")
	}
}

func TestParseMtxStatusReportsEmptySlotsNotFull(t *testing.T) {
	elems, err := parseMtxStatus(sampleMtxStatus)
	if err != nil {
		t.Fatalf("parseMtxStatus: %v", err)
	}
	for _, e := range elems {
		if e.loc.Kind == LocationSlot && e.loc.Addr == 1 && e.full {
			t.Fatal("slot 1 is reported Empty in the sample, should not be full")
		}
	}
}
