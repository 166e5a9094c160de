package zip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
)

const (
	sigDirectoryHeader = 0x02014b50

	directoryEndLen    = 22
	directoryHeaderLen = 46
	maxCommentLen      = 0xffff

	extraZip64 = 0x0001
)

// joinSpanned presents a spanned archive (name.z01 ... name.zip) as a
// single-disk archive. Local headers stay where they are; the central
// directory is rewritten so that every disk-relative offset becomes an
// offset into the concatenated volumes.
func joinSpanned(c *volume.Concat) (volume.SizedReaderAt, error) {
	segments := c.Segments()
	if len(segments) == 0 {
		return nil, errors.NewOperationError(errors.KindVolumeNotFound, "spanned archive has no volumes", nil)
	}
	last := segments[len(segments)-1]

	tailLen := min(last.Size, directoryEndLen+maxCommentLen)
	tail := make([]byte, tailLen)
	if _, err := c.ReadAt(tail, last.Offset+last.Size-tailLen); err != nil && err != io.EOF {
		return nil, err
	}

	at := bytes.LastIndex(tail, []byte("PK\x05\x06"))
	if at < 0 || len(tail)-at < directoryEndLen {
		return nil, fmt.Errorf("%w: end of central directory not found", errFormat)
	}
	end := tail[at:]

	cdDisk := int(binary.LittleEndian.Uint16(end[6:8]))
	entries := binary.LittleEndian.Uint16(end[10:12])
	cdSize := binary.LittleEndian.Uint32(end[12:16])
	cdOffset := binary.LittleEndian.Uint32(end[16:20])
	if entries == 0xffff || cdSize == 0xffffffff || cdOffset == 0xffffffff {
		return nil, errors.NewOperationError(errors.KindUnsupported, "spanned zip64 archives are not supported", nil)
	}
	if cdDisk >= len(segments) {
		return nil, fmt.Errorf("%w: central directory on missing disk %d", errFormat, cdDisk+1)
	}

	cdStart := segments[cdDisk].Offset + int64(cdOffset)
	cd := make([]byte, cdSize)
	if _, err := c.ReadAt(cd, cdStart); err != nil {
		return nil, err
	}
	if err := relocateDirectory(cd, segments); err != nil {
		return nil, err
	}
	if cdStart > 0xfffffffe {
		return nil, errors.NewOperationError(errors.KindUnsupported, "spanned archive too large to join without zip64", nil)
	}

	newEnd := make([]byte, len(end))
	copy(newEnd, end)
	binary.LittleEndian.PutUint16(newEnd[4:6], 0)
	binary.LittleEndian.PutUint16(newEnd[6:8], 0)
	binary.LittleEndian.PutUint16(newEnd[8:10], entries)
	binary.LittleEndian.PutUint32(newEnd[16:20], uint32(cdStart))

	return volume.NewConcat(
		io.NewSectionReader(c, 0, cdStart),
		bytes.NewReader(cd),
		bytes.NewReader(newEnd),
	), nil
}

// relocateDirectory rewrites the disk number and local header offset of
// every central directory record in cd in place.
func relocateDirectory(cd []byte, segments []volume.Segment) error {
	for pos := 0; pos < len(cd); {
		if len(cd)-pos < directoryHeaderLen || binary.LittleEndian.Uint32(cd[pos:]) != sigDirectoryHeader {
			return fmt.Errorf("%w: bad central directory record at %d", errFormat, pos)
		}
		rec := cd[pos:]
		nameLen := int(binary.LittleEndian.Uint16(rec[28:30]))
		extraLen := int(binary.LittleEndian.Uint16(rec[30:32]))
		commentLen := int(binary.LittleEndian.Uint16(rec[32:34]))
		size := directoryHeaderLen + nameLen + extraLen + commentLen
		if len(rec) < size {
			return fmt.Errorf("%w: truncated central directory", errFormat)
		}
		extra := rec[directoryHeaderLen+nameLen : directoryHeaderLen+nameLen+extraLen]

		disk := int64(binary.LittleEndian.Uint16(rec[34:36]))
		offset := int64(binary.LittleEndian.Uint32(rec[42:46]))
		z64 := zip64Fields(rec, extra)
		if z64.offset != nil {
			offset = int64(binary.LittleEndian.Uint64(z64.offset))
		}
		if z64.disk != nil {
			disk = int64(binary.LittleEndian.Uint32(z64.disk))
		}
		if disk >= int64(len(segments)) {
			return fmt.Errorf("%w: entry on missing disk %d", errFormat, disk+1)
		}

		abs := segments[disk].Offset + offset
		switch {
		case z64.offset != nil:
			binary.LittleEndian.PutUint64(z64.offset, uint64(abs))
		case abs < 0xffffffff:
			binary.LittleEndian.PutUint32(rec[42:46], uint32(abs))
		default:
			return errors.NewOperationError(errors.KindUnsupported, "spanned archive too large to join without zip64", nil)
		}
		binary.LittleEndian.PutUint16(rec[34:36], 0)
		if z64.disk != nil {
			binary.LittleEndian.PutUint32(z64.disk, 0)
		}

		pos += size
	}
	return nil
}

type zip64Slots struct {
	offset []byte
	disk   []byte
}

// zip64Fields locates the local header offset and disk number inside the
// zip64 extra field of a central directory record. Fields only appear
// when the fixed-size field holds its maximum value.
func zip64Fields(rec, extra []byte) zip64Slots {
	var slots zip64Slots
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if len(extra) < 4+size {
			return slots
		}
		body := extra[4 : 4+size]
		extra = extra[4+size:]
		if id != extraZip64 {
			continue
		}

		if binary.LittleEndian.Uint32(rec[24:28]) == 0xffffffff {
			body = skip(body, 8)
		}
		if binary.LittleEndian.Uint32(rec[20:24]) == 0xffffffff {
			body = skip(body, 8)
		}
		if binary.LittleEndian.Uint32(rec[42:46]) == 0xffffffff && len(body) >= 8 {
			slots.offset = body[:8]
			body = body[8:]
		}
		if binary.LittleEndian.Uint16(rec[34:36]) == 0xffff && len(body) >= 4 {
			slots.disk = body[:4]
		}
		return slots
	}
	return slots
}

func skip(b []byte, n int) []byte {
	if len(b) < n {
		return nil
	}
	return b[n:]
}
