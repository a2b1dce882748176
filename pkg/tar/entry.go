package tar

import (
	"bytes"
	"time"

	"github.com/anchore/go-tarfile/internal/log"
)

// UnknownValue is the sentinel stored for numeric fields that cannot be
// represented, when lenient parsing is enabled.
const UnknownValue = -1

// Entry is the metadata for one archive member.
//
// For sparse entries Size is the logical (expanded) size, while RealSize
// reports the physical bytes actually stored in the archive. For everything
// else the two are equal.
type Entry struct {
	// Name is the entry name, after any prefix joining, GNU long-name, or PAX
	// path override has been applied.
	Name string
	// Linkname is populated only for hard links and symlinks.
	Linkname string
	// Size is the logical size of the entry data in bytes.
	Size int64
	// Mode is the permission and mode bits.
	Mode int64

	UID   int
	GID   int
	Uname string
	Gname string

	ModTime    time.Time
	AccessTime time.Time
	ChangeTime time.Time

	Typeflag byte
	Devmajor int64
	Devminor int64

	// PAXRecords holds every extended-header key applied to this entry,
	// including keys that have no built-in field.
	PAXRecords map[string]string

	// SparseExtents is the ordered, non-overlapping sparse map of the entry.
	// Empty for dense entries.
	SparseExtents []SparseExtent

	format     format
	realSize   int64
	dataOffset int64
}

// RealSize is the number of physical data bytes stored in the archive for
// this entry. For sparse entries this is the sum of the non-hole extents
// rather than the logical Size.
func (e *Entry) RealSize() int64 {
	return e.realSize
}

// DataOffset is the absolute archive offset of the entry's first data byte.
// It is populated only by the random-access index.
func (e *Entry) DataOffset() int64 {
	return e.dataOffset
}

func (e *Entry) IsRegular() bool {
	return e.Typeflag == TypeReg || e.Typeflag == TypeRegA
}

func (e *Entry) IsDirectory() bool {
	return e.Typeflag == TypeDir
}

func (e *Entry) IsSymlink() bool {
	return e.Typeflag == TypeSymlink
}

func (e *Entry) IsHardLink() bool {
	return e.Typeflag == TypeLink
}

// IsSparse reports whether the entry carries a sparse map, in any of the
// sparse dialects.
func (e *Entry) IsSparse() bool {
	return len(e.SparseExtents) > 0
}

func (e *Entry) isGNULongName() bool     { return e.Typeflag == TypeGNULongName }
func (e *Entry) isGNULongLink() bool     { return e.Typeflag == TypeGNULongLink }
func (e *Entry) isPAXLocalHeader() bool  { return e.Typeflag == TypeXHeader }
func (e *Entry) isPAXGlobalHeader() bool { return e.Typeflag == TypeXGlobalHeader }

// parseEntry decodes a header record into an Entry. Numeric fields that may
// legally overflow octal are accepted in base-256 form; in lenient mode,
// malformed uid/gid/mode/mtime/device fields degrade to UnknownValue instead
// of failing the parse. The size field never degrades: without it the scan
// position cannot advance safely.
func parseEntry(rec record, opts options) (*Entry, error) {
	e := &Entry{format: rec.detectFormat()}

	var err error
	if e.Name, err = parseString(rec.name(), opts.encoding); err != nil {
		return nil, err
	}
	if e.Mode, err = tolerantNumeric(rec.mode(), "mode", opts.lenient); err != nil {
		return nil, err
	}
	uid, err := downgradableNumeric(rec.uid(), "uid", opts.lenient)
	if err != nil {
		return nil, err
	}
	gid, err := downgradableNumeric(rec.gid(), "gid", opts.lenient)
	if err != nil {
		return nil, err
	}
	e.UID, e.GID = int(uid), int(gid)

	if e.Size, err = parseOctalOrBinary(rec.size(), "size"); err != nil {
		return nil, err
	}
	if e.Size < 0 {
		return nil, &HeaderError{Reason: "negative entry size"}
	}

	mtime, err := tolerantNumeric(rec.mtime(), "mtime", opts.lenient)
	if err != nil {
		return nil, err
	}
	e.ModTime = time.Unix(mtime, 0)

	e.Typeflag = rec.typeflag()
	if e.Linkname, err = parseString(rec.linkname(), opts.encoding); err != nil {
		return nil, err
	}

	switch e.format {
	case formatUSTAR, formatSTAR, formatGNU:
		if e.Uname, err = parseString(rec.uname(), opts.encoding); err != nil {
			return nil, err
		}
		if e.Gname, err = parseString(rec.gname(), opts.encoding); err != nil {
			return nil, err
		}
		if e.Typeflag == TypeChar || e.Typeflag == TypeBlock {
			if e.Devmajor, err = downgradableNumeric(rec.devmajor(), "devmajor", opts.lenient); err != nil {
				return nil, err
			}
			if e.Devminor, err = downgradableNumeric(rec.devminor(), "devminor", opts.lenient); err != nil {
				return nil, err
			}
		}
	}

	switch e.format {
	case formatUSTAR:
		prefix, err := parseString(rec.prefix(), opts.encoding)
		if err != nil {
			return nil, err
		}
		if len(prefix) > 0 {
			e.Name = prefix + "/" + e.Name
		}
	case formatSTAR:
		prefix, err := parseString(rec.starPrefix(), opts.encoding)
		if err != nil {
			return nil, err
		}
		if len(prefix) > 0 {
			e.Name = prefix + "/" + e.Name
		}
	case formatGNU:
		// atime and ctime are commonly left zeroed; keep the zero time then
		if !bytes.Equal(rec.gnuAtime(), zeroRecord[:12]) {
			if atime, err := tolerantNumeric(rec.gnuAtime(), "atime", opts.lenient); err == nil {
				e.AccessTime = time.Unix(atime, 0)
			} else {
				return nil, err
			}
		}
		if !bytes.Equal(rec.gnuCtime(), zeroRecord[:12]) {
			if ctime, err := tolerantNumeric(rec.gnuCtime(), "ctime", opts.lenient); err == nil {
				e.ChangeTime = time.Unix(ctime, 0)
			} else {
				return nil, err
			}
		}
	}

	e.realSize = e.Size
	return e, nil
}

// downgradableNumeric parses a numeric field, substituting UnknownValue for
// malformed or overflowing values when lenient mode is on.
func downgradableNumeric(b []byte, field string, lenient bool) (int64, error) {
	x, err := parseOctalOrBinary(b, field)
	if err != nil {
		if lenient {
			log.Debugf("tolerating malformed %s field, substituting unknown value", field)
			return UnknownValue, nil
		}
		return 0, err
	}
	return x, nil
}

// tolerantNumeric parses a numeric field that some historical writers
// terminate with an embedded NUL (mode and the timestamps); the embedded-NUL
// reading is tried before any lenient downgrade.
func tolerantNumeric(b []byte, field string, lenient bool) (int64, error) {
	x, err := parseOctalOrBinary(b, field)
	if err == nil {
		return x, nil
	}
	if len(b) > 0 && b[0]&0x80 == 0 {
		if x, lerr := parseOctalLenient(b, field); lerr == nil {
			return x, nil
		}
	}
	if lenient {
		log.Debugf("tolerating malformed %s field, substituting unknown value", field)
		return UnknownValue, nil
	}
	return 0, err
}
