package tar

import "bytes"

const (
	// BlockSize is the length of every tar header and data block.
	BlockSize = 512

	magicUSTAR   = "ustar\x00"
	versionUSTAR = "00"
	magicGNU     = "ustar  \x00" // magic and version together
	trailerSTAR  = "tar\x00"
)

// Entry type flags as stored in the typeflag header byte.
const (
	TypeReg           byte = '0'    // regular file
	TypeRegA          byte = '\x00' // regular file (old V7 convention)
	TypeLink          byte = '1'    // hard link
	TypeSymlink       byte = '2'    // symbolic link
	TypeChar          byte = '3'    // character device node
	TypeBlock         byte = '4'    // block device node
	TypeDir           byte = '5'    // directory
	TypeFifo          byte = '6'    // fifo node
	TypeCont          byte = '7'    // reserved
	TypeXHeader       byte = 'x'    // PAX extended header, applies to the next entry
	TypeXGlobalHeader byte = 'g'    // PAX global header, applies until superseded
	TypeGNULongName   byte = 'L'    // next entry has a long name
	TypeGNULongLink   byte = 'K'    // next entry symlinks to a file with a long name
	TypeGNUSparse     byte = 'S'    // sparse file (old GNU format)
	TypeGNUVolHeader  byte = 'V'    // GNU volume header
	TypeGNUMultiVol   byte = 'M'    // GNU multi-volume continuation
)

// Header formats, determined from the magic/version bytes of a record.
type format int

const (
	formatUnknown format = iota
	formatV7
	formatUSTAR
	formatGNU
	formatSTAR
)

// record is one 512-byte header block. The methods below slice out the
// fixed-offset fields of the V7/USTAR layout, the GNU additions, and the old
// GNU sparse continuation layout.
type record []byte

func (r record) name() []byte     { return r[0:100] }
func (r record) mode() []byte     { return r[100:108] }
func (r record) uid() []byte      { return r[108:116] }
func (r record) gid() []byte      { return r[116:124] }
func (r record) size() []byte     { return r[124:136] }
func (r record) mtime() []byte    { return r[136:148] }
func (r record) chksum() []byte   { return r[148:156] }
func (r record) typeflag() byte   { return r[156] }
func (r record) linkname() []byte { return r[157:257] }
func (r record) magic() []byte    { return r[257:263] }
func (r record) version() []byte  { return r[263:265] }
func (r record) uname() []byte    { return r[265:297] }
func (r record) gname() []byte    { return r[297:329] }
func (r record) devmajor() []byte { return r[329:337] }
func (r record) devminor() []byte { return r[337:345] }

// USTAR-only region.
func (r record) prefix() []byte { return r[345:500] }

// GNU-only region.
func (r record) gnuAtime() []byte    { return r[345:357] }
func (r record) gnuCtime() []byte    { return r[357:369] }
func (r record) gnuSparse() []byte   { return r[386:482] }
func (r record) gnuIsExtended() bool { return r[482] != 0 }
func (r record) gnuRealSize() []byte { return r[483:495] }
func (r record) starTrailer() []byte { return r[508:512] }
func (r record) starPrefix() []byte  { return r[345:476] }

// Old GNU sparse continuation records carry nothing but extent pairs and a
// chain flag; they are not full headers.
const (
	sparseExtentLen       = 24 // 12-byte offset plus 12-byte numbytes
	sparseInHeaderCount   = 4
	sparseContinuedCount  = 21
	sparseContinuedFlagAt = 504
)

func (r record) sparseContinued() []byte   { return r[0 : sparseContinuedCount*sparseExtentLen] }
func (r record) sparseContinuedFlag() bool { return r[sparseContinuedFlagAt] != 0 }

// detectFormat classifies a record from its magic and version bytes.
func (r record) detectFormat() format {
	magic := string(r.magic())
	switch {
	case magic == magicUSTAR:
		if string(r.starTrailer()) == trailerSTAR {
			return formatSTAR
		}
		return formatUSTAR
	case magic+string(r.version()) == magicGNU:
		return formatGNU
	}
	return formatV7
}

var zeroRecord = make([]byte, BlockSize)

func (r record) isZero() bool {
	return bytes.Equal(r, zeroRecord)
}

// isHeaderOnlyType reports whether the type flag never carries a data section,
// regardless of what the size field claims.
func isHeaderOnlyType(flag byte) bool {
	switch flag {
	case TypeLink, TypeSymlink, TypeChar, TypeBlock, TypeDir, TypeFifo:
		return true
	}
	return false
}
