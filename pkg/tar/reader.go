package tar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/anchore/go-tarfile/internal/log"
	"github.com/anchore/go-tarfile/pkg/file"
)

const (
	// maxExtensionChain bounds the number of consecutive meta records (PAX,
	// long name, long link) allowed before a real entry, so that adversarial
	// chains cannot run unbounded.
	maxExtensionChain = 32

	// maxExtensionDataSize caps the data block of any single meta record;
	// legitimate PAX headers and long names are orders of magnitude smaller.
	maxExtensionDataSize = 1 << 20
)

// Reader provides sequential access to the entries of a tar archive. Next
// advances to the next entry; the Reader then serves that entry's logical
// data stream, with sparse holes expanded to zeros.
//
// A Reader carries mutable scan state (pending global PAX headers, the
// current data section) and is not safe for concurrent use.
type Reader struct {
	r    io.Reader
	opts options
	err  error

	pad  int64       // padding after the current data section
	phys *physReader // physical data section of the current entry
	curr io.Reader   // logical view of the current entry (sparse expanded)
	blk  [BlockSize]byte

	// globalPAX persists across entries until replaced by the next global
	// header, per POSIX.1-2001
	globalPAX map[string]string
}

// NewReader creates a Reader scanning the given stream.
func NewReader(r io.Reader, opts ...Option) *Reader {
	return &Reader{r: r, opts: makeOptions(opts...)}
}

// Next advances to the next entry in the archive, discarding any unread data
// of the current one. It returns io.EOF at the end of the archive.
func (r *Reader) Next() (*Entry, error) {
	if r.err != nil {
		return nil, r.err
	}
	e, err := r.next()
	if err != nil {
		r.err = err
	}
	return e, err
}

func (r *Reader) next() (*Entry, error) {
	var longName, longLink string
	var haveLongName, haveLongLink bool
	var localPAX map[string]string

	// the tar format interleaves meta records that describe the next real
	// entry; loop (bounded) until one is found
	for chain := 0; ; chain++ {
		if chain >= maxExtensionChain {
			return nil, &HeaderError{Reason: "too many consecutive extension records"}
		}

		if err := r.discard(); err != nil {
			return nil, err
		}
		rec, err := r.readRecord()
		if err != nil {
			return nil, err
		}

		if !verifyChecksum(rec) {
			if !r.opts.lenient {
				return nil, &HeaderError{Reason: "header checksum mismatch"}
			}
			log.Warnf("accepting tar header with checksum mismatch")
		}

		e, err := parseEntry(rec, r.opts)
		if err != nil {
			return nil, err
		}
		r.startData(e.realSize, e.Typeflag)

		switch {
		case e.isPAXGlobalHeader():
			buf, err := r.readExtensionData(e.realSize)
			if err != nil {
				return nil, err
			}
			records, err := parsePAXRecords(buf)
			if err != nil {
				return nil, err
			}
			// a global header replaces all prior global state wholesale
			r.globalPAX = records
			continue

		case e.isPAXLocalHeader():
			buf, err := r.readExtensionData(e.realSize)
			if err != nil {
				return nil, err
			}
			if localPAX, err = parsePAXRecords(buf); err != nil {
				return nil, err
			}
			continue

		case e.isGNULongName():
			buf, err := r.readExtensionData(e.realSize)
			if err != nil {
				return nil, err
			}
			if longName, err = decodeLongName(buf, r.opts.encoding); err != nil {
				return nil, err
			}
			haveLongName = true
			continue

		case e.isGNULongLink():
			buf, err := r.readExtensionData(e.realSize)
			if err != nil {
				return nil, err
			}
			if longLink, err = decodeLongName(buf, r.opts.encoding); err != nil {
				return nil, err
			}
			haveLongLink = true
			continue
		}

		// a real entry: apply stashed long names, then overlay PAX values
		// (local wins over global wins over header-parsed)
		if haveLongName {
			e.Name = longName
		}
		if haveLongLink {
			e.Linkname = longLink
		}
		if r.globalPAX != nil {
			if err := e.applyPAXRecords(r.globalPAX); err != nil {
				return nil, err
			}
		}
		if localPAX != nil {
			if err := e.applyPAXRecords(localPAX); err != nil {
				return nil, err
			}
		}

		// PAX may have changed the declared size; the data section has not
		// been read from yet, so it is safe to re-arm
		r.startData(e.realSize, e.Typeflag)

		merged := mergeRecords(r.globalPAX, localPAX)
		if err := r.handleSparse(e, rec, merged); err != nil {
			return nil, err
		}

		if e.IsSparse() {
			plan, err := resolveExtents(e.SparseExtents, e.Size)
			if err != nil {
				return nil, err
			}
			r.curr = r.composeSparse(plan)
		}
		return e, nil
	}
}

// Read reads from the current entry's logical data stream. It returns io.EOF
// when the entry is exhausted, until Next is called again.
func (r *Reader) Read(b []byte) (int, error) {
	if r.curr == nil {
		return 0, io.EOF
	}
	n, err := r.curr.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, file.ErrTruncatedSource) {
			err = fmt.Errorf("entry data ends early: %w", ErrTruncated)
		}
		r.err = err
	}
	return n, err
}

// physReader is a bounded reader over the physical data section of the
// current entry.
type physReader struct {
	r         io.Reader
	remaining int64
}

func (p *physReader) Read(b []byte) (int, error) {
	if p.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(b)) > p.remaining {
		b = b[:p.remaining]
	}
	n, err := p.r.Read(b)
	p.remaining -= int64(n)
	if errors.Is(err, io.EOF) && p.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// startData arms the physical reader for a data section of the given size,
// accounting for types that never carry data regardless of their size field.
func (r *Reader) startData(size int64, flag byte) {
	if isHeaderOnlyType(flag) {
		size = 0
	}
	r.phys = &physReader{r: r.r, remaining: size}
	r.pad = -size & (BlockSize - 1)
	r.curr = r.phys
}

// discard skips whatever remains of the current data section plus its block
// padding. Hitting EOF inside the data is a truncation; hitting EOF inside
// the padding is tolerated, since some writers omit the final padding.
func (r *Reader) discard() error {
	if r.phys != nil && r.phys.remaining > 0 {
		if _, err := io.Copy(io.Discard, r.phys); err != nil {
			return fmt.Errorf("skipping entry data: %w", ErrTruncated)
		}
	}
	if r.pad > 0 {
		if _, err := io.CopyN(io.Discard, r.r, r.pad); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	r.phys, r.curr, r.pad = nil, nil, 0
	return nil
}

// readRecord reads the next 512-byte header record. End of archive is two
// consecutive zero records; a single zero record at EOF is tolerated for
// interoperability, while a zero record followed by a non-zero record is
// corruption.
func (r *Reader) readRecord() (record, error) {
	if _, err := io.ReadFull(r.r, r.blk[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading header record: %w", ErrTruncated)
	}
	rec := record(r.blk[:])
	if !rec.isZero() {
		return rec, nil
	}
	if _, err := io.ReadFull(r.r, r.blk[:]); err != nil {
		return nil, io.EOF
	}
	if rec.isZero() {
		return nil, io.EOF
	}
	return nil, &HeaderError{Reason: "zero record followed by non-zero record"}
}

// readExtensionData reads the full data block of a meta record.
func (r *Reader) readExtensionData(size int64) ([]byte, error) {
	if size > maxExtensionDataSize {
		return nil, &HeaderError{Reason: fmt.Sprintf("unreasonable extension record size %d", size)}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.phys, buf); err != nil {
		return nil, fmt.Errorf("reading extension record data: %w", ErrTruncated)
	}
	return buf, nil
}

func decodeLongName(buf []byte, enc NameEncoding) (string, error) {
	return enc.Decode(bytes.TrimRight(buf, "\x00"))
}

func mergeRecords(global, local map[string]string) map[string]string {
	if global == nil && local == nil {
		return nil
	}
	merged := make(map[string]string, len(global)+len(local))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}
	return merged
}

// handleSparse detects any of the sparse dialects on the entry, reads the
// sparse map, and validates it.
func (r *Reader) handleSparse(e *Entry, rec record, pax map[string]string) error {
	var extents []SparseExtent
	var err error
	switch {
	case e.Typeflag == TypeGNUSparse:
		extents, err = r.readOldGNUSparseMap(e, rec)
	case pax != nil:
		extents, err = r.readPAXSparseMap(e, pax)
	}
	if err != nil {
		return err
	}
	if len(extents) == 0 {
		return nil
	}
	if isHeaderOnlyType(e.Typeflag) {
		return &HeaderError{Reason: "sparse map on a dataless entry type"}
	}
	if err := validateSparseExtents(extents, e.Size); err != nil {
		return err
	}
	e.SparseExtents = extents
	return nil
}

// readOldGNUSparseMap reads the sparse map of the old GNU format: up to four
// extents in the header itself, then a chain of continuation records while
// the extended flag is set. The header's size field holds the physical data
// length; the realsize field holds the logical size.
func (r *Reader) readOldGNUSparseMap(e *Entry, rec record) ([]SparseExtent, error) {
	if e.format != formatGNU {
		return nil, &HeaderError{Reason: "sparse type flag outside the GNU format"}
	}

	realSize, err := parseOctalOrBinary(rec.gnuRealSize(), "realsize")
	if err != nil {
		return nil, err
	}
	if realSize < 0 {
		return nil, &HeaderError{Reason: "negative sparse entry size"}
	}
	e.Size = realSize

	var extents []SparseExtent
	area := rec.gnuSparse()
	count := sparseInHeaderCount
	isExtended := rec.gnuIsExtended()
	for {
		for i := 0; i < count; i++ {
			pair := area[i*sparseExtentLen : (i+1)*sparseExtentLen]
			offset, err := parseOctalOrBinary(pair[:12], "sparse offset")
			if err != nil {
				return nil, err
			}
			numBytes, err := parseOctalOrBinary(pair[12:], "sparse numbytes")
			if err != nil {
				return nil, err
			}
			if offset == 0 && numBytes == 0 {
				return extents, nil // map terminator
			}
			extents = append(extents, SparseExtent{Offset: offset, NumBytes: numBytes})
		}
		if !isExtended {
			return extents, nil
		}

		// continuation records are not full headers: 21 extent pairs and a
		// further chain flag
		var cont [BlockSize]byte
		if _, err := io.ReadFull(r.r, cont[:]); err != nil {
			return nil, fmt.Errorf("reading sparse continuation record: %w", ErrTruncated)
		}
		crec := record(cont[:])
		area = crec.sparseContinued()
		count = sparseContinuedCount
		isExtended = crec.sparseContinuedFlag()
	}
}

// readPAXSparseMap identifies which PAX sparse dialect the extended headers
// describe and reads its map. An unknown combination of sparse keys is an
// error; absence of all of them means the entry is dense.
func (r *Reader) readPAXSparseMap(e *Entry, records map[string]string) ([]SparseExtent, error) {
	major, majorOK := records[paxGNUSparseMajor]
	minor, minorOK := records[paxGNUSparseMinor]
	sparseName, nameOK := records[paxGNUSparseName]
	_, mapOK := records[paxGNUSparseMap]
	sparseSize, sizeOK := records[paxGNUSparseSize]
	sparseRealSize, realSizeOK := records[paxGNUSparseRealSize]

	var sparseFormat string
	switch {
	case majorOK && minorOK:
		sparseFormat = major + "." + minor
	case nameOK && mapOK:
		sparseFormat = "0.1"
	case sizeOK:
		sparseFormat = "0.0"
	default:
		return nil, nil
	}
	if sparseFormat != "0.0" && sparseFormat != "0.1" && sparseFormat != "1.0" {
		return nil, &HeaderError{Reason: fmt.Sprintf("unsupported sparse format %q", sparseFormat)}
	}

	// the mangled name and physical size from the header give way to the
	// sparse keys
	if nameOK {
		e.Name = sparseName
	}
	switch {
	case sizeOK:
		size, err := parsePAXDecimal(paxGNUSparseSize, sparseSize)
		if err != nil {
			return nil, err
		}
		e.Size = size
	case realSizeOK:
		size, err := parsePAXDecimal(paxGNUSparseRealSize, sparseRealSize)
		if err != nil {
			return nil, err
		}
		e.Size = size
	}

	switch sparseFormat {
	case "0.0", "0.1":
		return parseGNUSparseMap01(records)
	default:
		return r.readGNUSparseMap10(e)
	}
}

// readGNUSparseMap10 reads the sparse 1.0 map stored at the front of the
// entry's own data section: newline-delimited decimal values (extent count,
// then offset/numbytes pairs) padded to a record boundary. The map blocks are
// consumed here, so the entry's data offset lands past them and its physical
// size shrinks accordingly.
func (r *Reader) readGNUSparseMap10(e *Entry) ([]SparseExtent, error) {
	var buf bytes.Buffer
	var newlines int64
	var blk [BlockSize]byte

	feed := func(cnt int64) error {
		for newlines < cnt {
			if _, err := io.ReadFull(r.phys, blk[:]); err != nil {
				return fmt.Errorf("reading sparse 1.0 map: %w", ErrTruncated)
			}
			buf.Write(blk[:])
			newlines += int64(bytes.Count(blk[:], []byte("\n")))
		}
		return nil
	}
	next := func() string {
		newlines--
		tok, _ := buf.ReadString('\n')
		return strings.TrimSuffix(tok, "\n")
	}

	if err := feed(1); err != nil {
		return nil, err
	}
	numEntries, err := strconv.ParseInt(next(), 10, 0)
	if err != nil || numEntries < 0 || int(2*numEntries) < int(numEntries) {
		return nil, &HeaderError{Reason: "invalid sparse 1.0 map entry count"}
	}
	if err := feed(2 * numEntries); err != nil {
		return nil, err
	}

	extents := make([]SparseExtent, 0, numEntries)
	for i := int64(0); i < numEntries; i++ {
		offset, err := strconv.ParseInt(next(), 10, 64)
		if err != nil {
			return nil, &HeaderError{Reason: "invalid sparse 1.0 map offset"}
		}
		numBytes, err := strconv.ParseInt(next(), 10, 64)
		if err != nil {
			return nil, &HeaderError{Reason: "invalid sparse 1.0 map length"}
		}
		extents = append(extents, SparseExtent{Offset: offset, NumBytes: numBytes})
	}

	e.realSize = r.phys.remaining
	return extents, nil
}

// composeSparse materializes an extent plan over the current physical data
// section: holes become zero readers, data spans become bounded views, and
// the composed stream enforces the declared logical size.
func (r *Reader) composeSparse(plan *extentPlan) io.Reader {
	subs := make([]io.ReadCloser, 0, len(plan.segments))
	for _, seg := range plan.segments {
		if seg.kind == segmentHole {
			subs = append(subs, file.NewZeroReadCloser(seg.length))
			continue
		}
		subs = append(subs, io.NopCloser(io.LimitReader(r.phys, seg.length)))
	}
	return file.NewComposedReadCloser(plan.logicalSize, subs...)
}
