package tar

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Writer writes a tar archive sequentially: WriteHeader for each entry,
// followed by exactly that entry's data, then Close to emit the end-of-archive
// marker.
//
// Values that do not fit their fixed-width fields are diverted to a PAX local
// header by default, or to GNU extensions (long-name markers, base-256
// numerics) when WithGNUExtensions is set. Sparse entries are not written;
// sparse write optimization is out of scope.
type Writer struct {
	w    io.Writer
	opts options
	err  error

	nb     int64 // unwritten data bytes of the current entry
	pad    int64 // padding to emit after the current entry's data
	closed bool
	blk    [BlockSize]byte
}

// NewWriter creates a Writer emitting to w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	return &Writer{w: w, opts: makeOptions(opts...)}
}

// WriteHeader writes the header record for the given entry, preceded by any
// extension records its values require. The caller must then write exactly
// e.Size bytes of data before the next WriteHeader or Close.
func (tw *Writer) WriteHeader(e *Entry) error {
	if tw.err != nil {
		return tw.err
	}
	if tw.closed {
		return fmt.Errorf("write to closed archive")
	}
	if err := tw.finishData(); err != nil {
		return err
	}
	if e.IsSparse() {
		tw.err = fmt.Errorf("sparse entries are not supported by the writer")
		return tw.err
	}
	if tw.err = tw.writeEntryHeader(e); tw.err != nil {
		return tw.err
	}
	size := e.Size
	if isHeaderOnlyType(e.Typeflag) {
		size = 0
	}
	tw.nb = size
	tw.pad = -size & (BlockSize - 1)
	return nil
}

// Write writes data for the current entry, failing with ErrWriteTooLong once
// more bytes are written than the entry's header declared.
func (tw *Writer) Write(b []byte) (int, error) {
	if tw.err != nil {
		return 0, tw.err
	}
	overflow := false
	if int64(len(b)) > tw.nb {
		b = b[:tw.nb]
		overflow = true
	}
	n, err := tw.w.Write(b)
	tw.nb -= int64(n)
	if err == nil && overflow {
		err = ErrWriteTooLong
	}
	if err != nil && err != ErrWriteTooLong {
		tw.err = err
	}
	return n, err
}

// Close finishes the current entry and writes the two zero records marking
// the end of the archive.
func (tw *Writer) Close() error {
	if tw.err != nil {
		return tw.err
	}
	if tw.closed {
		return nil
	}
	if err := tw.finishData(); err != nil {
		return err
	}
	tw.closed = true
	for i := 0; i < 2; i++ {
		if _, err := tw.w.Write(zeroRecord); err != nil {
			tw.err = err
			return err
		}
	}
	return nil
}

// finishData pads the previous entry's data out to a record boundary.
func (tw *Writer) finishData() error {
	if tw.nb > 0 {
		tw.err = fmt.Errorf("entry closed with %d unwritten data bytes", tw.nb)
		return tw.err
	}
	if tw.pad > 0 {
		if _, err := tw.w.Write(zeroRecord[:tw.pad]); err != nil {
			tw.err = err
			return err
		}
		tw.pad = 0
	}
	return nil
}

func (tw *Writer) writeEntryHeader(e *Entry) error {
	enc := tw.opts.encoding

	name, prefix, nameFits := splitUSTARPath(e.Name, enc)
	linkname, linknameFits := e.Linkname, len(e.Linkname) <= 100

	if tw.opts.gnu {
		// GNU dialect: overlong names ride in dedicated marker records and
		// numerics may fall back to base-256
		if !nameFits {
			if err := tw.writeGNULongName(TypeGNULongName, e.Name); err != nil {
				return err
			}
			name, prefix = truncatedName(e.Name, 100), ""
		}
		if !linknameFits {
			if err := tw.writeGNULongName(TypeGNULongLink, e.Linkname); err != nil {
				return err
			}
			linkname = truncatedName(e.Linkname, 100)
		}
		return tw.writeRawHeader(e, name, prefix, linkname, true)
	}

	// PAX dialect: collect one record per field that cannot be represented
	pax := make(map[string]string)
	if !nameFits {
		pax[paxPath] = e.Name
		name, prefix = truncatedName(e.Name, 100), ""
	}
	if !linknameFits {
		pax[paxLinkpath] = e.Linkname
		linkname = truncatedName(e.Linkname, 100)
	}
	if e.Size > maxOctal(11) {
		pax[paxSize] = strconv.FormatInt(e.Size, 10)
	}
	if int64(e.UID) > maxOctal(7) {
		pax[paxUID] = strconv.Itoa(e.UID)
	}
	if int64(e.GID) > maxOctal(7) {
		pax[paxGID] = strconv.Itoa(e.GID)
	}
	if mtime := e.ModTime.Unix(); mtime < 0 || mtime > maxOctal(11) {
		pax[paxMtime] = strconv.FormatInt(mtime, 10)
	}
	for k, v := range e.PAXRecords {
		pax[k] = v
	}

	if len(pax) > 0 {
		if err := tw.writePAXHeader(e, pax); err != nil {
			return err
		}
	}
	return tw.writeRawHeader(e, name, prefix, linkname, false)
}

// writeRawHeader formats and emits a single header record. Numeric values
// beyond their field capacity are written as base-256 when binary is allowed,
// and otherwise capped at the field maximum (readers take the true value from
// the accompanying PAX record).
func (tw *Writer) writeRawHeader(e *Entry, name, prefix, linkname string, binary bool) error {
	rec := record(tw.blk[:])
	copy(rec, zeroRecord)
	enc := tw.opts.encoding

	if err := formatString(name, rec.name(), enc); err != nil {
		return err
	}
	if err := formatOctal(nonNegative(e.Mode), rec.mode(), "mode"); err != nil {
		return err
	}
	if err := tw.writeNumeric(int64(e.UID), rec.uid(), "uid", binary, 6); err != nil {
		return err
	}
	if err := tw.writeNumeric(int64(e.GID), rec.gid(), "gid", binary, 6); err != nil {
		return err
	}
	if err := tw.writeLongNumeric(e.Size, rec.size(), "size", binary); err != nil {
		return err
	}
	if err := tw.writeLongNumeric(e.ModTime.Unix(), rec.mtime(), "mtime", binary); err != nil {
		return err
	}
	flag := e.Typeflag
	if flag == TypeRegA {
		flag = TypeReg
	}
	rec[156] = flag
	if err := formatString(linkname, rec.linkname(), enc); err != nil {
		return err
	}
	copy(rec.magic(), magicUSTAR)
	copy(rec.version(), versionUSTAR)
	if err := formatString(e.Uname, rec.uname(), enc); err != nil {
		return err
	}
	if err := formatString(e.Gname, rec.gname(), enc); err != nil {
		return err
	}
	if e.Typeflag == TypeChar || e.Typeflag == TypeBlock {
		if err := formatOctal(nonNegative(e.Devmajor), rec.devmajor(), "devmajor"); err != nil {
			return err
		}
		if err := formatOctal(nonNegative(e.Devminor), rec.devminor(), "devminor"); err != nil {
			return err
		}
	}
	if err := formatString(prefix, rec.prefix(), enc); err != nil {
		return err
	}

	if err := formatChecksumOctal(computeChecksum(rec), rec.chksum()); err != nil {
		return err
	}
	_, err := tw.w.Write(rec)
	return err
}

// writeNumeric formats a short numeric field: octal when it fits, base-256
// when binary is allowed, otherwise capped at the octal maximum.
func (tw *Writer) writeNumeric(x int64, b []byte, field string, binary bool, octalDigits int) error {
	if x >= 0 && x <= maxOctal(octalDigits) {
		return formatOctal(x, b, field)
	}
	if binary {
		return formatBinary(x, b, field)
	}
	return formatOctal(maxOctal(octalDigits), b, field)
}

// writeLongNumeric is writeNumeric for the 12-byte size/mtime fields, which
// use the long terminator convention.
func (tw *Writer) writeLongNumeric(x int64, b []byte, field string, binary bool) error {
	if binary {
		return formatLongOctalOrBinary(x, b, field)
	}
	if x >= 0 && x <= maxOctal(len(b)-1) {
		return formatLongOctal(x, b, field)
	}
	return formatLongOctal(maxOctal(len(b)-1), b, field)
}

func nonNegative(x int64) int64 {
	if x < 0 {
		return 0
	}
	return x
}

// writeGNULongName emits a GNU long-name or long-link marker record followed
// by the NUL-terminated name data.
func (tw *Writer) writeGNULongName(flag byte, name string) error {
	data, err := tw.opts.encoding.Encode(name)
	if err != nil {
		return err
	}
	data = append(data, 0)

	marker := &Entry{
		Name:     "././@LongLink",
		Typeflag: flag,
		Size:     int64(len(data)),
		ModTime:  time.Unix(0, 0),
	}
	if err := tw.writeRawHeader(marker, marker.Name, "", "", true); err != nil {
		return err
	}
	return tw.writeDataPadded(data)
}

// writePAXHeader emits a PAX local header entry whose data holds the given
// records, sorted by key for deterministic output.
func (tw *Writer) writePAXHeader(e *Entry, records map[string]string) error {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(formatPAXRecord(k, records[k]))
	}
	data := []byte(sb.String())

	// the conventional name places the entry beside the one it describes
	dir, base := path.Split(e.Name)
	paxName := truncatedName(path.Join(dir, "PaxHeaders.0", base), 100)
	if paxName == "" {
		paxName = "PaxHeaders.0"
	}

	marker := &Entry{
		Name:     paxName,
		Typeflag: TypeXHeader,
		Size:     int64(len(data)),
		Mode:     0o600,
		ModTime:  e.ModTime,
	}
	if err := tw.writeRawHeader(marker, marker.Name, "", "", false); err != nil {
		return err
	}
	return tw.writeDataPadded(data)
}

func (tw *Writer) writeDataPadded(data []byte) error {
	if _, err := tw.w.Write(data); err != nil {
		return err
	}
	if pad := -int64(len(data)) & (BlockSize - 1); pad > 0 {
		if _, err := tw.w.Write(zeroRecord[:pad]); err != nil {
			return err
		}
	}
	return nil
}

// splitUSTARPath splits a long name into USTAR prefix and name fields on a
// path separator. The third result reports whether the split (or the name
// alone) fits the fixed fields.
func splitUSTARPath(name string, enc NameEncoding) (string, string, bool) {
	encoded, err := enc.Encode(name)
	if err != nil {
		return name, "", false
	}
	if len(encoded) <= 100 {
		return name, "", true
	}
	if len(encoded) > 100+155+1 {
		return name, "", false
	}
	// split on a separator so that prefix <= 155 and name <= 100; operate on
	// the encoded bytes to respect field widths
	i := len(encoded) - 101
	for ; i < len(encoded); i++ {
		if encoded[i] == '/' {
			break
		}
	}
	if i >= len(encoded) || i > 155 {
		return name, "", false
	}
	prefix, rest := encoded[:i], encoded[i+1:]
	if len(rest) == 0 || len(rest) > 100 {
		return name, "", false
	}
	p, perr := enc.Decode(prefix)
	n, nerr := enc.Decode(rest)
	if perr != nil || nerr != nil {
		return name, "", false
	}
	return n, p, true
}

// truncatedName shortens a name to at most max bytes on a whole-character
// boundary, for the fallback copy stored in the fixed-width field.
func truncatedName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	truncated := name[:max]
	for len(truncated) > 0 && truncated[len(truncated)-1]&0xc0 == 0x80 {
		truncated = truncated[:len(truncated)-1]
	}
	if len(truncated) > 0 && truncated[len(truncated)-1]&0xc0 == 0xc0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}
