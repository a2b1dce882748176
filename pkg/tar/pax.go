package tar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys defined by POSIX.1-2001 for extended header records.
const (
	paxPath     = "path"
	paxLinkpath = "linkpath"
	paxUname    = "uname"
	paxGname    = "gname"
	paxUID      = "uid"
	paxGID      = "gid"
	paxSize     = "size"
	paxMtime    = "mtime"
	paxAtime    = "atime"
	paxCtime    = "ctime"
)

// Keys for GNU sparse files in a PAX extended header.
const (
	paxGNUSparse          = "GNU.sparse."
	paxGNUSparseNumBlocks = "GNU.sparse.numblocks"
	paxGNUSparseOffset    = "GNU.sparse.offset"
	paxGNUSparseNumBytes  = "GNU.sparse.numbytes"
	paxGNUSparseMap       = "GNU.sparse.map"
	paxGNUSparseName      = "GNU.sparse.name"
	paxGNUSparseMajor     = "GNU.sparse.major"
	paxGNUSparseMinor     = "GNU.sparse.minor"
	paxGNUSparseSize      = "GNU.sparse.size"
	paxGNUSparseRealSize  = "GNU.sparse.realsize"
)

// parsePAXRecords decodes the data block of a PAX header as a sequence of
// "<length> <key>=<value>\n" records, where length counts the whole record
// including its own digits. The repeated offset/numbytes key pairs of the
// sparse 0.0 dialect are folded into a single GNU.sparse.map value, in their
// on-disk order.
func parsePAXRecords(buf []byte) (map[string]string, error) {
	records := make(map[string]string)
	sbuf := string(buf)

	// sparse 0.0 keys must alternate offset, numbytes, offset, ...
	sparseKeyOrder := [2]string{paxGNUSparseOffset, paxGNUSparseNumBytes}
	var sparseMap []string

	for len(sbuf) > 0 {
		sp := strings.IndexByte(sbuf, ' ')
		if sp == -1 {
			return nil, &HeaderError{Reason: "PAX record missing length delimiter"}
		}
		n, err := strconv.ParseInt(sbuf[:sp], 10, 0)
		if err != nil || n < 5 || int64(len(sbuf)) < n {
			return nil, &HeaderError{Reason: fmt.Sprintf("invalid PAX record length %q", sbuf[:sp])}
		}

		rec, endline := sbuf[sp+1:n-1], sbuf[n-1:n]
		sbuf = sbuf[n:]
		if endline != "\n" {
			return nil, &HeaderError{Reason: "PAX record not newline-terminated"}
		}

		eq := strings.IndexByte(rec, '=')
		if eq == -1 {
			return nil, &HeaderError{Reason: "PAX record missing '='"}
		}
		key, value := rec[:eq], rec[eq+1:]

		switch key {
		case paxGNUSparseOffset, paxGNUSparseNumBytes:
			if key != sparseKeyOrder[len(sparseMap)%2] {
				return nil, &HeaderError{Reason: "sparse 0.0 offset/numbytes keys out of order"}
			}
			sparseMap = append(sparseMap, value)
		default:
			// a record with an empty value deletes the key
			if len(value) > 0 {
				records[key] = value
			} else {
				delete(records, key)
			}
		}
	}

	if len(sparseMap) > 0 {
		if len(sparseMap)%2 != 0 {
			return nil, &HeaderError{Reason: "sparse 0.0 offset key without a following numbytes"}
		}
		records[paxGNUSparseMap] = strings.Join(sparseMap, ",")
	}
	return records, nil
}

// applyPAXRecords overlays extended header values onto the entry. Recognized
// keys overwrite the corresponding field; every key is preserved verbatim in
// PAXRecords for later inspection.
func (e *Entry) applyPAXRecords(records map[string]string) error {
	for key, value := range records {
		switch key {
		case paxPath:
			e.Name = value
		case paxLinkpath:
			e.Linkname = value
		case paxUname:
			e.Uname = value
		case paxGname:
			e.Gname = value
		case paxUID:
			uid, err := parsePAXDecimal(key, value)
			if err != nil {
				return err
			}
			e.UID = int(uid)
		case paxGID:
			gid, err := parsePAXDecimal(key, value)
			if err != nil {
				return err
			}
			e.GID = int(gid)
		case paxSize:
			size, err := parsePAXDecimal(key, value)
			if err != nil {
				return err
			}
			e.Size = size
			e.realSize = size
		case paxMtime:
			t, err := parsePAXTime(value)
			if err != nil {
				return err
			}
			e.ModTime = t
		case paxAtime:
			t, err := parsePAXTime(value)
			if err != nil {
				return err
			}
			e.AccessTime = t
		case paxCtime:
			t, err := parsePAXTime(value)
			if err != nil {
				return err
			}
			e.ChangeTime = t
		}
		if e.PAXRecords == nil {
			e.PAXRecords = make(map[string]string)
		}
		e.PAXRecords[key] = value
	}
	return nil
}

func parsePAXDecimal(key, value string) (int64, error) {
	x, err := strconv.ParseInt(value, 10, 64)
	if err != nil || x < 0 {
		return 0, &HeaderError{Reason: fmt.Sprintf("invalid PAX %s value %q", key, value)}
	}
	return x, nil
}

// parsePAXTime decodes a "%d.%d" timestamp. The value may be fractional, but
// only the integer seconds component is kept.
func parsePAXTime(value string) (time.Time, error) {
	secsStr := value
	if pos := strings.IndexByte(value, '.'); pos != -1 {
		secsStr = value[:pos]
		frac := value[pos+1:]
		if strings.Trim(frac, "0123456789") != "" {
			return time.Time{}, &HeaderError{Reason: fmt.Sprintf("invalid PAX time %q", value)}
		}
	}
	var secs int64
	if len(secsStr) > 0 {
		var err error
		if secs, err = strconv.ParseInt(secsStr, 10, 64); err != nil {
			return time.Time{}, &HeaderError{Reason: fmt.Sprintf("invalid PAX time %q", value)}
		}
	}
	return time.Unix(secs, 0), nil
}

// parseGNUSparseMap01 expands the comma-separated offset/numbytes list of the
// sparse 0.1 dialect (which the 0.0 key pairs are folded into as well).
func parseGNUSparseMap01(records map[string]string) ([]SparseExtent, error) {
	numEntries, err := strconv.ParseInt(records[paxGNUSparseNumBlocks], 10, 0)
	if err != nil || numEntries < 0 || int(2*numEntries) < int(numEntries) {
		return nil, &HeaderError{Reason: "invalid sparse map block count"}
	}

	sparseMap := strings.Split(records[paxGNUSparseMap], ",")
	if len(sparseMap) != int(2*numEntries) {
		return nil, &HeaderError{Reason: "sparse map length disagrees with block count"}
	}

	extents := make([]SparseExtent, 0, numEntries)
	for i := int64(0); i < numEntries; i++ {
		offset, err := strconv.ParseInt(sparseMap[2*i], 10, 64)
		if err != nil {
			return nil, &HeaderError{Reason: fmt.Sprintf("invalid sparse map offset %q", sparseMap[2*i])}
		}
		numBytes, err := strconv.ParseInt(sparseMap[2*i+1], 10, 64)
		if err != nil {
			return nil, &HeaderError{Reason: fmt.Sprintf("invalid sparse map length %q", sparseMap[2*i+1])}
		}
		extents = append(extents, SparseExtent{Offset: offset, NumBytes: numBytes})
	}
	return extents, nil
}

// formatPAXRecord encodes one "%d %s=%s\n" record, where the length prefix
// counts the entire record including its own digits.
func formatPAXRecord(key, value string) string {
	const padding = 3 // space, '=', and newline
	size := len(key) + len(value) + padding
	size += len(strconv.Itoa(size))
	rec := strconv.Itoa(size) + " " + key + "=" + value + "\n"

	// dragging the length into the record may have grown its own digit count
	if len(rec) != size {
		size = len(rec)
		rec = strconv.Itoa(size) + " " + key + "=" + value + "\n"
	}
	return rec
}
