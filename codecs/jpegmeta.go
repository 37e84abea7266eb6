package codecs

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/baranov1ch/squim-sub000/ioutil"
)

// JPEG APPn segment markers and the identifier strings spec.md §4.4 names
// for locating ICC/EXIF/XMP payloads within them.
const (
	jpegMarkerAPP1 = 0xE1
	jpegMarkerAPP2 = 0xE2
	jpegMarkerSOS  = 0xDA
	jpegMarkerEOI  = 0xD9
)

var (
	jpegICCTag  = []byte("ICC_PROFILE\x00")
	jpegEXIFTag = []byte("Exif\x00\x00")
	jpegXMPTag  = []byte("http://ns.adobe.com/xap/1.0/\x00")
)

type jpegICCSegment struct {
	seq, total int
	data       []byte
}

// scanJPEGMetadata walks data's marker segments up to the first scan (SOS)
// or EOI, collecting EXIF (APP1, "Exif\0\0") and XMP (APP1,
// "http://ns.adobe.com/xap/1.0/\0") payloads directly, and ICC (APP2,
// "ICC_PROFILE\0") payloads reassembled in sequence-number order. data must
// be a complete JPEG file starting at the SOI marker; malformed marker
// framing is tolerated by stopping the scan early rather than erroring,
// since a truncated metadata segment shouldn't fail a decode that otherwise
// succeeded. A gap or duplicate in the ICC segment numbering is reported as
// an error per spec.md §4.4.
func scanJPEGMetadata(data []byte, meta *ImageMetadata) error {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	var iccSegs []jpegICCSegment
	i := 2
	for i+1 < len(data) {
		if data[i] != 0xFF {
			break
		}
		for i < len(data) && data[i] == 0xFF {
			i++
		}
		if i >= len(data) {
			break
		}
		marker := data[i]
		i++
		if marker == jpegMarkerEOI || marker == jpegMarkerSOS {
			break
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			continue
		}
		if i+2 > len(data) {
			break
		}
		segLen := int(data[i])<<8 | int(data[i+1])
		if segLen < 2 || i+segLen > len(data) {
			break
		}
		payload := data[i+2 : i+segLen]
		i += segLen

		switch marker {
		case jpegMarkerAPP2:
			if len(payload) > len(jpegICCTag)+2 && bytes.HasPrefix(payload, jpegICCTag) {
				rest := payload[len(jpegICCTag):]
				iccSegs = append(iccSegs, jpegICCSegment{
					seq:   int(rest[0]),
					total: int(rest[1]),
					data:  rest[2:],
				})
			}
		case jpegMarkerAPP1:
			switch {
			case bytes.HasPrefix(payload, jpegEXIFTag):
				meta.Append(MetaEXIF, ioutil.NewCopiedChunk(payload[len(jpegEXIFTag):]))
			case bytes.HasPrefix(payload, jpegXMPTag):
				meta.Append(MetaXMP, ioutil.NewCopiedChunk(payload[len(jpegXMPTag):]))
			}
		}
	}
	return reassembleJPEGICC(iccSegs, meta)
}

func reassembleJPEGICC(segs []jpegICCSegment, meta *ImageMetadata) error {
	if len(segs) == 0 {
		return nil
	}
	total := segs[0].total
	seen := make(map[int]bool, len(segs))
	for _, s := range segs {
		if s.total != total {
			return fmt.Errorf("jpeg: ICC profile segment count mismatch (%d vs %d)", s.total, total)
		}
		if s.seq < 1 || s.seq > total {
			return fmt.Errorf("jpeg: ICC profile segment number %d out of range [1,%d]", s.seq, total)
		}
		if seen[s.seq] {
			return fmt.Errorf("jpeg: duplicate ICC profile segment number %d", s.seq)
		}
		seen[s.seq] = true
	}
	for seq := 1; seq <= total; seq++ {
		if !seen[seq] {
			return fmt.Errorf("jpeg: missing ICC profile segment number %d", seq)
		}
	}
	sort.Slice(segs, func(a, b int) bool { return segs[a].seq < segs[b].seq })
	for _, s := range segs {
		meta.Append(MetaICC, ioutil.NewCopiedChunk(s.data))
	}
	return nil
}
