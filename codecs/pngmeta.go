package codecs

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/baranov1ch/squim-sub000/ioutil"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// scanPNGMetadata walks data's chunk stream, collecting an inflated iCCP
// profile, a raw eXIf payload, and the text of an iTXt chunk keyed
// "XML:com.adobe.xmp" (the PNG XMP convention) into meta. data must be a
// complete PNG file starting at the 8-byte signature; a truncated or
// unparseable chunk stream stops the scan early rather than erroring, since
// a broken metadata chunk shouldn't fail a decode that otherwise succeeded.
func scanPNGMetadata(data []byte, meta *ImageMetadata) error {
	if len(data) < 8 || !bytes.Equal(data[:8], pngSignature) {
		return nil
	}
	i := 8
	for i+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		typ := string(data[i+4 : i+8])
		start := i + 8
		if length < 0 || start+length+4 > len(data) {
			return nil
		}
		chunk := data[start : start+length]
		i = start + length + 4 // skip the trailing CRC

		switch typ {
		case "iCCP":
			profile, err := parsePNGICCP(chunk)
			if err != nil {
				return fmt.Errorf("png: iCCP: %v", err)
			}
			if profile != nil {
				meta.Append(MetaICC, ioutil.NewCopiedChunk(profile))
			}
		case "eXIf":
			meta.Append(MetaEXIF, ioutil.NewCopiedChunk(chunk))
		case "iTXt":
			if xmp, ok := parsePNGXMPText(chunk); ok {
				meta.Append(MetaXMP, ioutil.NewCopiedChunk(xmp))
			}
		case "IEND":
			return nil
		}
	}
	return nil
}

// parsePNGICCP splits an iCCP chunk into its null-terminated profile name,
// compression method byte (always 0, zlib/deflate), and inflates the
// remainder.
func parsePNGICCP(chunk []byte) ([]byte, error) {
	nul := bytes.IndexByte(chunk, 0)
	if nul < 0 || nul+2 > len(chunk) {
		return nil, nil
	}
	compressed := chunk[nul+2:]
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// parsePNGXMPText extracts the XMP packet from an iTXt chunk whose keyword
// is "XML:com.adobe.xmp", decompressing it first if the chunk's compression
// flag is set.
func parsePNGXMPText(chunk []byte) ([]byte, bool) {
	nul := bytes.IndexByte(chunk, 0)
	if nul < 0 || string(chunk[:nul]) != "XML:com.adobe.xmp" {
		return nil, false
	}
	rest := chunk[nul+1:]
	if len(rest) < 2 {
		return nil, false
	}
	compressed := rest[0] != 0
	rest = rest[2:]

	idx := bytes.IndexByte(rest, 0) // language tag
	if idx < 0 {
		return nil, false
	}
	rest = rest[idx+1:]

	idx = bytes.IndexByte(rest, 0) // translated keyword
	if idx < 0 {
		return nil, false
	}
	text := rest[idx+1:]

	if !compressed {
		return text, true
	}
	zr, err := zlib.NewReader(bytes.NewReader(text))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return nil, false
	}
	return inflated, true
}
