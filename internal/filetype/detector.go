package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info describes a detected file.
type Info struct {
	MIMEType    string
	Extension   string
	Paginated   bool // multi-page layout format (PDF, EPUB, XPS, ...)
	IsPDF       bool
	Supported   bool
	Description string
}

// Detector classifies files by magic bytes for the page decoder.
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

// Detect inspects the file content, falling back to the extension only for
// ZIP containers whose layout mimetype does not recognise.
func (d *Detector) Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	mimeType := mtype.String()
	extension := mtype.Extension()
	log.Debug().Str("mime", mimeType).Str("ext", extension).Str("file", filePath).Msg("detected file type")

	if mimeType == "application/zip" || strings.Contains(mimeType, "application/x-zip") {
		ext := strings.ToLower(filepath.Ext(filePath))
		switch ext {
		case ".cbz":
			mimeType = "application/vnd.comicbook+zip"
			extension = ".cbz"
		case ".epub":
			mimeType = "application/epub+zip"
			extension = ".epub"
		case ".oxps":
			mimeType = "application/oxps"
			extension = ".oxps"
		default:
			log.Warn().Str("ext", ext).Msg("ZIP file with unrecognized extension")
		}
		if mimeType != "application/zip" {
			log.Debug().Str("original", mtype.String()).Str("override", mimeType).Msg("overriding ZIP detection based on extension")
		}
	}

	info := &Info{MIMEType: mimeType, Extension: extension}
	classify(info)
	return info, nil
}

// Supported reports whether the decoder can open the file at filePath.
func (d *Detector) Supported(filePath string) (*Info, error) {
	info, err := d.Detect(filePath)
	if err != nil {
		return nil, err
	}
	if !info.Supported {
		return info, fmt.Errorf("%s", info.Description)
	}
	return info, nil
}

func classify(info *Info) {
	m := info.MIMEType
	info.Supported = true
	switch {
	case m == "application/pdf":
		info.Paginated, info.IsPDF = true, true
		info.Description = "PDF document"
	case m == "application/epub+zip":
		info.Paginated = true
		info.Description = "EPUB book"
	case m == "application/vnd.ms-xpsdocument", m == "application/oxps":
		info.Paginated = true
		info.Description = "XPS document"
	case m == "application/vnd.comicbook+zip":
		info.Paginated = true
		info.Description = "Comic book archive"
	case m == "application/x-fictionbook+xml":
		info.Paginated = true
		info.Description = "FictionBook"
	case m == "application/x-mobipocket-ebook":
		info.Paginated = true
		info.Description = "Mobipocket book"
	case m == "image/svg+xml":
		info.Description = "SVG image"
	case m == "image/png", m == "image/jpeg", m == "image/gif", m == "image/bmp",
		m == "image/tiff", m == "image/x-portable-anymap", m == "image/x-portable-pixmap":
		info.Description = "Raster image"
	default:
		info.Supported = false
		info.Description = fmt.Sprintf("Unsupported file type: %s", m)
	}
}
