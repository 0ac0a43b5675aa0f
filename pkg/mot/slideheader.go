package mot

import "fmt"

// SlideParams carries the optional sidecar extensions a .sls_params file
// may supply for one slide header.
type SlideParams struct {
	HasCategory   bool
	CategoryID    uint8
	SlideID       uint8
	CategoryTitle string
	ClickThroughURL        string
	AlternativeLocationURL string
}

// BuildSlideHeader constructs the MOT header for a slide of bodySize bytes
// with ContentName "NNNN.jpg"/"NNNN.png" (fidx zero-padded to 4 digits),
// TriggerTime=NOW, and any sidecar parameter extensions.
func BuildSlideHeader(bodySize, fidx int, jfifNotPNG bool, params SlideParams) *Header {
	subtype := SubtypePNG
	ext := "png"
	if jfifNotPNG {
		subtype = SubtypeJFIF
		ext = "jpg"
	}

	h := NewHeader(bodySize, ContentTypeImage, subtype)

	h.AddExtension(ParamTriggerTime, []byte{0x00, 0x00, 0x00, 0x00})

	contentName := []byte(fmt.Sprintf("%04d.%s", fidx%10000, ext))
	cn := make([]byte, 1+len(contentName))
	cn[0] = CharsetCompleteEBULatin << 4
	copy(cn[1:], contentName)
	h.AddExtension(ParamContentName, cn)

	if params.HasCategory {
		h.AddExtension(ParamCategoryIDSlideID, []byte{params.CategoryID, params.SlideID})
	}
	if params.CategoryTitle != "" {
		h.AddExtension(ParamCategoryTitle, []byte(params.CategoryTitle))
	}
	if params.ClickThroughURL != "" {
		h.AddExtension(ParamClickThroughURL, []byte(params.ClickThroughURL))
	}
	if params.AlternativeLocationURL != "" {
		h.AddExtension(ParamAlternativeLocationURL, []byte(params.AlternativeLocationURL))
	}

	return h
}
