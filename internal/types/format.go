package types

type ColorFormat int

const (
	ColorUndefined ColorFormat = iota
	RgbResolution640x480Fps30
	RgbResolution1280x960Fps12
	YuvResolution640x480Fps15
	RawResolution640x480Fps30
)

func (f ColorFormat) String() string {
	switch f {
	case RgbResolution640x480Fps30:
		return "RgbResolution640x480Fps30"
	case RgbResolution1280x960Fps12:
		return "RgbResolution1280x960Fps12"
	case YuvResolution640x480Fps15:
		return "YuvResolution640x480Fps15"
	case RawResolution640x480Fps30:
		return "RawResolution640x480Fps30"
	default:
		return "Undefined"
	}
}

// PixelDataLength is the colour buffer size in bytes, 0 if unknown.
func (f ColorFormat) PixelDataLength() int {
	switch f {
	case RgbResolution640x480Fps30:
		return 640 * 480 * 4
	case RgbResolution1280x960Fps12:
		return 1280 * 960 * 4
	case YuvResolution640x480Fps15:
		return 640 * 480 * 2
	case RawResolution640x480Fps30:
		return 640 * 480
	default:
		return 0
	}
}

type DepthFormat int

const (
	DepthUndefined DepthFormat = iota
	Resolution80x60Fps30
	Resolution320x240Fps30
	Resolution640x480Fps30
)

func (f DepthFormat) String() string {
	switch f {
	case Resolution80x60Fps30:
		return "Resolution80x60Fps30"
	case Resolution320x240Fps30:
		return "Resolution320x240Fps30"
	case Resolution640x480Fps30:
		return "Resolution640x480Fps30"
	default:
		return "Undefined"
	}
}

// PixelDataLength is the depth buffer size in samples, 0 if unknown.
func (f DepthFormat) PixelDataLength() int {
	switch f {
	case Resolution80x60Fps30:
		return 80 * 60
	case Resolution320x240Fps30:
		return 320 * 240
	case Resolution640x480Fps30:
		return 640 * 480
	default:
		return 0
	}
}

func ParseColorFormat(name string) (ColorFormat, bool) {
	for f := RgbResolution640x480Fps30; f <= RawResolution640x480Fps30; f++ {
		if f.String() == name {
			return f, true
		}
	}
	return ColorUndefined, false
}

func ParseDepthFormat(name string) (DepthFormat, bool) {
	for f := Resolution80x60Fps30; f <= Resolution640x480Fps30; f++ {
		if f.String() == name {
			return f, true
		}
	}
	return DepthUndefined, false
}
