package message

import (
	"fmt"
	"strings"
)

// Options is a list of options kept ordered by OptionID. Options with the same
// ID keep their insertion order, which is what makes Uri-Path segments ordered.
type Options []Option

// Add inserts the option after all options with a lower or equal ID.
func (options Options) Add(opt Option) Options {
	idx := len(options)
	for i, o := range options {
		if o.ID > opt.ID {
			idx = i
			break
		}
	}
	options = append(options, Option{})
	copy(options[idx+1:], options[idx:])
	options[idx] = opt
	return options
}

// Remove drops all options with the given ID.
func (options Options) Remove(id OptionID) Options {
	out := make(Options, 0, len(options))
	for _, o := range options {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return out
}

// Find returns the half-open range [first, last) of options with the given ID.
func (options Options) Find(id OptionID) (int, int, error) {
	first := -1
	last := -1
	for i, o := range options {
		if o.ID == id {
			if first < 0 {
				first = i
			}
			last = i + 1
		}
	}
	if first < 0 {
		return -1, -1, ErrOptionNotFound
	}
	return first, last, nil
}

// AddPathSegment appends one Uri-Path segment.
func (options Options) AddPathSegment(segment string) (Options, error) {
	if len(segment) > maxPathValue {
		return options, fmt.Errorf("path segment %q: %w", segment, ErrInvalidValueLength)
	}
	return options.Add(Option{ID: URIPath, Value: []byte(segment)}), nil
}

// SetPath replaces the Uri-Path options by the segments of a '/' separated path.
func (options Options) SetPath(path string) (Options, error) {
	o := options.Remove(URIPath)
	path = strings.TrimPrefix(path, "/")
	if len(path) == 0 {
		return o, nil
	}
	for _, segment := range strings.Split(path, "/") {
		var err error
		o, err = o.AddPathSegment(segment)
		if err != nil {
			return options, err
		}
	}
	return o, nil
}

// PathSegments returns the Uri-Path segments in order.
func (options Options) PathSegments() ([]string, error) {
	first, last, err := options.Find(URIPath)
	if err != nil {
		return nil, err
	}
	segments := make([]string, 0, last-first)
	for i := first; i < last; i++ {
		segments = append(segments, string(options[i].Value))
	}
	return segments, nil
}

// Path returns the Uri-Path segments joined by '/'.
func (options Options) Path() (string, error) {
	segments, err := options.PathSegments()
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "/"), nil
}

// Marshal encodes options into buf. When buf is too small it returns the
// required length together with ErrTooSmall.
func (options Options) Marshal(buf []byte) (int, error) {
	previousID := OptionID(0)
	length := 0
	for _, o := range options {
		size, err := o.Size(previousID)
		if err != nil {
			return -1, err
		}
		length += size
		previousID = o.ID
	}
	if len(buf) < length {
		return length, ErrTooSmall
	}
	previousID = 0
	offset := 0
	for _, o := range options {
		n, err := o.Marshal(buf[offset:], previousID)
		if err != nil {
			return -1, err
		}
		offset += n
		previousID = o.ID
	}
	return length, nil
}

// Unmarshal decodes options from data until the payload marker or the end of
// data. The returned length includes the payload marker, which must be
// followed by at least one byte. Values alias data.
func (options *Options) Unmarshal(data []byte) (int, error) {
	prev := 0
	processed := 0
	for len(data) > 0 {
		if data[0] == 0xff {
			if len(data) == 1 {
				return -1, ErrPayloadMarkerWithoutPayload
			}
			processed++
			break
		}

		delta := int(data[0] >> 4)
		length := int(data[0] & 0x0f)

		if delta == ExtendOptionError || length == ExtendOptionError {
			return -1, ErrOptionUnexpectedExtendMarker
		}

		data = data[1:]
		processed++

		proc, delta, err := parseExtOpt(data, delta)
		if err != nil {
			return -1, err
		}
		processed += proc
		data = data[proc:]
		proc, length, err = parseExtOpt(data, length)
		if err != nil {
			return -1, err
		}
		processed += proc
		data = data[proc:]

		if len(data) < length {
			return -1, ErrOptionTruncated
		}

		id := prev + delta
		*options = append(*options, Option{ID: OptionID(id), Value: data[:length]})
		processed += length
		data = data[length:]
		prev = id
	}
	return processed, nil
}
