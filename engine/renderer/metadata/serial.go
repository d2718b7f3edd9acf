package metadata

// Serial marks a point in queue submission order. Serials handed out by the
// queue start at 1 and only ever grow; the zero value means "never submitted".
type Serial uint64

const InvalidSerial Serial = 0

func (s Serial) Valid() bool {
	return s != InvalidSerial
}
