package fixalloc

import "fmt"

// Poisonbyte fills freed blocks when "poison.onfree" is enabled.
const Poisonbyte = byte(0xde)

var poisonblkinit = make([]byte, 1024)
var zeroblkinit = make([]byte, 1024)

func init() {
	for i := 0; i < len(poisonblkinit); i++ {
		poisonblkinit[i] = Poisonbyte
	}
}

// fillblock copies the template slab over block, template length
// bound to 1KB so large blocks are filled chunk by chunk.
func fillblock(block []byte, tmpl []byte) {
	for len(block) >= len(tmpl) {
		copy(block, tmpl)
		block = block[len(tmpl):]
	}
	if len(block) > 0 {
		copy(block, tmpl[:len(block)])
	}
}

func zeroblock(block []byte) {
	fillblock(block, zeroblkinit)
}

func poisonblock(block []byte) {
	fillblock(block, poisonblkinit)
}

func alignup(size, alignment int64) int64 {
	return (size + alignment - 1) &^ (alignment - 1)
}

func ispowerof2(n int64) bool {
	return n > 0 && (n&(n-1)) == 0
}

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}
