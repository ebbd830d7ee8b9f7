package kernel

// Memset sets every byte of buf to the supplied value. Instead of using a
// for loop, this function uses log2(len(buf)) copy calls which is
// considerably faster for page-sized buffers.
func Memset(buf []byte, value byte) {
	if len(buf) == 0 {
		return
	}

	buf[0] = value
	for index := 1; index < len(buf); index *= 2 {
		copy(buf[index:], buf[:index])
	}
}
