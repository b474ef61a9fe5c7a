package model

// Itoa formats an int without going through strconv; Redis key assembly
// calls it on every write.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}

	neg := n < 0
	if neg {
		n = -n
	}

	var buf [20]byte
	at := len(buf)
	for ; n > 0; n /= 10 {
		at--
		buf[at] = byte('0' + n%10)
	}
	if neg {
		at--
		buf[at] = '-'
	}
	return string(buf[at:])
}
