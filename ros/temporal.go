package ros

const maxUint32 = int64(^uint32(0))

func normalizeTemporal(sec int64, nsec int64) (uint32, uint32) {
	const SecondInNanosecond = 1000000000
	if nsec > SecondInNanosecond {
		sec += nsec / SecondInNanosecond
		nsec = nsec % SecondInNanosecond
	} else if nsec < 0 {
		sec += nsec/SecondInNanosecond - 1
		nsec = nsec%SecondInNanosecond + SecondInNanosecond
	}

	if sec < 0 || sec > maxUint32 {
		panic("Time is out of range")
	}

	return uint32(sec), uint32(nsec)
}

// temporal is the wire form of ROS time values. Both components are
// integers on the wire; rosbridge rejects float stamps.
type temporal struct {
	Sec  uint32 `json:"secs"`
	NSec uint32 `json:"nsecs"`
}

func (t *temporal) IsZero() bool {
	return t.Sec == 0 && t.NSec == 0
}

func (t *temporal) FromNSec(nsec uint64) {
	t.Sec, t.NSec = normalizeTemporal(0, int64(nsec))
}
