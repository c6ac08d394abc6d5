package link

// FrameCount returns how many frames a packet of n bytes needs at the given
// per-frame capacity. An empty packet still takes one frame. A capacity
// below 1 carries nothing and yields 0.
func FrameCount(n, capacity int) int {
	if capacity < 1 {
		return 0
	}
	if n <= 0 {
		return 1
	}
	count := n / capacity
	if n%capacity != 0 {
		count++
	}
	return count
}

// Fragment splits payload into consecutive chunks of at most capacity bytes.
// The chunks alias payload. An empty payload yields one empty chunk and a
// capacity below 1 yields nil.
func Fragment(payload []byte, capacity int) [][]byte {
	count := FrameCount(len(payload), capacity)
	if count == 0 {
		return nil
	}
	chunks := make([][]byte, count)

	for i := 0; i < count; i++ {
		start := i * capacity
		end := start + capacity
		if end > len(payload) {
			end = len(payload)
		}
		chunks[i] = payload[start:end]
	}

	return chunks
}
