package ffmpeg

// ThreadsPerEncode splits the host's logical CPUs across the encodes that
// run at the same time, so concurrent libx264 instances do not each claim
// every core. Zero means "let ffmpeg decide".
func ThreadsPerEncode(logicalCPUs, concurrentEncodes int) int {
	if logicalCPUs <= 0 || concurrentEncodes <= 0 {
		return 0
	}
	threads := logicalCPUs / concurrentEncodes
	if threads < 1 {
		threads = 1
	}
	return threads
}
