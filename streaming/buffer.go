package streaming

import (
	"math"
	"time"
)

const (
	TargetSampleRate = 24000
	ChunkMs          = 100
)

// SamplesPerChunk returns how many samples at rate make one chunk of chunkMs.
func SamplesPerChunk(rate, chunkMs int) int {
	return rate * chunkMs / 1000
}

// Downsample averages groups of from/to samples. Only integer ratios are
// supported; anything else returns samples unchanged, so callers check
// SupportedRate up front.
func Downsample(samples []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || from%to != 0 {
		return samples
	}

	ratio := from / to
	out := make([]int16, 0, (len(samples)+ratio-1)/ratio)
	for i := 0; i < len(samples); i += ratio {
		end := min(i+ratio, len(samples))
		var sum int64
		for _, s := range samples[i:end] {
			sum += int64(s)
		}
		out = append(out, int16(sum/int64(end-i)))
	}
	return out
}

type Chunk struct {
	Samples    []int16
	CapturedAt time.Time
	Seq        uint64
}

func (c Chunk) DurationMs(rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(len(c.Samples)) * 1000 / int64(rate)
}

// Buffer keeps the most recent chunks up to a fixed duration, evicting the
// oldest first. It is not safe for concurrent use.
type Buffer struct {
	chunks    []Chunk
	maxChunks int
	nextSeq   uint64
	rate      int
}

func NewBuffer(maxSeconds float64, rate, chunkMs int) *Buffer {
	maxChunks := int(math.Ceil(maxSeconds * 1000 / float64(chunkMs)))
	if maxChunks < 1 {
		maxChunks = 1
	}
	return &Buffer{
		chunks:    make([]Chunk, 0, maxChunks),
		maxChunks: maxChunks,
		rate:      rate,
	}
}

// Push appends samples as a new chunk and returns its sequence number.
func (b *Buffer) Push(samples []int16) uint64 {
	if len(b.chunks) >= b.maxChunks {
		copy(b.chunks, b.chunks[1:])
		b.chunks = b.chunks[:len(b.chunks)-1]
	}
	seq := b.nextSeq
	b.nextSeq++
	b.chunks = append(b.chunks, Chunk{Samples: samples, CapturedAt: time.Now(), Seq: seq})
	return seq
}

// DrainAll returns the retained chunks oldest first and empties the buffer.
func (b *Buffer) DrainAll() []Chunk {
	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	b.chunks = b.chunks[:0]
	return out
}

func (b *Buffer) Len() int        { return len(b.chunks) }
func (b *Buffer) IsEmpty() bool   { return len(b.chunks) == 0 }
func (b *Buffer) Cap() int        { return b.maxChunks }
func (b *Buffer) NextSeq() uint64 { return b.nextSeq }
func (b *Buffer) Clear()          { b.chunks = b.chunks[:0] }

func (b *Buffer) DurationMs() int64 {
	var total int64
	for _, c := range b.chunks {
		total += c.DurationMs(b.rate)
	}
	return total
}

func (b *Buffer) MemoryBytes() int {
	total := 0
	for _, c := range b.chunks {
		total += len(c.Samples) * 2
	}
	return total
}

// Chunker resamples incoming capture buffers to the target rate and cuts them
// into fixed-size chunks.
type Chunker struct {
	sourceRate int
	targetRate int
	size       int
	pending    []int16
}

func NewChunker(sourceRate, targetRate, chunkMs int) *Chunker {
	size := SamplesPerChunk(targetRate, chunkMs)
	if size < 1 {
		size = 1
	}
	return &Chunker{
		sourceRate: sourceRate,
		targetRate: targetRate,
		size:       size,
		pending:    make([]int16, 0, size*2),
	}
}

func (c *Chunker) ChunkSize() int { return c.size }

// Push returns every complete chunk available after adding samples.
func (c *Chunker) Push(samples []int16) [][]int16 {
	c.pending = append(c.pending, Downsample(samples, c.sourceRate, c.targetRate)...)
	var ready [][]int16
	for len(c.pending) >= c.size {
		chunk := make([]int16, c.size)
		copy(chunk, c.pending[:c.size])
		c.pending = c.pending[c.size:]
		ready = append(ready, chunk)
	}
	return ready
}

// Flush returns the leftover partial chunk, or nil.
func (c *Chunker) Flush() []int16 {
	if len(c.pending) == 0 {
		return nil
	}
	tail := make([]int16, len(c.pending))
	copy(tail, c.pending)
	c.pending = c.pending[:0]
	return tail
}
